// Package client calls the pipeline CRM HTTP API. Failures come back as
// *apperrors.Error carrying the kind the server reported, so callers can
// branch on apperrors.Is the same way server-side code does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/invitations"
	"pipeline-crm-backend/pkg/models"
)

// Client holds the API base URL and the bearer token of the signed-in user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

// do sends one API call and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, "server unreachable, please retry", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, "failed to read response", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperrors.Wrap(apperrors.PersistenceError,
			fmt.Sprintf("unexpected response (status %d)", resp.StatusCode), err)
	}
	if !env.Success || resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, &env)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func decodeError(status int, env *envelope) error {
	if env.Error == nil {
		return apperrors.Newf(kindForStatus(status), "request failed with status %d", status)
	}
	kind := apperrors.Kind(env.Error.Code)
	switch kind {
	case apperrors.InvalidInput, apperrors.Forbidden, apperrors.NotFound, apperrors.AlreadyMember,
		apperrors.AlreadyUsed, apperrors.Expired, apperrors.EmailMismatch, apperrors.PersistenceError:
	default:
		kind = kindForStatus(status)
	}
	e := apperrors.New(kind, env.Error.Message)
	if env.Error.Details != "" {
		e = e.WithMetadata("details", env.Error.Details)
	}
	return e
}

func kindForStatus(status int) apperrors.Kind {
	switch status {
	case http.StatusBadRequest:
		return apperrors.InvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.Forbidden
	case http.StatusNotFound:
		return apperrors.NotFound
	case http.StatusGone:
		return apperrors.Expired
	}
	return apperrors.PersistenceError
}

// LoadBoard fetches the stream's boards with columns and entries in display order.
func (c *Client) LoadBoard(ctx context.Context, streamID string) ([]models.BoardView, error) {
	var boards []models.BoardView
	err := c.do(ctx, http.MethodGet, "/api/boards?stream_id="+url.QueryEscape(streamID), nil, &boards)
	return boards, err
}

// MoveEntry appends entryID to the end of toColumnID.
func (c *Client) MoveEntry(ctx context.Context, entryID, fromColumnID, toColumnID string) (*models.Entry, error) {
	var entry models.Entry
	err := c.do(ctx, http.MethodPatch, "/api/board-entries/"+url.PathEscape(entryID), map[string]string{
		"from_column_id": fromColumnID,
		"column_id":      toColumnID,
	}, &entry)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ReorderEntry places entryID at index among columnID's entries.
func (c *Client) ReorderEntry(ctx context.Context, entryID, columnID string, index int) (*models.Entry, error) {
	var entry models.Entry
	err := c.do(ctx, http.MethodPatch, "/api/board-entries/"+url.PathEscape(entryID), map[string]interface{}{
		"column_id": columnID,
		"index":     index,
	}, &entry)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListStreams returns the streams the signed-in user belongs to.
func (c *Client) ListStreams(ctx context.Context) ([]models.Stream, error) {
	var streams []models.Stream
	err := c.do(ctx, http.MethodGet, "/api/streams", nil, &streams)
	return streams, err
}

// ResolveInvitation reads the invitation behind token. It works without a session.
func (c *Client) ResolveInvitation(ctx context.Context, token string) (*models.InvitationView, error) {
	var out struct {
		Invitation models.InvitationView `json:"invitation"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/invitations/"+url.PathEscape(token), nil, &out); err != nil {
		return nil, err
	}
	return &out.Invitation, nil
}

// AcceptInvitation joins the stream the invitation points to.
func (c *Client) AcceptInvitation(ctx context.Context, token string) (*invitations.AcceptResult, error) {
	var res invitations.AcceptResult
	if err := c.do(ctx, http.MethodPost, "/api/invitations/"+url.PathEscape(token)+"/accept", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
