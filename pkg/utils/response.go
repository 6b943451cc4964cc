package utils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"pipeline-crm-backend/pkg/apperrors"
)

// APIResponse is the envelope every endpoint answers with
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// APIError describes a failure
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Meta carries listing metadata
type Meta struct {
	Total int `json:"total,omitempty"`
}

// WriteJSONResponse writes data in the success envelope
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeEnvelope(w, statusCode, APIResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	})
}

func writeEnvelope(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func WriteSuccessResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusOK, data)
}

func WriteCreatedResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusCreated, data)
}

// WriteListResponse writes a list with its length in meta
func WriteListResponse(w http.ResponseWriter, data interface{}, total int) {
	writeEnvelope(w, http.StatusOK, APIResponse{Success: true, Data: data, Meta: &Meta{Total: total}})
}

// WriteErrorResponseWithCode writes an error envelope
func WriteErrorResponseWithCode(w http.ResponseWriter, statusCode int, code, message, details string) {
	writeEnvelope(w, statusCode, APIResponse{
		Error: &APIError{Code: code, Message: message, Details: details},
	})
}

func WriteBadRequestResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusBadRequest, string(apperrors.InvalidInput), message, "")
}

func WriteUnauthorizedResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", message, "")
}

func WriteInternalServerErrorResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", message, "")
}

// StatusFor maps an error kind onto its HTTP status
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.InvalidInput:
		return http.StatusBadRequest
	case apperrors.Forbidden, apperrors.EmailMismatch:
		return http.StatusForbidden
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.AlreadyMember, apperrors.AlreadyUsed:
		return http.StatusConflict
	case apperrors.Expired:
		return http.StatusGone
	}
	return http.StatusServiceUnavailable
}

// ErrorOptions tune how WriteAppError renders details
type ErrorOptions struct {
	// SignInURL is the login page an EmailMismatch points to
	SignInURL string
	// Debug exposes the underlying cause in details
	Debug bool
}

// WriteAppError renders a classified error. Raw causes stay out of the body
// unless opts.Debug is set.
func WriteAppError(w http.ResponseWriter, err error, opts ErrorOptions) {
	appErr := apperrors.From(err)
	details := ""
	switch {
	case appErr.Kind == apperrors.EmailMismatch && opts.SignInURL != "":
		details = SignInLink(opts.SignInURL, appErr.Metadata["email"])
	case opts.Debug && appErr.Cause != nil:
		details = appErr.Cause.Error()
	}
	writeEnvelope(w, StatusFor(appErr.Kind), APIResponse{
		Error: &APIError{
			Code:      string(appErr.Kind),
			Message:   appErr.Message,
			Details:   details,
			Retryable: appErr.Kind.Retryable(),
		},
	})
}

// SignInLink pre-fills the sign-in page with email
func SignInLink(base, email string) string {
	if email == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "email=" + url.QueryEscape(email)
}

// ParseJSONBody decodes the request body into v. An empty body is an error.
func ParseJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.New(apperrors.InvalidInput, "request body is required")
		}
		return apperrors.Wrap(apperrors.InvalidInput, "invalid JSON body", err)
	}
	return nil
}

// GetQueryParam returns the query value for key or defaultValue
func GetQueryParam(r *http.Request, key, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}
