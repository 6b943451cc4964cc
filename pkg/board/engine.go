// Package board implements the pipeline board: ordered columns of entries
// with sparse integer positions, and the move and reorder protocol.
package board

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/authz"
	"pipeline-crm-backend/pkg/database"
	"pipeline-crm-backend/pkg/models"
	"pipeline-crm-backend/pkg/realtime"
)

// Store is the part of the membership store the engine uses
type Store interface {
	authz.MembershipReader

	CreateBoard(ctx context.Context, board *models.Board, columns []models.Column) error
	GetBoard(ctx context.Context, id string) (*models.Board, error)
	ListBoardsByStream(ctx context.Context, streamID string) ([]models.Board, error)
	CreateColumn(ctx context.Context, col *models.Column) error
	GetColumn(ctx context.Context, id string) (*models.Column, error)
	ListColumnsByBoards(ctx context.Context, boardIDs []string) ([]models.Column, error)
	MaxColumnPosition(ctx context.Context, boardID string) (int64, bool, error)

	CreateEntry(ctx context.Context, e *models.Entry) error
	GetEntry(ctx context.Context, id string) (*models.Entry, error)
	ListEntriesByColumns(ctx context.Context, columnIDs []string) ([]models.Entry, error)
	MaxEntryPosition(ctx context.Context, columnID string) (int64, bool, error)
	UpdateEntryPartial(ctx context.Context, entryID string, patch map[string]interface{}) (*models.Entry, error)
	RenumberColumn(ctx context.Context, columnID string, orderedIDs []string, spacing int64) error
}

const (
	TableBoards  = "boards"
	TableColumns = "board_columns"
	TableEntries = "board_entries"
)

// Engine runs board reads and writes on behalf of a user
type Engine struct {
	store     Store
	gate      *authz.Gate
	publisher realtime.Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Engine)

func WithPublisher(p realtime.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		gate:      authz.NewGate(store),
		publisher: realtime.Discard{},
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// storeErr classifies a store failure
func storeErr(err error, what string) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperrors.Newf(apperrors.NotFound, "%s not found", what)
	}
	return apperrors.Wrap(apperrors.PersistenceError, "could not save your change, please retry", err)
}

// LoadBoard returns every board of the stream with its columns and entries
// nested in display order. Any member may read.
func (e *Engine) LoadBoard(ctx context.Context, userID, streamID string) ([]models.BoardView, error) {
	if strings.TrimSpace(streamID) == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "stream_id is required")
	}
	if _, err := e.gate.Authorize(ctx, userID, streamID, authz.ReadStream); err != nil {
		return nil, err
	}

	boards, err := e.store.ListBoardsByStream(ctx, streamID)
	if err != nil {
		return nil, storeErr(err, "boards")
	}
	if len(boards) == 0 {
		return []models.BoardView{}, nil
	}
	boardIDs := make([]string, len(boards))
	for i, b := range boards {
		boardIDs[i] = b.ID
	}
	columns, err := e.store.ListColumnsByBoards(ctx, boardIDs)
	if err != nil {
		return nil, storeErr(err, "columns")
	}
	columnIDs := make([]string, len(columns))
	for i, c := range columns {
		columnIDs[i] = c.ID
	}
	entries, err := e.store.ListEntriesByColumns(ctx, columnIDs)
	if err != nil {
		return nil, storeErr(err, "entries")
	}
	return Assemble(boards, columns, entries), nil
}

// Assemble nests flat rows into board views. Columns sort by position;
// entries by position, then created_at, then id.
func Assemble(boards []models.Board, columns []models.Column, entries []models.Entry) []models.BoardView {
	byColumn := make(map[string][]models.Entry, len(columns))
	for _, en := range entries {
		byColumn[en.ColumnID] = append(byColumn[en.ColumnID], en)
	}
	byBoard := make(map[string][]models.ColumnView, len(boards))
	for _, c := range columns {
		list := byColumn[c.ID]
		if list == nil {
			list = []models.Entry{}
		}
		SortEntries(list)
		byBoard[c.BoardID] = append(byBoard[c.BoardID], models.ColumnView{Column: c, Entries: list})
	}

	views := make([]models.BoardView, 0, len(boards))
	for _, b := range boards {
		cols := byBoard[b.ID]
		if cols == nil {
			cols = []models.ColumnView{}
		}
		sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
		views = append(views, models.BoardView{Board: b, Columns: cols})
	}
	return views
}

// SortEntries applies the display order in place
func SortEntries(list []models.Entry) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// placement is an entry with its current and target columns resolved and
// the caller authorized to edit the board.
type placement struct {
	entry  *models.Entry
	target *models.Column
	board  *models.Board
}

func (e *Engine) resolve(ctx context.Context, userID, entryID, toColumnID string) (*placement, error) {
	entry, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, storeErr(err, "entry")
	}
	current, err := e.store.GetColumn(ctx, entry.ColumnID)
	if err != nil {
		return nil, storeErr(err, "column")
	}
	target := current
	if toColumnID != current.ID {
		if target, err = e.store.GetColumn(ctx, toColumnID); err != nil {
			return nil, storeErr(err, "destination column")
		}
	}
	if target.BoardID != current.BoardID {
		return nil, apperrors.New(apperrors.InvalidInput, "destination column belongs to another board")
	}
	board, err := e.store.GetBoard(ctx, current.BoardID)
	if err != nil {
		return nil, storeErr(err, "board")
	}
	if _, err := e.gate.Authorize(ctx, userID, board.StreamID, authz.EditBoard); err != nil {
		return nil, err
	}
	return &placement{entry: entry, target: target, board: board}, nil
}

// MoveEntry appends the entry to the end of toColumnID. It converges on
// the entry's actual column: fromColumnID only short-circuits the no-op
// case, so a stale source from a second client still lands the entry in
// the destination.
func (e *Engine) MoveEntry(ctx context.Context, userID, entryID, fromColumnID, toColumnID string) (*models.Entry, error) {
	if strings.TrimSpace(entryID) == "" || strings.TrimSpace(toColumnID) == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "entry id and destination column are required")
	}

	p, err := e.resolve(ctx, userID, entryID, toColumnID)
	if err != nil {
		return nil, err
	}
	if fromColumnID == toColumnID || p.entry.ColumnID == toColumnID {
		return p.entry, nil
	}
	if fromColumnID != "" && fromColumnID != p.entry.ColumnID {
		e.logger.Debug("move from stale source column", "entry_id", entryID, "from", fromColumnID, "actual", p.entry.ColumnID)
	}

	maxPos, hasAny, err := e.store.MaxEntryPosition(ctx, toColumnID)
	if err != nil {
		return nil, storeErr(err, "destination column")
	}
	updated, err := e.store.UpdateEntryPartial(ctx, entryID, map[string]interface{}{
		"column_id": toColumnID,
		"position":  NextPosition(maxPos, hasAny),
	})
	if err != nil {
		return nil, storeErr(err, "entry")
	}
	e.publish(ctx, p.board.StreamID, TableEntries, realtime.EventUpdate, updated)
	return updated, nil
}

// ReorderEntry places the entry at index among the other entries of
// columnID, moving it there first if needed. Indexes past the end append.
// When the neighbours leave no integer gap the column is renumbered.
func (e *Engine) ReorderEntry(ctx context.Context, userID, entryID, columnID string, index int) (*models.Entry, error) {
	if strings.TrimSpace(entryID) == "" || strings.TrimSpace(columnID) == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "entry id and column are required")
	}
	if index < 0 {
		return nil, apperrors.New(apperrors.InvalidInput, "index must not be negative")
	}

	p, err := e.resolve(ctx, userID, entryID, columnID)
	if err != nil {
		return nil, err
	}
	siblings, err := e.store.ListEntriesByColumns(ctx, []string{columnID})
	if err != nil {
		return nil, storeErr(err, "entries")
	}
	SortEntries(siblings)
	others := make([]models.Entry, 0, len(siblings))
	for _, s := range siblings {
		if s.ID != entryID {
			others = append(others, s)
		}
	}
	if index > len(others) {
		index = len(others)
	}

	var before, after *int64
	if index > 0 {
		before = &others[index-1].Position
	}
	if index < len(others) {
		after = &others[index].Position
	}

	var updated *models.Entry
	if pos, ok := PositionBetween(before, after); ok {
		if p.entry.ColumnID == columnID && p.entry.Position == pos {
			return p.entry, nil
		}
		updated, err = e.store.UpdateEntryPartial(ctx, entryID, map[string]interface{}{
			"column_id": columnID,
			"position":  pos,
		})
		if err != nil {
			return nil, storeErr(err, "entry")
		}
	} else {
		ordered := make([]string, 0, len(others)+1)
		for i, o := range others {
			if i == index {
				ordered = append(ordered, entryID)
			}
			ordered = append(ordered, o.ID)
		}
		if index == len(others) {
			ordered = append(ordered, entryID)
		}
		e.logger.Info("renumbering column", "column_id", columnID, "entries", len(ordered))
		if err := e.store.RenumberColumn(ctx, columnID, ordered, PositionGap); err != nil {
			return nil, storeErr(err, "column")
		}
		if updated, err = e.store.GetEntry(ctx, entryID); err != nil {
			return nil, storeErr(err, "entry")
		}
	}
	e.publish(ctx, p.board.StreamID, TableEntries, realtime.EventUpdate, updated)
	return updated, nil
}

// EntryInput carries the fields of a new entry
type EntryInput struct {
	ColumnID         string  `json:"column_id"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Priority         string  `json:"priority"`
	RevenuePotential float64 `json:"revenue_potential"`
	ContactName      string  `json:"contact_name"`
	ContactEmail     string  `json:"contact_email"`
	ContactPhone     string  `json:"contact_phone"`
	AssignedTo       *string `json:"assigned_to"`
}

func parsePriority(s string) (models.Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return models.PriorityMedium, true
	case "low":
		return models.PriorityLow, true
	case "medium":
		return models.PriorityMedium, true
	case "high":
		return models.PriorityHigh, true
	}
	return "", false
}

// CreateEntry appends a new entry to the bottom of its column
func (e *Engine) CreateEntry(ctx context.Context, userID string, in EntryInput) (*models.Entry, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || strings.TrimSpace(in.ColumnID) == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "title and column_id are required")
	}
	priority, ok := parsePriority(in.Priority)
	if !ok {
		return nil, apperrors.Newf(apperrors.InvalidInput, "unknown priority %q", in.Priority)
	}
	if in.RevenuePotential < 0 {
		return nil, apperrors.New(apperrors.InvalidInput, "revenue_potential must not be negative")
	}

	column, err := e.store.GetColumn(ctx, in.ColumnID)
	if err != nil {
		return nil, storeErr(err, "column")
	}
	board, err := e.store.GetBoard(ctx, column.BoardID)
	if err != nil {
		return nil, storeErr(err, "board")
	}
	if _, err := e.gate.Authorize(ctx, userID, board.StreamID, authz.EditBoard); err != nil {
		return nil, err
	}
	if in.AssignedTo != nil && *in.AssignedTo != "" {
		if _, err := e.store.GetMembership(ctx, board.StreamID, *in.AssignedTo); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, apperrors.New(apperrors.InvalidInput, "assignee is not a member of this stream")
			}
			return nil, storeErr(err, "assignee")
		}
	} else {
		in.AssignedTo = nil
	}

	maxPos, hasAny, err := e.store.MaxEntryPosition(ctx, column.ID)
	if err != nil {
		return nil, storeErr(err, "column")
	}
	now := e.now().UTC()
	entry := &models.Entry{
		ID:               e.newID(),
		ColumnID:         column.ID,
		Title:            title,
		Description:      strings.TrimSpace(in.Description),
		Priority:         priority,
		RevenuePotential: in.RevenuePotential,
		ContactName:      strings.TrimSpace(in.ContactName),
		ContactEmail:     strings.ToLower(strings.TrimSpace(in.ContactEmail)),
		ContactPhone:     strings.TrimSpace(in.ContactPhone),
		AssignedTo:       in.AssignedTo,
		Position:         NextPosition(maxPos, hasAny),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.CreateEntry(ctx, entry); err != nil {
		return nil, storeErr(err, "entry")
	}
	e.publish(ctx, board.StreamID, TableEntries, realtime.EventInsert, entry)
	return entry, nil
}

// CreateColumn appends a column to the right of the board
func (e *Engine) CreateColumn(ctx context.Context, userID, boardID, name string) (*models.Column, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(boardID) == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "board_id and name are required")
	}
	board, err := e.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, storeErr(err, "board")
	}
	if _, err := e.gate.Authorize(ctx, userID, board.StreamID, authz.EditBoard); err != nil {
		return nil, err
	}
	maxPos, hasAny, err := e.store.MaxColumnPosition(ctx, boardID)
	if err != nil {
		return nil, storeErr(err, "board")
	}
	col := &models.Column{
		ID:        e.newID(),
		BoardID:   boardID,
		Name:      name,
		Position:  NextPosition(maxPos, hasAny),
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.CreateColumn(ctx, col); err != nil {
		return nil, storeErr(err, "column")
	}
	e.publish(ctx, board.StreamID, TableColumns, realtime.EventInsert, col)
	return col, nil
}

// CreateBoard adds a board to the stream, seeding columns from a template
func (e *Engine) CreateBoard(ctx context.Context, userID, streamID, name, templateKey string) (*models.BoardView, error) {
	if strings.TrimSpace(streamID) == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "stream_id is required")
	}
	if _, err := e.gate.Authorize(ctx, userID, streamID, authz.EditBoard); err != nil {
		return nil, err
	}
	return e.SeedBoard(ctx, streamID, name, templateKey)
}

// SeedBoard creates a board from a template without an authorization
// check. Workspace creation calls it for the owner's first board.
func (e *Engine) SeedBoard(ctx context.Context, streamID, name, templateKey string) (*models.BoardView, error) {
	tmpl, err := LoadTemplate(templateKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InvalidInput, err.Error(), err)
	}
	if name = strings.TrimSpace(name); name == "" {
		name = tmpl.Name
	}
	now := e.now().UTC()
	b := &models.Board{ID: e.newID(), StreamID: streamID, Name: name, Type: tmpl.Type, CreatedAt: now}
	columns := make([]models.Column, len(tmpl.Columns))
	for i, colName := range tmpl.Columns {
		columns[i] = models.Column{
			ID:        e.newID(),
			BoardID:   b.ID,
			Name:      colName,
			Position:  int64(i+1) * PositionGap,
			CreatedAt: now,
		}
	}
	if err := e.store.CreateBoard(ctx, b, columns); err != nil {
		return nil, storeErr(err, "board")
	}
	e.publish(ctx, streamID, TableBoards, realtime.EventInsert, b)

	view := models.BoardView{Board: *b, Columns: make([]models.ColumnView, len(columns))}
	for i, c := range columns {
		view.Columns[i] = models.ColumnView{Column: c, Entries: []models.Entry{}}
	}
	return &view, nil
}

func (e *Engine) publish(ctx context.Context, streamID, table string, typ realtime.EventType, record interface{}) {
	e.publisher.Publish(ctx, realtime.Event{Table: table, Type: typ, StreamID: streamID, Record: record})
}
