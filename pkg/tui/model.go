// Package tui is a terminal pipeline board. Entries are moved with a
// keyboard drag: grab an entry, pick a column, drop. The move shows up
// immediately and is rolled back if the server refuses it.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/board"
	"pipeline-crm-backend/pkg/models"
)

const (
	requestTimeout = 15 * time.Second
	toastDuration  = 5 * time.Second
)

// BoardAPI is the part of the HTTP client the board needs.
type BoardAPI interface {
	LoadBoard(ctx context.Context, streamID string) ([]models.BoardView, error)
	MoveEntry(ctx context.Context, entryID, fromColumnID, toColumnID string) (*models.Entry, error)
}

type boardLoadedMsg struct {
	boards []models.BoardView
	err    error
}

type moveResultMsg struct {
	drag  *board.Drag
	to    string
	entry *models.Entry
	err   error
}

type toastExpiredMsg struct{ seq int }

// failedMove is what the retry key re-sends.
type failedMove struct {
	entryID string
	to      string
}

// Model is the bubbletea model of one stream's boards.
type Model struct {
	api      BoardAPI
	streamID string
	keys     KeyMap
	help     help.Model
	spinner  spinner.Model

	boards   []models.BoardView
	boardIdx int
	col      int
	row      int

	// drag is set between grab and drop. target is the highlighted
	// destination column index.
	drag   *board.Drag
	target int

	// inFlight is the drag whose move the server has not answered yet.
	inFlight *board.Drag
	failed   *failedMove

	loading  bool
	toast    string
	toastErr bool
	toastSeq int

	width  int
	height int
}

func NewModel(api BoardAPI, streamID string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		api:      api,
		streamID: streamID,
		keys:     DefaultKeyMap,
		help:     help.New(),
		spinner:  sp,
		loading:  true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), m.spinner.Tick)
}

func (m Model) loadCmd() tea.Cmd {
	api, streamID := m.api, m.streamID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		boards, err := api.LoadBoard(ctx, streamID)
		return boardLoadedMsg{boards: boards, err: err}
	}
}

func (m Model) moveCmd(drag *board.Drag, to string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		entry, err := api.MoveEntry(ctx, drag.EntryID, drag.FromColumnID, to)
		return moveResultMsg{drag: drag, to: to, entry: entry, err: err}
	}
}

func (m *Model) showToast(text string, isErr bool) tea.Cmd {
	m.toastSeq++
	m.toast, m.toastErr = text, isErr
	seq := m.toastSeq
	return tea.Tick(toastDuration, func(time.Time) tea.Msg { return toastExpiredMsg{seq: seq} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}
		return m, nil

	case boardLoadedMsg:
		m.loading = false
		if msg.err != nil {
			return m, m.showToast("Could not load the board: "+apperrors.From(msg.err).Message, true)
		}
		// a refetch must not clobber an optimistic move still waiting on the server
		if m.inFlight == nil {
			m.boards = msg.boards
			m.clampCursor()
		}
		return m, nil

	case moveResultMsg:
		return m.handleMoveResult(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Cancel):
		// dropping outside any column is a snap-back, nothing was sent
		m.drag = nil
		return m, nil
	case key.Matches(msg, m.keys.Left):
		m.step(-1)
	case key.Matches(msg, m.keys.Right):
		m.step(1)
	case key.Matches(msg, m.keys.Up):
		if m.drag == nil && m.row > 0 {
			m.row--
		}
	case key.Matches(msg, m.keys.Down):
		if m.drag == nil {
			if col := m.column(m.col); col != nil && m.row < len(col.Entries)-1 {
				m.row++
			}
		}
	case key.Matches(msg, m.keys.NextBoard):
		if m.drag == nil && len(m.boards) > 1 {
			m.boardIdx = (m.boardIdx + 1) % len(m.boards)
			m.col, m.row = 0, 0
		}
	case key.Matches(msg, m.keys.Grab):
		return m.grabOrDrop()
	case key.Matches(msg, m.keys.Retry):
		return m.retry()
	case key.Matches(msg, m.keys.Refresh):
		if m.inFlight == nil {
			m.loading = true
			return m, m.loadCmd()
		}
	}
	return m, nil
}

// step moves the cursor, or the drop target while dragging.
func (m *Model) step(delta int) {
	cur := &m.col
	if m.drag != nil {
		cur = &m.target
	}
	next := *cur + delta
	if next < 0 || next >= m.columnCount() {
		return
	}
	*cur = next
	if m.drag == nil {
		m.clampCursor()
	}
}

func (m Model) grabOrDrop() (tea.Model, tea.Cmd) {
	if m.drag == nil {
		if m.inFlight != nil {
			return m, m.showToast("Still saving the previous move", false)
		}
		entry := m.selected()
		if entry == nil {
			return m, nil
		}
		drag, ok := board.StartDrag(m.boards, entry.ID)
		if !ok {
			return m, nil
		}
		m.drag, m.target = drag, m.col
		return m, nil
	}

	drag := m.drag
	m.drag = nil
	to := m.column(m.target)
	if to == nil {
		return m, nil
	}
	optimistic, changed := drag.Drop(to.ID)
	if !changed {
		return m, nil
	}
	m.boards = optimistic
	m.inFlight = drag
	m.failed = nil
	m.col = m.target
	m.row = len(to.Entries)
	m.clampCursor()
	return m, m.moveCmd(drag, to.ID)
}

func (m Model) handleMoveResult(msg moveResultMsg) (tea.Model, tea.Cmd) {
	m.inFlight = nil
	if msg.err != nil {
		m.boards = msg.drag.Rollback()
		m.clampCursor()
		appErr := apperrors.From(msg.err)
		text := "Move failed: " + appErr.Message
		if appErr.Kind.Retryable() {
			m.failed = &failedMove{entryID: msg.drag.EntryID, to: msg.to}
			text += " (r to retry)"
		}
		return m, m.showToast(text, true)
	}
	if msg.entry != nil {
		if bi, ci, ei, ok := board.Locate(m.boards, msg.entry.ID); ok {
			m.boards[bi].Columns[ci].Entries[ei].Position = msg.entry.Position
			m.boards[bi].Columns[ci].Entries[ei].UpdatedAt = msg.entry.UpdatedAt
		}
	}
	return m, m.loadCmd()
}

func (m Model) retry() (tea.Model, tea.Cmd) {
	if m.failed == nil || m.inFlight != nil || m.drag != nil {
		return m, nil
	}
	failed := m.failed
	m.failed = nil
	drag, ok := board.StartDrag(m.boards, failed.entryID)
	if !ok {
		return m, m.showToast("Entry is no longer on the board", true)
	}
	optimistic, changed := drag.Drop(failed.to)
	if !changed {
		return m, nil
	}
	m.boards = optimistic
	m.inFlight = drag
	m.toast = ""
	return m, m.moveCmd(drag, failed.to)
}

func (m Model) current() *models.BoardView {
	if m.boardIdx < 0 || m.boardIdx >= len(m.boards) {
		return nil
	}
	return &m.boards[m.boardIdx]
}

func (m Model) columnCount() int {
	if b := m.current(); b != nil {
		return len(b.Columns)
	}
	return 0
}

func (m Model) column(i int) *models.ColumnView {
	b := m.current()
	if b == nil || i < 0 || i >= len(b.Columns) {
		return nil
	}
	return &b.Columns[i]
}

func (m Model) selected() *models.Entry {
	col := m.column(m.col)
	if col == nil || m.row < 0 || m.row >= len(col.Entries) {
		return nil
	}
	return &col.Entries[m.row]
}

func (m *Model) clampCursor() {
	if m.boardIdx >= len(m.boards) {
		m.boardIdx = 0
	}
	if n := m.columnCount(); m.col >= n {
		m.col = max(n-1, 0)
	}
	if col := m.column(m.col); col != nil && m.row >= len(col.Entries) {
		m.row = max(len(col.Entries)-1, 0)
	}
}
