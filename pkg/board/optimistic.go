package board

import "pipeline-crm-backend/pkg/models"

// Clone deep-copies board views so optimistic edits never alias a snapshot.
func Clone(boards []models.BoardView) []models.BoardView {
	out := make([]models.BoardView, len(boards))
	for i, b := range boards {
		out[i] = models.BoardView{Board: b.Board, Columns: make([]models.ColumnView, len(b.Columns))}
		for j, c := range b.Columns {
			entries := make([]models.Entry, len(c.Entries))
			copy(entries, c.Entries)
			out[i].Columns[j] = models.ColumnView{Column: c.Column, Entries: entries}
		}
	}
	return out
}

// Locate finds the column currently holding entryID.
func Locate(boards []models.BoardView, entryID string) (boardIdx, columnIdx, entryIdx int, ok bool) {
	for bi, b := range boards {
		for ci, c := range b.Columns {
			for ei, e := range c.Entries {
				if e.ID == entryID {
					return bi, ci, ei, true
				}
			}
		}
	}
	return 0, 0, 0, false
}

// ApplyMove returns a copy of boards with entryID appended to toColumnID,
// mirroring what MoveEntry does on the server. It reports false, and
// returns the input unchanged, when the move is a no-op or invalid.
func ApplyMove(boards []models.BoardView, entryID, toColumnID string) ([]models.BoardView, bool) {
	bi, ci, ei, ok := Locate(boards, entryID)
	if !ok || boards[bi].Columns[ci].ID == toColumnID {
		return boards, false
	}
	target := -1
	for j, c := range boards[bi].Columns {
		if c.ID == toColumnID {
			target = j
		}
	}
	if target < 0 {
		return boards, false
	}

	out := Clone(boards)
	src := &out[bi].Columns[ci]
	entry := src.Entries[ei]
	src.Entries = append(src.Entries[:ei], src.Entries[ei+1:]...)

	dst := &out[bi].Columns[target]
	var maxPos int64
	for _, e := range dst.Entries {
		if e.Position > maxPos {
			maxPos = e.Position
		}
	}
	entry.ColumnID = toColumnID
	entry.Position = NextPosition(maxPos, len(dst.Entries) > 0)
	dst.Entries = append(dst.Entries, entry)
	return out, true
}

// Drag is an in-progress drag of one entry. The snapshot taken at start is
// what a failed or cancelled drop restores.
type Drag struct {
	EntryID      string
	FromColumnID string
	snapshot     []models.BoardView
}

// StartDrag captures the entry and its column. It returns false when the
// entry is not on the board.
func StartDrag(boards []models.BoardView, entryID string) (*Drag, bool) {
	bi, ci, _, ok := Locate(boards, entryID)
	if !ok {
		return nil, false
	}
	return &Drag{
		EntryID:      entryID,
		FromColumnID: boards[bi].Columns[ci].ID,
		snapshot:     Clone(boards),
	}, true
}

// Drop applies the move optimistically. changed is false for a drop on the
// source column, which needs no server call.
func (d *Drag) Drop(toColumnID string) (optimistic []models.BoardView, changed bool) {
	return ApplyMove(d.snapshot, d.EntryID, toColumnID)
}

// Rollback returns the pre-drag state. Cancel and failed moves both use it.
func (d *Drag) Rollback() []models.BoardView {
	return Clone(d.snapshot)
}
