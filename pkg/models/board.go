package models

import "time"

// Board is a named pipeline scoped to a stream
type Board struct {
	ID        string    `json:"id" db:"id"`
	StreamID  string    `json:"stream_id" db:"stream_id"`
	Name      string    `json:"name" db:"name"`
	Type      string    `json:"type" db:"type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Column is an ordered stage within a Board
type Column struct {
	ID        string    `json:"id" db:"id"`
	BoardID   string    `json:"board_id" db:"board_id"`
	Name      string    `json:"name" db:"name"`
	Position  int64     `json:"position" db:"position"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Entry is a card placed in exactly one Column
type Entry struct {
	ID               string    `json:"id" db:"id"`
	ColumnID         string    `json:"column_id" db:"column_id"`
	Title            string    `json:"title" db:"title"`
	Description      string    `json:"description,omitempty" db:"description"`
	Priority         Priority  `json:"priority" db:"priority"`
	RevenuePotential float64   `json:"revenue_potential" db:"revenue_potential"`
	ContactName      string    `json:"contact_name,omitempty" db:"contact_name"`
	ContactEmail     string    `json:"contact_email,omitempty" db:"contact_email"`
	ContactPhone     string    `json:"contact_phone,omitempty" db:"contact_phone"`
	AssignedTo       *string   `json:"assigned_to,omitempty" db:"assigned_to"`
	Position         int64     `json:"position" db:"position"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`

	Assignee *Assignee `json:"assignee,omitempty" db:"-"`
}

// Assignee is the team member resolved from Entry.AssignedTo at load time.
type Assignee struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// ColumnView is a Column with its entries in display order.
type ColumnView struct {
	Column
	Entries []Entry `json:"entries"`
}

// BoardView is the nested shape returned by LoadBoard.
type BoardView struct {
	Board
	Columns []ColumnView `json:"columns"`
}
