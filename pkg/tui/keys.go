package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings of the board view.
type KeyMap struct {
	Left  key.Binding
	Right key.Binding
	Up    key.Binding
	Down  key.Binding

	NextBoard key.Binding

	// Grab picks up the selected entry; pressed again it drops the entry
	// on the highlighted column.
	Grab   key.Binding
	Cancel key.Binding
	Retry  key.Binding

	Refresh key.Binding
	Quit    key.Binding
}

var DefaultKeyMap = KeyMap{
	Left: key.NewBinding(
		key.WithKeys("h", "left"),
		key.WithHelp("h/←", "column left"),
	),
	Right: key.NewBinding(
		key.WithKeys("l", "right"),
		key.WithHelp("l/→", "column right"),
	),
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	NextBoard: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next board"),
	),
	Grab: key.NewBinding(
		key.WithKeys(" ", "enter"),
		key.WithHelp("space", "grab/drop"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "cancel drag"),
	),
	Retry: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "retry move"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("R", "ctrl+r"),
		key.WithHelp("R", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Left, k.Right, k.Grab, k.Cancel, k.Retry, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Left, k.Right, k.Up, k.Down, k.NextBoard},
		{k.Grab, k.Cancel, k.Retry, k.Refresh, k.Quit},
	}
}
