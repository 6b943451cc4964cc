package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pipeline-crm-backend/pkg/models"
)

const columnWidth = 26

var (
	accent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	faint  = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	danger = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F6D"}

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	spinnerStyle = lipgloss.NewStyle().Foreground(accent)

	columnStyle = lipgloss.NewStyle().
			Width(columnWidth).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(faint).
			Padding(0, 1)
	targetColumnStyle = columnStyle.BorderForeground(accent).BorderStyle(lipgloss.ThickBorder())

	headerStyle   = lipgloss.NewStyle().Bold(true)
	entryStyle    = lipgloss.NewStyle()
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	draggingStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	metaStyle     = lipgloss.NewStyle().Foreground(faint)

	toastStyle      = lipgloss.NewStyle().Padding(0, 1).Foreground(accent)
	toastErrorStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(danger).Bold(true)
)

var priorityMarks = map[models.Priority]string{
	models.PriorityHigh:   "▲",
	models.PriorityMedium: "■",
	models.PriorityLow:    "▽",
}

func (m Model) View() string {
	var b strings.Builder

	title := "Pipeline"
	if cur := m.current(); cur != nil {
		title = cur.Name
		if len(m.boards) > 1 {
			title += fmt.Sprintf("  (%d/%d)", m.boardIdx+1, len(m.boards))
		}
	}
	b.WriteString(titleStyle.Render(title))
	if m.loading || m.inFlight != nil {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n")

	cur := m.current()
	switch {
	case cur == nil && m.loading:
		b.WriteString(metaStyle.Render("  loading board…"))
	case cur == nil:
		b.WriteString(metaStyle.Render("  this stream has no boards yet"))
	default:
		columns := make([]string, len(cur.Columns))
		for i := range cur.Columns {
			columns[i] = m.renderColumn(i, &cur.Columns[i])
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, columns...))
	}
	b.WriteString("\n")

	if m.toast != "" {
		style := toastStyle
		if m.toastErr {
			style = toastErrorStyle
		}
		b.WriteString(style.Render(m.toast))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderColumn(i int, col *models.ColumnView) string {
	var total float64
	for _, e := range col.Entries {
		total += e.RevenuePotential
	}
	lines := []string{
		headerStyle.Render(truncate(col.Name, columnWidth-8)) + metaStyle.Render(fmt.Sprintf(" %d", len(col.Entries))),
		metaStyle.Render(fmt.Sprintf("$%.0f", total)),
	}
	for j, e := range col.Entries {
		text := truncate(priorityMarks[e.Priority]+" "+e.Title, columnWidth-2)
		style := entryStyle
		switch {
		case m.drag != nil && e.ID == m.drag.EntryID:
			style = draggingStyle
		case m.drag == nil && i == m.col && j == m.row:
			style = selectedStyle
		}
		lines = append(lines, style.Render(text))
		if e.Assignee != nil {
			who := e.Assignee.Name
			if who == "" {
				who = e.Assignee.Email
			}
			lines = append(lines, metaStyle.Render("  @"+truncate(who, columnWidth-5)))
		}
	}
	if len(col.Entries) == 0 {
		lines = append(lines, metaStyle.Render("—"))
	}

	style := columnStyle
	if m.drag != nil && i == m.target {
		style = targetColumnStyle
	}
	return style.Render(strings.Join(lines, "\n"))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
