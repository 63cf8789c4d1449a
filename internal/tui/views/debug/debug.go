// Package debug provides a scrollable event log overlay fed by the polling
// loop and the marker lifecycle.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/quaketrack/quaketrack/internal/tui/theme"
)

const maxEntries = 200

// Entry kinds.
const (
	KindFetch  = "fetch"
	KindError  = "err"
	KindExpiry = "exp"
	KindNav    = "nav"
)

// Entry is a single event log line.
type Entry struct {
	Time    time.Time
	Kind    string
	Message string
}

// Model holds debug log state.
type Model struct {
	Entries    []Entry
	Offset     int // scroll offset (from bottom)
	ErrorsOnly bool
}

// New creates an empty debug model.
func New() Model {
	return Model{}
}

// Add appends a log entry and caps the buffer.
func (m *Model) Add(at time.Time, kind, message string) {
	m.Entries = append(m.Entries, Entry{Time: at, Kind: kind, Message: message})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

// ToggleErrors switches between all entries and errors only.
func (m *Model) ToggleErrors() {
	m.ErrorsOnly = !m.ErrorsOnly
	m.Offset = 0
}

func (m Model) visible() []Entry {
	if !m.ErrorsOnly {
		return m.Entries
	}
	var out []Entry
	for _, e := range m.Entries {
		if e.Kind == KindError {
			out = append(out, e)
		}
	}
	return out
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.visible())-1, 0))
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	visibleLines := max(height-6, 3)

	title := theme.StyleHeader.Render(" EVENT LOG ")
	filter := "all"
	if m.ErrorsOnly {
		filter = "errors"
	}
	entries := m.visible()
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  e:filter (%s)  esc:close  %d entries", filter, len(entries)))

	if len(entries) == 0 {
		body := theme.StyleDimmed.Render("  No events recorded yet.")
		return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help))
	}

	end := max(len(entries)-m.Offset, 0)
	start := max(end-visibleLines, 0)

	lines := make([]string, 0, end-start)
	for _, e := range entries[start:end] {
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(5).Render(e.Kind)
		msg := e.Message
		// Timestamp, kind and separators take 19 cells; padding takes 4.
		if limit := innerW - 23; limit > 3 {
			msg = ansi.Truncate(msg, limit, "...")
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, msg))
	}

	more := ""
	if m.Offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}
	return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), more, help))
}

func kindColor(kind string) lipgloss.Color {
	switch kind {
	case KindFetch:
		return theme.ColorSuccess
	case KindError:
		return theme.ColorError
	case KindExpiry:
		return theme.ColorWarning
	case KindNav:
		return theme.ColorLoading
	default:
		return theme.ColorDimmed
	}
}
