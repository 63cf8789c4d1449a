// Package popup renders the detail panel opened on a map item.
package popup

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/quaketrack/quaketrack/internal/cluster"
	"github.com/quaketrack/quaketrack/internal/quake"
	"github.com/quaketrack/quaketrack/internal/tui/theme"
)

// maxMembers bounds the member list of a cluster popup.
const maxMembers = 10

// Model renders item details as Markdown.
type Model struct {
	style string
	width int
	r     *glamour.TermRenderer
}

// New creates a popup renderer using the named glamour style
// ("dark", "light", "notty", ...).
func New(style string, width int) Model {
	m := Model{style: style}
	m.SetWidth(width)
	return m
}

// SetWidth rebuilds the renderer when the wrap width changes.
func (m *Model) SetWidth(width int) {
	width = max(width, 20)
	if m.r != nil && width == m.width {
		return
	}
	m.width = width
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		m.r = nil
		return
	}
	m.r = r
}

// Markdown builds the popup document for it. members resolves cluster ids
// to events; ids missing from it are listed bare.
func Markdown(it cluster.Item, members map[string]quake.Event) string {
	var b strings.Builder
	if it.Kind == cluster.KindSingle && it.Event != nil {
		ev := it.Event
		title := fmt.Sprintf("M%.1f", ev.Magnitude)
		if ev.Place != "" {
			title += " " + ev.Place
		}
		fmt.Fprintf(&b, "## %s\n\n", title)
		for _, line := range strings.Split(it.Popup, "\n") {
			label, value, ok := strings.Cut(line, ": ")
			if !ok {
				fmt.Fprintf(&b, "- %s\n", line)
				continue
			}
			fmt.Fprintf(&b, "- **%s:** %s\n", label, value)
		}
		fmt.Fprintf(&b, "\n`%s`\n", ev.ID)
		return b.String()
	}

	lines := strings.Split(it.Popup, "\n")
	fmt.Fprintf(&b, "## %s\n\n", lines[0])
	for _, line := range lines[1:] {
		fmt.Fprintf(&b, "%s\n\n", line)
	}
	fmt.Fprintf(&b, "Centroid: %.4f, %.4f\n\n", it.Position.Latitude, it.Position.Longitude)

	known := make([]quake.Event, 0, len(it.MemberIDs))
	var unknown []string
	for _, id := range it.MemberIDs {
		if ev, ok := members[id]; ok {
			known = append(known, ev)
		} else {
			unknown = append(unknown, id)
		}
	}
	slices.SortFunc(known, func(a, b quake.Event) int {
		if c := cmp.Compare(b.Magnitude, a.Magnitude); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	listed := 0
	for _, ev := range known {
		if listed == maxMembers {
			break
		}
		fmt.Fprintf(&b, "- **M%.1f** %s `%s`\n", ev.Magnitude, ev.Place, ev.ID)
		listed++
	}
	for _, id := range unknown {
		if listed == maxMembers {
			break
		}
		fmt.Fprintf(&b, "- `%s`\n", id)
		listed++
	}
	if rest := it.Count - listed; rest > 0 {
		fmt.Fprintf(&b, "\n_and %d more_\n", rest)
	}
	return b.String()
}

// View renders it inside a bordered panel.
func (m Model) View(it cluster.Item, members map[string]quake.Event) string {
	md := Markdown(it, members)
	body := md
	if m.r != nil {
		if out, err := m.r.Render(md); err == nil {
			body = strings.TrimRight(out, "\n")
		}
	}
	help := theme.StyleDimmed.Render("esc:close")
	return lipgloss.NewStyle().
		Width(m.width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.MagnitudeColor(it.MaxMagnitude)).
		Render(lipgloss.JoinVertical(lipgloss.Left, body, help))
}
