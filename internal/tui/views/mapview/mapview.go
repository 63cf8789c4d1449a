// Package mapview draws the clustered marker layout on a character-cell
// Web Mercator map.
package mapview

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/quaketrack/quaketrack/internal/cluster"
	"github.com/quaketrack/quaketrack/internal/tui/theme"
)

// One terminal cell covers cellW x cellH world pixels, roughly square on
// screen.
const (
	cellW = 8.0
	cellH = 16.0

	graticuleStep = 30

	emptyCell  = " "
	outsideMap = "·"
)

var (
	gridStyle = lipgloss.NewStyle().Foreground(theme.ColorGrid)
	edgeStyle = lipgloss.NewStyle().Foreground(theme.ColorBorder)
)

// Model is the map viewport.
type Model struct {
	Width    int
	Height   int
	Zoom     int
	Center   cluster.LatLon
	Layout   cluster.Layout
	Selected int // index into Layout.Items, -1 for none
}

// New creates a viewport at zoom centered on center.
func New(zoom int, center cluster.LatLon) Model {
	return Model{Zoom: cluster.ClampZoom(zoom), Center: center, Selected: -1}
}

// SetLayout installs a new layout. The selection follows the item holding
// the previously selected marker when it still exists.
func (m *Model) SetLayout(l cluster.Layout) {
	var anchor string
	if it, ok := m.SelectedItem(); ok && len(it.MemberIDs) > 0 {
		anchor = it.MemberIDs[0]
	}
	m.Layout = l
	m.Selected = -1
	if anchor == "" {
		return
	}
	for i, it := range l.Items {
		for _, id := range it.MemberIDs {
			if id == anchor {
				m.Selected = i
				return
			}
		}
	}
}

// SelectedItem returns the selected item.
func (m Model) SelectedItem() (cluster.Item, bool) {
	if m.Selected < 0 || m.Selected >= len(m.Layout.Items) {
		return cluster.Item{}, false
	}
	return m.Layout.Items[m.Selected], true
}

// SelectNext moves the selection by step (wrapping) and centers on it.
func (m *Model) SelectNext(step int) {
	n := len(m.Layout.Items)
	if n == 0 {
		m.Selected = -1
		return
	}
	switch {
	case m.Selected < 0 && step < 0:
		m.Selected = n - 1
	case m.Selected < 0:
		m.Selected = 0
	default:
		m.Selected = ((m.Selected+step)%n + n) % n
	}
	m.Center = m.Layout.Items[m.Selected].Position
}

// ClearSelection deselects.
func (m *Model) ClearSelection() { m.Selected = -1 }

// Pan shifts the center by a quarter viewport per step.
func (m *Model) Pan(dx, dy int) {
	p := cluster.Project(m.Center.Latitude, m.Center.Longitude, m.Zoom)
	p.X += float64(dx*max(m.Width/4, 1)) * cellW
	p.Y += float64(dy*max(m.Height/4, 1)) * cellH
	m.Center = cluster.Unproject(p, m.Zoom)
}

// ZoomBy changes the zoom level by delta, keeping the center.
func (m *Model) ZoomBy(delta int) {
	m.Zoom = cluster.ClampZoom(m.Zoom + delta)
}

func (m Model) origin() cluster.XY {
	c := cluster.Project(m.Center.Latitude, m.Center.Longitude, m.Zoom)
	return cluster.XY{
		X: c.X - float64(m.Width)/2*cellW,
		Y: c.Y - float64(m.Height)/2*cellH,
	}
}

// Cell returns the viewport cell containing world pixel p.
func (m Model) Cell(p cluster.XY) (col, row int, ok bool) {
	o := m.origin()
	col = int(math.Floor((p.X - o.X) / cellW))
	row = int(math.Floor((p.Y - o.Y) / cellH))
	ok = col >= 0 && col < m.Width && row >= 0 && row < m.Height
	return col, row, ok
}

// Visible counts the items inside the viewport.
func (m Model) Visible() int {
	n := 0
	for _, it := range m.Layout.Items {
		if _, _, ok := m.Cell(it.Pixel); ok {
			n++
		}
	}
	return n
}

// Glyph returns the map symbol for it.
func Glyph(it cluster.Item) string {
	if it.Kind == cluster.KindCluster {
		if it.Count < 10 {
			return strconv.Itoa(it.Count)
		}
		return "+"
	}
	return theme.MagnitudeGlyph(it.MaxMagnitude)
}

// View renders Height lines of Width cells.
func (m Model) View() string {
	if m.Width <= 0 || m.Height <= 0 {
		return ""
	}
	cells := m.background()

	// Stronger items come first in the layout and win shared cells.
	for i := len(m.Layout.Items) - 1; i >= 0; i-- {
		it := m.Layout.Items[i]
		col, row, ok := m.Cell(it.Pixel)
		if !ok {
			continue
		}
		style := lipgloss.NewStyle().Foreground(theme.MagnitudeColor(it.MaxMagnitude))
		if it.Kind == cluster.KindCluster {
			style = style.Bold(true)
		}
		cells[row][col] = style.Render(Glyph(it))
	}
	if it, ok := m.SelectedItem(); ok {
		if col, row, ok := m.Cell(it.Pixel); ok {
			cells[row][col] = theme.StyleSelected.Render(Glyph(it))
		}
	}

	lines := make([]string, m.Height)
	for r, row := range cells {
		lines[r] = strings.Join(row, "")
	}
	return strings.Join(lines, "\n")
}

// background draws the world bounds and a graticule.
func (m Model) background() [][]string {
	o := m.origin()
	world := cluster.WorldSize(m.Zoom)

	meridians := make(map[int]bool)
	for lon := -180; lon <= 180; lon += graticuleStep {
		col := int(math.Floor((cluster.Project(0, float64(lon), m.Zoom).X - o.X) / cellW))
		meridians[col] = true
	}
	parallels := make(map[int]bool)
	for lat := -60; lat <= 60; lat += graticuleStep {
		row := int(math.Floor((cluster.Project(float64(lat), 0, m.Zoom).Y - o.Y) / cellH))
		parallels[row] = true
	}

	cells := make([][]string, m.Height)
	for r := range cells {
		cells[r] = make([]string, m.Width)
		y := o.Y + (float64(r)+0.5)*cellH
		for c := range cells[r] {
			x := o.X + (float64(c)+0.5)*cellW
			switch {
			case x < 0 || x >= world || y < 0 || y >= world:
				cells[r][c] = edgeStyle.Render(outsideMap)
			case meridians[c] && parallels[r]:
				cells[r][c] = gridStyle.Render("┼")
			case meridians[c]:
				cells[r][c] = gridStyle.Render("│")
			case parallels[r]:
				cells[r][c] = gridStyle.Render("─")
			default:
				cells[r][c] = emptyCell
			}
		}
	}
	return cells
}

// Caption describes the viewport for the help line.
func (m Model) Caption() string {
	return fmt.Sprintf("%.2f, %.2f  z%d  %d/%d visible",
		m.Center.Latitude, m.Center.Longitude, m.Zoom, m.Visible(), len(m.Layout.Items))
}
