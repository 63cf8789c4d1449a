package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/quaketrack/quaketrack/internal/poller"
	"github.com/quaketrack/quaketrack/internal/tui/theme"
)

// FrameRate is the animation rate of the freshness gauge.
const FrameRate = 10

const gaugeCells = 10

// Model holds the status bar state.
type Model struct {
	State     poller.State
	Markers   int
	Items     int
	Zoom      int
	TTL       time.Duration
	ExpiresAt time.Time
	Width     int

	spin   spinner.Model
	spring harmonica.Spring
	gauge  float64 // animated fraction of TTL remaining
	vel    float64
	target float64
}

// New creates a status bar model for markers living ttl.
func New(ttl time.Duration) Model {
	return Model{
		TTL:    ttl,
		spin:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(lipgloss.NewStyle().Foreground(theme.ColorLoading))),
		spring: harmonica.NewSpring(harmonica.FPS(FrameRate), 6.0, 0.5),
	}
}

// Tick starts the spinner animation.
func (m Model) Tick() tea.Msg {
	return m.spin.Tick()
}

// Update advances the spinner.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.spin, cmd = m.spin.Update(msg)
	return m, cmd
}

// Remaining returns the fraction of the TTL left at now, in [0,1].
func (m Model) Remaining(now time.Time) float64 {
	if m.ExpiresAt.IsZero() || m.TTL <= 0 {
		return 0
	}
	frac := float64(m.ExpiresAt.Sub(now)) / float64(m.TTL)
	return math.Max(0, math.Min(1, frac))
}

// Step moves the gauge one frame toward the remaining fraction at now.
func (m *Model) Step(now time.Time) {
	m.target = m.Remaining(now)
	m.gauge, m.vel = m.spring.Update(m.gauge, m.vel, m.target)
}

// Gauge returns the animated gauge position.
func (m Model) Gauge() float64 { return m.gauge }

func (m Model) phase() string {
	s := m.State
	label := s.Phase.String()
	switch s.Phase {
	case poller.Loading:
		return m.spin.View() + " " + label
	case poller.Error:
		label = fmt.Sprintf("%s (%s)", label, s.Kind)
		if s.ConsecutiveFailures > 1 {
			label += fmt.Sprintf(" x%d", s.ConsecutiveFailures)
		}
	}
	return "● " + label
}

func (m Model) renderGauge() string {
	filled := int(math.Round(math.Max(0, math.Min(1, m.gauge)) * gaugeCells))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", gaugeCells-filled)
	return lipgloss.NewStyle().Foreground(theme.FreshnessColor(m.target)).Render(bar)
}

// View renders the status bar.
func (m Model) View() string {
	width := max(m.Width, 40)
	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")

	phase := lipgloss.NewStyle().Foreground(theme.PhaseColor(m.State.Phase.String())).Render(m.phase())
	parts := []string{phase}

	if !m.State.FetchedAt.IsZero() {
		parts = append(parts, theme.StyleDimmed.Render("fetched "+m.State.FetchedAt.Local().Format("15:04:05")))
	}
	parts = append(parts, fmt.Sprintf("%d markers  %d items  z%d", m.Markers, m.Items, m.Zoom))
	parts = append(parts, "ttl "+m.renderGauge())

	content := strings.Join(parts, sep)
	if msg := m.State.Message(); msg != "" && m.State.Phase == poller.Error {
		content += "\n" + lipgloss.NewStyle().Foreground(theme.ColorError).Render(msg)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
