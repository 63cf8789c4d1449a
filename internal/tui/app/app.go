// Package app is the root Bubble Tea model of the quaketrack terminal map.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quaketrack/quaketrack/internal/cluster"
	"github.com/quaketrack/quaketrack/internal/quake"
	"github.com/quaketrack/quaketrack/internal/tui/theme"
	"github.com/quaketrack/quaketrack/internal/tui/views/debug"
	"github.com/quaketrack/quaketrack/internal/tui/views/mapview"
	"github.com/quaketrack/quaketrack/internal/tui/views/popup"
	"github.com/quaketrack/quaketrack/internal/tui/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayPopup
	OverlayDebug
)

const helpLine = "  arrows:pan  tab:select  +/-:zoom  enter:popup  r:refresh  d:log  q:quit"

// frameMsg drives the freshness gauge animation.
type frameMsg time.Time

func frame() tea.Cmd {
	return tea.Tick(time.Second/status.FrameRate, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

// Config holds the view settings of the model.
type Config struct {
	Zoom       int
	Center     cluster.LatLon
	Radius     float64
	TTL        time.Duration
	GlamStyle  string // glamour style for popups; "dark" when empty
	PopupWidth int
}

// Model is the root Bubble Tea model.
type Model struct {
	bridge *Bridge
	ctx    context.Context
	cancel context.CancelFunc

	keys     KeyMap
	width    int
	height   int
	overlay  Overlay
	renderer cluster.Renderer

	markers []quake.Event
	byID    map[string]quake.Event

	mapView   mapview.Model
	statusBar status.Model
	popup     popup.Model
	debugLog  debug.Model

	popupWidth int
}

// New creates the root model reading from bridge.
func New(bridge *Bridge, cfg Config) Model {
	ctx, cancel := context.WithCancel(context.Background())
	style := cfg.GlamStyle
	if style == "" {
		style = "dark"
	}
	width := cfg.PopupWidth
	if width <= 0 {
		width = 60
	}
	return Model{
		bridge:     bridge,
		ctx:        ctx,
		cancel:     cancel,
		keys:       DefaultKeyMap(),
		renderer:   cluster.Renderer{Radius: cfg.Radius},
		byID:       make(map[string]quake.Event),
		mapView:    mapview.New(cfg.Zoom, cfg.Center),
		statusBar:  status.New(cfg.TTL),
		popup:      popup.New(style, width),
		debugLog:   debug.New(),
		popupWidth: width,
	}
}

// Init starts listening to the core and the animations.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.bridge.Wait(m.ctx), m.statusBar.Tick, frame())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.popup.SetWidth(min(m.popupWidth, max(msg.Width-4, 20)))
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SyncMsg:
		m.apply(msg)
		return m, m.bridge.Wait(m.ctx)

	case frameMsg:
		m.statusBar.Step(time.Time(msg))
		return m, frame()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.statusBar, cmd = m.statusBar.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) apply(msg SyncMsg) {
	for _, e := range msg.Log {
		m.debugLog.Add(e.Time, e.Kind, e.Message)
	}
	m.statusBar.State = msg.State
	m.statusBar.ExpiresAt = msg.ExpiresAt
	m.markers = msg.Markers
	m.byID = make(map[string]quake.Event, len(msg.Markers))
	for _, ev := range msg.Markers {
		m.byID[ev.ID] = ev
	}
	m.relayout()
	if m.overlay == OverlayPopup {
		if _, ok := m.mapView.SelectedItem(); !ok {
			m.overlay = OverlayNone
		}
	}
	m.resize()
}

// relayout clusters the current markers at the map's zoom.
func (m *Model) relayout() {
	layout := m.renderer.Render(m.markers, m.mapView.Zoom)
	m.mapView.SetLayout(layout)
	m.statusBar.Markers = layout.Markers()
	m.statusBar.Items = len(layout.Items)
	m.statusBar.Zoom = layout.Zoom
}

// resize fits the map between the status bar and the help line.
func (m *Model) resize() {
	m.mapView.Width = max(m.width, 0)
	m.mapView.Height = max(m.height-lipgloss.Height(m.statusBar.View())-1, 0)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		m.bridge.Close()
		return m, tea.Quit
	}

	switch m.overlay {
	case OverlayPopup:
		if key.Matches(msg, m.keys.Escape, m.keys.Enter) {
			m.overlay = OverlayNone
		}
		return m, nil
	case OverlayDebug:
		switch {
		case key.Matches(msg, m.keys.Escape, m.keys.Debug):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up):
			m.debugLog.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.debugLog.ScrollDown(1)
		case key.Matches(msg, m.keys.Filter):
			m.debugLog.ToggleErrors()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		m.mapView.Pan(0, -1)
	case key.Matches(msg, m.keys.Down):
		m.mapView.Pan(0, 1)
	case key.Matches(msg, m.keys.Left):
		m.mapView.Pan(-1, 0)
	case key.Matches(msg, m.keys.Right):
		m.mapView.Pan(1, 0)
	case key.Matches(msg, m.keys.Next):
		m.mapView.SelectNext(1)
	case key.Matches(msg, m.keys.Prev):
		m.mapView.SelectNext(-1)
	case key.Matches(msg, m.keys.ZoomIn):
		m.zoom(1)
	case key.Matches(msg, m.keys.ZoomOut):
		m.zoom(-1)
	case key.Matches(msg, m.keys.Enter):
		if _, ok := m.mapView.SelectedItem(); ok {
			m.overlay = OverlayPopup
		}
	case key.Matches(msg, m.keys.Escape):
		m.mapView.ClearSelection()
	case key.Matches(msg, m.keys.Refresh):
		m.bridge.Refresh()
		m.debugLog.Add(time.Now(), debug.KindNav, "manual refresh")
	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
	}
	return m, nil
}

func (m *Model) zoom(delta int) {
	before := m.mapView.Zoom
	m.mapView.ZoomBy(delta)
	if m.mapView.Zoom == before {
		return
	}
	m.relayout()
	m.debugLog.Add(time.Now(), debug.KindNav, fmt.Sprintf("zoom %d -> %d", before, m.mapView.Zoom))
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	body := m.mapView.View()
	switch m.overlay {
	case OverlayPopup:
		if it, ok := m.mapView.SelectedItem(); ok {
			body = lipgloss.Place(m.mapView.Width, m.mapView.Height, lipgloss.Center, lipgloss.Center, m.popup.View(it, m.byID))
		}
	case OverlayDebug:
		body = m.debugLog.View(m.width, m.mapView.Height)
	}

	help := theme.StyleDimmed.Render(helpLine + "  " + m.mapView.Caption())
	return lipgloss.JoinVertical(lipgloss.Left, m.statusBar.View(), body, help)
}
