package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quaketrack/quaketrack/internal/markers"
	"github.com/quaketrack/quaketrack/internal/poller"
	"github.com/quaketrack/quaketrack/internal/quake"
	"github.com/quaketrack/quaketrack/internal/tui/views/debug"
)

// StateSource is the polling loop as seen by the UI.
type StateSource interface {
	State() poller.State
	Subscribe(fn func(poller.State)) (cancel func())
	Refresh()
}

// MarkerSource is the marker lifecycle as seen by the UI.
type MarkerSource interface {
	CurrentMarkers() []quake.Event
	ExpiresAt() time.Time
	Subscribe(fn func(markers.Change)) (cancel func())
}

// SyncMsg carries a consistent view of the core after one or more changes.
type SyncMsg struct {
	State     poller.State
	Markers   []quake.Event
	ExpiresAt time.Time
	Log       []debug.Entry
}

// Bridge turns core callbacks into Bubble Tea messages. Callbacks only
// record log lines and raise a pending flag; the UI pulls a fresh snapshot
// with Wait, so bursts of changes collapse into one SyncMsg.
type Bridge struct {
	states  StateSource
	markers MarkerSource
	signal  chan struct{}

	mu      sync.Mutex
	pending []debug.Entry
	cancels []func()
}

// NewBridge subscribes to both sources. Call Close to unsubscribe.
func NewBridge(states StateSource, markerSrc MarkerSource) *Bridge {
	b := &Bridge{
		states:  states,
		markers: markerSrc,
		signal:  make(chan struct{}, 1),
	}
	b.cancels = append(b.cancels,
		states.Subscribe(b.onState),
		markerSrc.Subscribe(b.onMarkers),
	)
	// The first Wait delivers the initial snapshot.
	b.raise()
	return b
}

func (b *Bridge) onState(s poller.State) {
	now := time.Now()
	switch s.Phase {
	case poller.Success:
		b.log(now, debug.KindFetch, fmt.Sprintf("fetched %d events", len(s.Events)))
	case poller.Error:
		b.log(now, debug.KindError, fmt.Sprintf("%s: %s", s.Kind, s.Message()))
	}
	b.raise()
}

func (b *Bridge) onMarkers(c markers.Change) {
	if c.Kind == markers.ChangeExpired {
		b.log(c.At, debug.KindExpiry, "markers expired without fresh data")
	}
	b.raise()
}

func (b *Bridge) log(at time.Time, kind, msg string) {
	b.mu.Lock()
	b.pending = append(b.pending, debug.Entry{Time: at, Kind: kind, Message: msg})
	b.mu.Unlock()
}

func (b *Bridge) raise() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Wait returns a command that blocks until the core changes and then
// reports the current snapshot. It returns nil once ctx is done. Re-issue
// it after every SyncMsg.
func (b *Bridge) Wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case <-b.signal:
			return b.Snapshot()
		}
	}
}

// Snapshot reads both sources and drains pending log lines.
func (b *Bridge) Snapshot() SyncMsg {
	b.mu.Lock()
	entries := b.pending
	b.pending = nil
	b.mu.Unlock()

	return SyncMsg{
		State:     b.states.State(),
		Markers:   b.markers.CurrentMarkers(),
		ExpiresAt: b.markers.ExpiresAt(),
		Log:       entries,
	}
}

// Refresh asks the polling loop for an immediate fetch.
func (b *Bridge) Refresh() {
	b.states.Refresh()
}

// Close removes the subscriptions.
func (b *Bridge) Close() {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
