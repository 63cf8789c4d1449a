// Package markers owns the set of events currently eligible for display and
// expires it when no fresh data arrives within the TTL.
package markers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quaketrack/quaketrack/internal/quake"
)

// ChangeKind classifies a marker set change.
type ChangeKind int

const (
	ChangeReplaced ChangeKind = iota + 1 // a fetch result was installed
	ChangeExpired                        // the TTL elapsed without fresh data
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReplaced:
		return "replaced"
	case ChangeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func (k ChangeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Change is delivered to subscribers; Markers is a snapshot safe to retain.
type Change struct {
	Kind      ChangeKind
	Markers   []quake.Event
	At        time.Time
	ExpiresAt time.Time // zero after expiry
}

// Observer receives marker lifecycle instrumentation.
type Observer interface {
	MarkersInstalled(n int)
	MarkersExpired()
}

type nopObserver struct{}

func (nopObserver) MarkersInstalled(int) {}
func (nopObserver) MarkersExpired()      {}

// Manager holds the MarkerSet. Every install replaces the whole set and
// re-arms a single expiry timer; the previous timer handle is always stopped
// first, and its callback carries a generation so that a callback already
// past Stop cannot clear a newer set.
type Manager struct {
	ttl      time.Duration
	log      zerolog.Logger
	observer Observer

	// changeMu serializes each mutation with its notification so that
	// subscribers observe changes in the order they were applied.
	changeMu sync.Mutex

	mu        sync.Mutex
	byID      map[string]quake.Event
	order     []string // display order: position of each id's last occurrence
	timer     *time.Timer
	gen       uint64
	expiresAt time.Time
	closed    bool
	subs      map[int]func(Change)
	nextSub   int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithObserver installs lifecycle instrumentation.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// New creates an empty manager whose markers live for ttl after each
// install. The TTL is independent of the poll interval; when it is shorter
// the set is briefly empty between fetches.
func New(ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		ttl:      ttl,
		log:      zerolog.Nop(),
		observer: nopObserver{},
		byID:     make(map[string]quake.Event),
		subs:     make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the expiry window.
func (m *Manager) TTL() time.Duration { return m.ttl }

// OnFetchSuccess replaces the marker set with events, keeping the last
// occurrence of a duplicated id, and resets the expiry timer to now+TTL.
func (m *Manager) OnFetchSuccess(events []quake.Event) {
	byID := make(map[string]quake.Event, len(events))
	last := make(map[string]int, len(events))
	for i, ev := range events {
		byID[ev.ID] = ev
		last[ev.ID] = i
	}
	order := make([]string, 0, len(byID))
	for i, ev := range events {
		if last[ev.ID] == i {
			order = append(order, ev.ID)
		}
	}

	m.changeMu.Lock()
	defer m.changeMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.byID = byID
	m.order = order
	m.gen++
	gen := m.gen
	now := time.Now()
	m.expiresAt = now.Add(m.ttl)
	m.timer = time.AfterFunc(m.ttl, func() { m.onExpiry(gen) })
	change := Change{Kind: ChangeReplaced, Markers: m.snapshotLocked(), At: now, ExpiresAt: m.expiresAt}
	subs := m.subscribersLocked()
	m.mu.Unlock()

	if dropped := len(events) - len(order); dropped > 0 {
		m.log.Debug().Int("duplicates", dropped).Msg("Dropped duplicate event ids")
	}
	m.log.Debug().Int("markers", len(order)).Time("expiresAt", change.ExpiresAt).Msg("Marker set installed")
	m.observer.MarkersInstalled(len(order))
	notify(subs, change)
}

// onExpiry is the timer callback for generation gen.
func (m *Manager) onExpiry(gen uint64) {
	m.changeMu.Lock()
	defer m.changeMu.Unlock()

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.byID = make(map[string]quake.Event)
	m.order = nil
	m.timer = nil
	m.expiresAt = time.Time{}
	change := Change{Kind: ChangeExpired, At: time.Now()}
	subs := m.subscribersLocked()
	m.mu.Unlock()

	m.log.Info().Dur("ttl", m.ttl).Msg("Markers expired without fresh data")
	m.observer.MarkersExpired()
	notify(subs, change)
}

// CurrentMarkers returns a snapshot of the displayed events.
func (m *Manager) CurrentMarkers() []quake.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Len returns the number of displayed markers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// ExpiresAt returns the deadline of the live expiry timer, or the zero time
// when no timer is armed.
func (m *Manager) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// Subscribe registers fn for every change. fn runs on the goroutine that
// caused the change (the poll loop or the expiry timer) and must not block.
func (m *Manager) Subscribe(fn func(Change)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Close stops the expiry timer. Later installs are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.expiresAt = time.Time{}
}

func (m *Manager) snapshotLocked() []quake.Event {
	out := make([]quake.Event, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

func (m *Manager) subscribersLocked() []func(Change) {
	subs := make([]func(Change), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		c.Markers = quake.Clone(c.Markers)
		fn(c)
	}
}
