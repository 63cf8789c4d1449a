// Package mock serves a synthetic earthquake feed for demos and development.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quaketrack/quaketrack/internal/quake"
)

// maxEvents bounds the rolling catalog.
const maxEvents = 250

type mockRegion struct {
	name    string
	lat     float64
	lon     float64
	spread  float64 // degrees
	pattern string
	magBase float64
	// swarm: a burst of nearby events every burstEvery ticks
	burstEvery int
	burstSize  int
}

var regions = []mockRegion{
	{name: "Southern California", lat: 34.05, lon: -118.25, spread: 1.5, pattern: "steady", magBase: 1.2},
	{name: "Ridgecrest", lat: 35.77, lon: -117.6, spread: 0.08, pattern: "swarm", magBase: 2.0, burstEvery: 5, burstSize: 4},
	{name: "Central Alaska", lat: 63.1, lon: -150.9, spread: 3, pattern: "steady", magBase: 1.5},
	{name: "Hawaii", lat: 19.4, lon: -155.3, spread: 0.3, pattern: "swarm", magBase: 1.8, burstEvery: 7, burstSize: 6},
	{name: "Honshu, Japan", lat: 36.2, lon: 140.1, spread: 2.5, pattern: "steady", magBase: 3.5},
	{name: "Central Chile", lat: -33.4, lon: -71.6, spread: 2, pattern: "sparse", magBase: 4.0},
	{name: "Aegean Sea", lat: 38.5, lon: 25.9, spread: 1, pattern: "sparse", magBase: 3.0},
	{name: "Fiji region", lat: -17.9, lon: -178.4, spread: 1.5, pattern: "sparse", magBase: 4.3},
}

// Generator grows a rolling catalog of synthetic events and serves it as a
// GeoJSON FeatureCollection. With outages enabled, some ticks make the feed
// answer 503 so the client's error path can be observed.
type Generator struct {
	log      zerolog.Logger
	interval time.Duration
	outages  bool

	mu     sync.Mutex
	rng    *rand.Rand
	events []quake.Event
	seq    int
	tick   int
	outage int // remaining failing ticks
	served int
}

type Option func(*Generator)

func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// WithInterval sets how often the catalog advances.
func WithInterval(d time.Duration) Option {
	return func(g *Generator) { g.interval = d }
}

// WithOutages makes the feed fail now and then.
func WithOutages() Option {
	return func(g *Generator) { g.outages = true }
}

// NewGenerator seeds a generator; equal seeds produce equal catalogs.
func NewGenerator(seed uint64, opts ...Option) *Generator {
	g := &Generator{
		log:      zerolog.Nop(),
		interval: 2 * time.Second,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start emits an initial catalog synchronously and then advances it every
// interval until ctx is done.
func (g *Generator) Start(ctx context.Context) {
	g.mu.Lock()
	for range 3 {
		g.advanceLocked()
	}
	g.mu.Unlock()

	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.Lock()
			g.advanceLocked()
			n := len(g.events)
			g.mu.Unlock()
			g.log.Debug().Int("events", n).Msg("Mock catalog advanced")
		}
	}
}

// Events returns a copy of the current catalog, newest first.
func (g *Generator) Events() []quake.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return quake.Clone(g.events)
}

// Served counts feed requests answered so far.
func (g *Generator) Served() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.served
}

func (g *Generator) advanceLocked() {
	g.tick++
	now := time.Now().UTC()

	if g.outage > 0 {
		g.outage--
	} else if g.outages && g.tick > 3 && g.rng.IntN(12) == 0 {
		g.outage = 1 + g.rng.IntN(2)
	}

	var fresh []quake.Event
	for i := range regions {
		r := &regions[i]
		switch r.pattern {
		case "steady":
			if g.rng.IntN(2) == 0 {
				fresh = append(fresh, g.newEventLocked(r, now, 0))
			}
		case "swarm":
			if g.tick%r.burstEvery == 0 {
				main := g.newEventLocked(r, now, 1.5)
				fresh = append(fresh, main)
				for range r.burstSize {
					fresh = append(fresh, g.aftershockLocked(r, main, now))
				}
			}
		case "sparse":
			if g.rng.IntN(8) == 0 {
				fresh = append(fresh, g.newEventLocked(r, now, 0))
			}
		}
	}

	g.events = append(fresh, g.events...)
	if len(g.events) > maxEvents {
		g.events = g.events[:maxEvents]
	}
}

func (g *Generator) newEventLocked(r *mockRegion, now time.Time, boost float64) quake.Event {
	g.seq++
	// Gutenberg-Richter-ish: exponential tail over the regional base.
	mag := r.magBase + boost + g.rng.ExpFloat64()*0.6
	return quake.Event{
		ID:        fmt.Sprintf("mock%06d", g.seq),
		Latitude:  clamp(r.lat+g.rng.NormFloat64()*r.spread, -90, 90),
		Longitude: wrapLon(r.lon + g.rng.NormFloat64()*r.spread),
		Magnitude: round1(mag),
		Depth:     round1(2 + g.rng.Float64()*30),
		Place:     r.name,
		Time:      now.Add(-time.Duration(g.rng.IntN(60)) * time.Second),
	}
}

func (g *Generator) aftershockLocked(r *mockRegion, main quake.Event, now time.Time) quake.Event {
	g.seq++
	spread := r.spread / 4
	return quake.Event{
		ID:        fmt.Sprintf("mock%06d", g.seq),
		Latitude:  clamp(main.Latitude+g.rng.NormFloat64()*spread, -90, 90),
		Longitude: wrapLon(main.Longitude + g.rng.NormFloat64()*spread),
		Magnitude: round1(math.Max(0, main.Magnitude-1-g.rng.Float64()*1.5)),
		Depth:     round1(math.Max(0, main.Depth+g.rng.NormFloat64())),
		Place:     r.name,
		Time:      now,
	}
}

// ServeHTTP answers with the catalog. ?format=flat returns a bare array of
// flat event objects instead of GeoJSON.
func (g *Generator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	g.mu.Lock()
	failing := g.outage > 0
	events := quake.Clone(g.events)
	g.served++
	g.mu.Unlock()

	if failing {
		http.Error(w, "feed temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	var body any
	if r.URL.Query().Get("format") == "flat" {
		body = flatList(events)
	} else {
		body = featureCollection(events)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.log.Warn().Err(err).Msg("Mock feed write failed")
	}
}

type feature struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Properties featureProperties `json:"properties"`
	Geometry   featureGeometry   `json:"geometry"`
}

type featureProperties struct {
	Mag   float64 `json:"mag"`
	Place string  `json:"place"`
	Time  int64   `json:"time"`
}

type featureGeometry struct {
	Type        string     `json:"type"`
	Coordinates [3]float64 `json:"coordinates"`
}

func featureCollection(events []quake.Event) map[string]any {
	features := make([]feature, len(events))
	for i, ev := range events {
		features[i] = feature{
			Type: "Feature",
			ID:   ev.ID,
			Properties: featureProperties{
				Mag:   ev.Magnitude,
				Place: ev.Place,
				Time:  ev.Time.UnixMilli(),
			},
			Geometry: featureGeometry{
				Type:        "Point",
				Coordinates: [3]float64{ev.Longitude, ev.Latitude, ev.Depth},
			},
		}
	}
	return map[string]any{
		"type":     "FeatureCollection",
		"metadata": map[string]any{"title": "quaketrack mock feed", "count": len(features)},
		"features": features,
	}
}

func flatList(events []quake.Event) []quake.Event {
	if events == nil {
		return []quake.Event{}
	}
	return events
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
