package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/quaketrack/quaketrack/internal/cluster"
	"github.com/quaketrack/quaketrack/internal/fetch"
	"github.com/quaketrack/quaketrack/internal/metrics"
	"github.com/quaketrack/quaketrack/internal/poller"
	"github.com/quaketrack/quaketrack/internal/quake"
)

type fakeStates struct {
	mu sync.Mutex
	st poller.State
}

func (f *fakeStates) State() poller.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeStates) set(st poller.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st = st
}

type fakeMarkers struct {
	mu      sync.Mutex
	events  []quake.Event
	expires time.Time
}

func (f *fakeMarkers) CurrentMarkers() []quake.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return quake.Clone(f.events)
}

func (f *fakeMarkers) ExpiresAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expires
}

func (f *fakeMarkers) set(events ...quake.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
}

var (
	la   = quake.Event{ID: "la", Latitude: 34.0, Longitude: -118.2, Magnitude: 4.5}
	near = quake.Event{ID: "near", Latitude: 34.01, Longitude: -118.2, Magnitude: 3.1}
)

func newTestServer(t *testing.T, opts Options) (*Server, *fakeStates, *fakeMarkers) {
	t.Helper()
	states := &fakeStates{}
	markerSrc := &fakeMarkers{}
	opts.Logger = zerolog.Nop()
	s := NewServer(states, markerSrc, opts)
	t.Cleanup(s.Close)
	return s, states, markerSrc
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'self'",
	}
	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestHandleState(t *testing.T) {
	s, states, _ := newTestServer(t, Options{})
	fetchedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	states.set(poller.State{
		Phase:               poller.Error,
		FetchedAt:           fetchedAt,
		Kind:                fetch.KindStatus,
		Err:                 errors.New("GET /quakes: status 503"),
		ConsecutiveFailures: 2,
		Seq:                 9,
	})

	rec := get(t, s.Handler(), "/api/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["phase"] != "error" {
		t.Errorf("phase = %v, want error", got["phase"])
	}
	if got["kind"] != "status" {
		t.Errorf("kind = %v, want status", got["kind"])
	}
	if got["error"] != "GET /quakes: status 503" {
		t.Errorf("error = %v", got["error"])
	}
	if got["consecutiveFailures"] != float64(2) {
		t.Errorf("consecutiveFailures = %v", got["consecutiveFailures"])
	}
	if got["fetchedAt"] != "2026-03-01T12:00:00Z" {
		t.Errorf("fetchedAt = %v", got["fetchedAt"])
	}
}

func TestHandleState_IdleOmitsKind(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	rec := get(t, s.Handler(), "/api/state")

	body := rec.Body.String()
	if strings.Contains(body, `"kind"`) || strings.Contains(body, `"fetchedAt"`) {
		t.Errorf("idle state should omit kind and fetchedAt: %s", body)
	}
}

func decodeSnapshot(t *testing.T, body []byte) SnapshotPayload {
	t.Helper()
	var raw struct {
		Zoom   int `json:"zoom"`
		Layout struct {
			Zoom  int `json:"zoom"`
			Items []struct {
				Kind      string   `json:"kind"`
				Count     int      `json:"count"`
				MemberIDs []string `json:"memberIds"`
			} `json:"items"`
		} `json:"layout"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, body)
	}
	out := SnapshotPayload{Zoom: raw.Zoom, Layout: cluster.Layout{Zoom: raw.Layout.Zoom}}
	for _, it := range raw.Layout.Items {
		kind := cluster.KindSingle
		if it.Kind == "cluster" {
			kind = cluster.KindCluster
		}
		out.Layout.Items = append(out.Layout.Items, cluster.Item{Kind: kind, Count: it.Count, MemberIDs: it.MemberIDs})
	}
	return out
}

func TestHandleLayout(t *testing.T) {
	s, _, markerSrc := newTestServer(t, Options{Zoom: 2})
	markerSrc.set(la, near)
	h := s.Handler()

	tests := []struct {
		target    string
		wantZoom  int
		wantItems int
	}{
		{"/api/layout", 2, 1},
		{"/api/layout?zoom=2", 2, 1},
		{"/api/layout?zoom=18", 18, 2},
		{"/api/layout?zoom=99", 22, 2},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.target, rec.Code)
		}
		snap := decodeSnapshot(t, rec.Body.Bytes())
		if snap.Zoom != tt.wantZoom || snap.Layout.Zoom != tt.wantZoom {
			t.Errorf("%s: zoom = %d/%d, want %d", tt.target, snap.Zoom, snap.Layout.Zoom, tt.wantZoom)
		}
		if len(snap.Layout.Items) != tt.wantItems {
			t.Errorf("%s: %d items, want %d", tt.target, len(snap.Layout.Items), tt.wantItems)
		}
	}
}

func TestHandleLayout_BadZoom(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	rec := get(t, s.Handler(), "/api/layout?zoom=far")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleLayout_UsesRendererRadius(t *testing.T) {
	s, _, markerSrc := newTestServer(t, Options{Zoom: 2, Renderer: cluster.Renderer{Radius: 0.001}})
	markerSrc.set(la, near)

	snap := decodeSnapshot(t, get(t, s.Handler(), "/api/layout").Body.Bytes())
	if len(snap.Layout.Items) != 2 {
		t.Errorf("tiny radius should not cluster, got %d items", len(snap.Layout.Items))
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		failures int
		want     SourceHealthStatus
	}{
		{0, StatusHealthy},
		{1, StatusDegraded},
		{2, StatusDegraded},
		{3, StatusFailed},
		{10, StatusFailed},
	}

	s, states, markerSrc := newTestServer(t, Options{FailThreshold: 3})
	s.procStats = func(_ context.Context) ProcessStats { return ProcessStats{Goroutines: 7, RSSBytes: 1024} }
	markerSrc.set(la)

	for _, tt := range tests {
		states.set(poller.State{Phase: poller.Error, ConsecutiveFailures: tt.failures})
		rec := get(t, s.Handler(), "/api/health")

		var h HealthPayload
		if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
			t.Fatal(err)
		}
		if h.Status != tt.want {
			t.Errorf("failures=%d: status = %q, want %q", tt.failures, h.Status, tt.want)
		}
		if h.Markers != 1 {
			t.Errorf("markers = %d, want 1", h.Markers)
		}
		if h.Process.Goroutines != 7 || h.Process.RSSBytes != 1024 {
			t.Errorf("process = %+v", h.Process)
		}
		if h.Process.Uptime == "" {
			t.Error("uptime should be set")
		}
	}
}

func TestProcessStats(t *testing.T) {
	stats := processStats(context.Background())
	if stats.Goroutines == 0 {
		t.Error("expected a goroutine count")
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg).FetchCompleted("success", time.Millisecond)

	s, _, _ := newTestServer(t, Options{Gatherer: reg})
	rec := get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `quaketrack_fetch_total{result="success"} 1`) {
		t.Errorf("metrics body missing counter:\n%s", body)
	}
}

func TestMetricsRouteAbsentWithoutGatherer(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	if rec := get(t, s.Handler(), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost", nil, "http://localhost:5173", "example.com", true},
		{"loopback v6", nil, "http://[::1]:3000", "example.com", true},
		{"foreign", nil, "http://evil.test", "example.com", false},
		{"allow list hit", []string{"https://maps.test"}, "https://maps.test", "example.com", true},
		{"allow list host", []string{"https://maps.test"}, "http://maps.test", "example.com", true},
		{"allow list miss", []string{"https://maps.test"}, "http://localhost", "example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(t, Options{AllowedOrigins: tt.allowed})
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
