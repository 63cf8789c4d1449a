// Package relay re-emits the polling state and the clustered marker layout
// to external views over WebSocket and a small JSON API.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/quaketrack/quaketrack/internal/cluster"
	"github.com/quaketrack/quaketrack/internal/metrics"
	"github.com/quaketrack/quaketrack/internal/poller"
	"github.com/quaketrack/quaketrack/internal/quake"
)

// StateSource is implemented by poller.Controller.
type StateSource interface {
	State() poller.State
}

// MarkerSource is implemented by markers.Manager.
type MarkerSource interface {
	CurrentMarkers() []quake.Event
	ExpiresAt() time.Time
}

type Options struct {
	Zoom             int
	Renderer         cluster.Renderer
	Throttle         time.Duration
	SnapshotInterval time.Duration
	MaxConnections   int
	AllowedOrigins   []string
	// FailThreshold is the number of consecutive failed fetches after which
	// the feed is reported failed rather than degraded.
	FailThreshold int
	Gatherer      prometheus.Gatherer
	Logger        zerolog.Logger
}

type Server struct {
	states         StateSource
	markers        MarkerSource
	renderer       cluster.Renderer
	zoom           int
	broadcaster    *Broadcaster
	gatherer       prometheus.Gatherer
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	failThreshold  int
	log            zerolog.Logger
	started        time.Time
	procStats      func(context.Context) ProcessStats
}

func NewServer(states StateSource, markerSrc MarkerSource, opts Options) *Server {
	s := &Server{
		states:         states,
		markers:        markerSrc,
		renderer:       opts.Renderer,
		zoom:           cluster.ClampZoom(opts.Zoom),
		gatherer:       opts.Gatherer,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		failThreshold:  opts.FailThreshold,
		log:            opts.Logger,
		started:        time.Now(),
		procStats:      processStats,
	}
	if s.failThreshold <= 0 {
		s.failThreshold = 3
	}
	throttle := opts.Throttle
	if throttle <= 0 {
		throttle = 100 * time.Millisecond
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	s.broadcaster = NewBroadcaster(s.Snapshot, s.zoom, throttle, opts.SnapshotInterval, opts.MaxConnections, s.log)
	return s
}

// Notify pushes the current state to WebSocket clients. Subscribe it to
// both the controller and the marker manager.
func (s *Server) Notify() {
	s.broadcaster.Notify()
}

// Close disconnects every WebSocket client.
func (s *Server) Close() {
	s.broadcaster.Stop()
}

// Snapshot renders the current state at zoom.
func (s *Server) Snapshot(zoom int) SnapshotPayload {
	zoom = cluster.ClampZoom(zoom)
	return SnapshotPayload{
		State:     viewState(s.states.State()),
		Layout:    s.renderer.Render(s.markers.CurrentMarkers(), zoom),
		Zoom:      zoom,
		ExpiresAt: s.markers.ExpiresAt(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/layout", s.handleLayout)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket client rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	s.log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
		}()
		for {
			var msg ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				var syntaxErr *json.SyntaxError
				var typeErr *json.UnmarshalTypeError
				if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
					s.broadcaster.sendError(c, "invalid message")
					continue
				}
				return
			}
			switch msg.Type {
			case MsgSetZoom:
				s.broadcaster.SetZoom(c, cluster.ClampZoom(msg.Zoom))
			default:
				s.broadcaster.sendError(c, "unknown message type")
			}
		}
	}()
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, viewState(s.states.State()))
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	zoom := s.zoom
	if raw := r.URL.Query().Get("zoom"); raw != "" {
		z, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid zoom", http.StatusBadRequest)
			return
		}
		zoom = z
	}
	writeJSON(w, s.Snapshot(zoom))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.states.State()
	h := HealthPayload{
		Status:              s.status(st),
		Phase:               st.Phase,
		ConsecutiveFailures: st.ConsecutiveFailures,
		LastError:           st.Message(),
		LastFetch:           st.FetchedAt,
		Markers:             len(s.markers.CurrentMarkers()),
		ExpiresAt:           s.markers.ExpiresAt(),
		Clients:             s.broadcaster.ClientCount(),
		Process:             s.procStats(r.Context()),
	}
	h.Process.Uptime = time.Since(s.started).Round(time.Second).String()
	writeJSON(w, h)
}

// status maps consecutive failures onto a health level.
func (s *Server) status(st poller.State) SourceHealthStatus {
	switch {
	case st.ConsecutiveFailures >= s.failThreshold:
		return StatusFailed
	case st.ConsecutiveFailures > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
