package relay

import (
	"time"

	"github.com/quaketrack/quaketrack/internal/cluster"
	"github.com/quaketrack/quaketrack/internal/poller"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgError    MessageType = "error"

	// Sent by clients.
	MsgSetZoom MessageType = "set_zoom"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// ClientMessage is what a WebSocket client may send.
type ClientMessage struct {
	Type MessageType `json:"type"`
	Zoom int         `json:"zoom"`
}

// SnapshotPayload is the complete view state at one zoom level.
type SnapshotPayload struct {
	State     StateView      `json:"state"`
	Layout    cluster.Layout `json:"layout"`
	Zoom      int            `json:"zoom"`
	ExpiresAt time.Time      `json:"expiresAt,omitzero"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// StateView is the wire form of poller.State.
type StateView struct {
	Phase               poller.Phase `json:"phase"`
	FetchedAt           time.Time    `json:"fetchedAt,omitzero"`
	Kind                string       `json:"kind,omitempty"`
	Error               string       `json:"error,omitempty"`
	Events              int          `json:"events"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	Seq                 uint64       `json:"seq"`
}

func viewState(s poller.State) StateView {
	v := StateView{
		Phase:               s.Phase,
		FetchedAt:           s.FetchedAt,
		Error:               s.Message(),
		Events:              len(s.Events),
		ConsecutiveFailures: s.ConsecutiveFailures,
		Seq:                 s.Seq,
	}
	if s.Phase == poller.Error {
		v.Kind = s.Kind.String()
	}
	return v
}

type SourceHealthStatus string

const (
	StatusHealthy  SourceHealthStatus = "healthy"
	StatusDegraded SourceHealthStatus = "degraded"
	StatusFailed   SourceHealthStatus = "failed"
)

// HealthPayload is served by /api/health.
type HealthPayload struct {
	Status              SourceHealthStatus `json:"status"`
	Phase               poller.Phase       `json:"phase"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	LastError           string             `json:"lastError,omitempty"`
	LastFetch           time.Time          `json:"lastFetch,omitzero"`
	Markers             int                `json:"markers"`
	ExpiresAt           time.Time          `json:"expiresAt,omitzero"`
	Clients             int                `json:"clients"`
	Process             ProcessStats       `json:"process"`
}

type ProcessStats struct {
	Uptime     string  `json:"uptime"`
	Goroutines int     `json:"goroutines"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Threads    int32   `json:"threads"`
}
