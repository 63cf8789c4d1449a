package status

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/quaketrack/quaketrack/internal/fetch"
	"github.com/quaketrack/quaketrack/internal/poller"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRemaining(t *testing.T) {
	m := New(28 * time.Second)

	if got := m.Remaining(now); got != 0 {
		t.Errorf("no timer armed: Remaining = %v, want 0", got)
	}

	m.ExpiresAt = now.Add(14 * time.Second)
	if got := m.Remaining(now); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Remaining = %v, want 0.5", got)
	}
	if got := m.Remaining(now.Add(time.Minute)); got != 0 {
		t.Errorf("past deadline: Remaining = %v, want 0", got)
	}
	if got := m.Remaining(now.Add(-time.Minute)); got != 1 {
		t.Errorf("clamped: Remaining = %v, want 1", got)
	}
}

func TestGaugeSettles(t *testing.T) {
	m := New(28 * time.Second)
	m.ExpiresAt = now.Add(28 * time.Second)

	for i := 0; i < 100; i++ {
		m.Step(now)
	}
	if math.Abs(m.Gauge()-1) > 0.01 {
		t.Errorf("gauge should settle at 1, got %v", m.Gauge())
	}

	m.ExpiresAt = time.Time{}
	for i := 0; i < 100; i++ {
		m.Step(now)
	}
	if math.Abs(m.Gauge()) > 0.01 {
		t.Errorf("gauge should settle at 0 after expiry, got %v", m.Gauge())
	}
}

func TestViewError(t *testing.T) {
	m := New(28 * time.Second)
	m.Width = 120
	m.State = poller.State{
		Phase:               poller.Error,
		Kind:                fetch.KindStatus,
		Err:                 errors.New("unexpected status 503"),
		ConsecutiveFailures: 3,
		FetchedAt:           now,
	}
	v := m.View()
	for _, want := range []string{"error (status) x3", "unexpected status 503", "fetched"} {
		if !strings.Contains(v, want) {
			t.Errorf("view should contain %q:\n%s", want, v)
		}
	}
}

func TestViewCounts(t *testing.T) {
	m := New(28 * time.Second)
	m.Width = 120
	m.State = poller.State{Phase: poller.Success, FetchedAt: now}
	m.Markers, m.Items, m.Zoom = 12, 5, 3
	v := m.View()
	if !strings.Contains(v, "12 markers  5 items  z3") {
		t.Errorf("view should show counts:\n%s", v)
	}
	if !strings.Contains(v, "success") {
		t.Error("view should show phase")
	}
}

func TestViewIdle(t *testing.T) {
	m := New(time.Second)
	v := m.View()
	if !strings.Contains(v, "idle") {
		t.Error("zero state renders idle")
	}
	if strings.Contains(v, "fetched") {
		t.Error("idle state has no fetch time")
	}
}
