package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.FetchCompleted("success", 120*time.Millisecond)
	c.FetchCompleted("success", 80*time.Millisecond)
	c.FetchCompleted("network", time.Second)
	c.TickSkipped()
	c.MarkersInstalled(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.fetches.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetches.WithLabelValues("network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.skipped))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.markers))

	c.MarkersExpired()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.markers))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.expiries))

	c.StoreFailed()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeErrors))
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.FetchCompleted("schema", time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quaketrack_fetch_total{result="schema"} 1`)
	assert.Contains(t, string(body), "quaketrack_fetch_duration_seconds_count 1")
}
