// Package metrics exposes Prometheus instrumentation for the polling loop
// and the marker lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements poller.Observer, markers.Observer and store.Observer.
type Collector struct {
	fetches      *prometheus.CounterVec
	fetchLatency prometheus.Histogram
	skipped      prometheus.Counter
	markers      prometheus.Gauge
	expiries     prometheus.Counter
	storeErrors  prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quaketrack_fetch_total",
			Help: "Completed fetches by result (success or failure kind)",
		}, []string{"result"}),
		fetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "quaketrack_fetch_duration_seconds",
			Help:    "Duration of completed fetches",
			Buckets: prometheus.DefBuckets,
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "quaketrack_ticks_skipped_total",
			Help: "Poll ticks skipped because a fetch was still in flight",
		}),
		markers: f.NewGauge(prometheus.GaugeOpts{
			Name: "quaketrack_markers",
			Help: "Markers currently displayed",
		}),
		expiries: f.NewCounter(prometheus.CounterOpts{
			Name: "quaketrack_expiries_total",
			Help: "Marker sets cleared by the expiry timer",
		}),
		storeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "quaketrack_store_errors_total",
			Help: "Errors mirroring the marker set to Redis",
		}),
	}
}

func (c *Collector) FetchCompleted(result string, d time.Duration) {
	c.fetches.WithLabelValues(result).Inc()
	c.fetchLatency.Observe(d.Seconds())
}

func (c *Collector) TickSkipped() {
	c.skipped.Inc()
}

func (c *Collector) MarkersInstalled(n int) {
	c.markers.Set(float64(n))
}

func (c *Collector) MarkersExpired() {
	c.markers.Set(0)
	c.expiries.Inc()
}

func (c *Collector) StoreFailed() {
	c.storeErrors.Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
