package cache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records remote-tier hit/miss counters. The atomic pair feeds
// Stats() without touching Redis; the Prometheus collectors expose the same
// counts to scrapers.
type Metrics struct {
	hits   atomic.Int64
	misses atomic.Int64

	promHits   prometheus.Counter
	promMisses prometheus.Counter
}

// NewMetrics creates a recorder registered against reg. Pass a fresh
// prometheus.NewRegistry() in tests so parallel service instances do not
// collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		promHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tiercache",
			Name:      "remote_hits_total",
			Help:      "Total number of remote-tier cache hits",
		}),
		promMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tiercache",
			Name:      "remote_misses_total",
			Help:      "Total number of remote-tier cache misses",
		}),
	}
}

// Hit records a remote-tier hit.
func (m *Metrics) Hit() {
	m.hits.Add(1)
	m.promHits.Inc()
}

// Miss records a remote-tier miss.
func (m *Metrics) Miss() {
	m.misses.Add(1)
	m.promMisses.Inc()
}

// Snapshot returns the current hit and miss counts.
func (m *Metrics) Snapshot() (hits, misses int64) {
	return m.hits.Load(), m.misses.Load()
}
