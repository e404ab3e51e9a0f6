package metrics

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)

	// Consent
	ConsentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "consent_events_total", Help: "Applied opt-in/opt-out changes."},
		[]string{"action", "source"}, // optin|optout ; inbound | manual | api
	)
	OptOutListSize = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "optout_list_size", Help: "Numbers currently on the blocklist."},
	)
	PersistenceWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "persistence_write_failures_total", Help: "Failed durable writes."},
		[]string{"backend"},
	)

	// Sending
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "send_gate_decisions_total", Help: "Send gate outcomes per surface."},
		[]string{"surface", "decision"}, // single | bulk | shim ; allow | reject
	)
	ProviderSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "provider_send_total", Help: "Provider send outcomes."},
		[]string{"outcome"}, // sent | rejected | error
	)
	ProviderSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_send_duration_seconds",
			Help:    "Provider send latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
)

var registerOnce sync.Once

// MustRegister adds the service collectors to the default registry, which
// already carries the go and process collectors. Safe to call more than once;
// tests build several routers per process.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequests, HTTPDuration,
			ConsentEvents, OptOutListSize, PersistenceWriteFailures,
			GateDecisions, ProviderSendTotal, ProviderSendDuration,
		)
	})
}

// PGXPoolStats exports pool gauges when postgres is a configured backend.
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns          prometheus.Gauge
	idle           prometheus.Gauge
	acquireCount   prometheus.Gauge
	acquireLatency prometheus.Gauge
}

func NewPGXPoolStats(pool *pgxpool.Pool) *PGXPoolStats {
	m := &PGXPoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		acquireCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_acquires", Help: "Cumulative pool acquires.",
		}),
		acquireLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_acquire_seconds", Help: "Cumulative acquire latency.",
		}),
	}
	prometheus.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireLatency)

	return m
}

// Start samples the pool every interval until stop closes.
func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			m.sample()
		}
	}
}

func (m *PGXPoolStats) sample() {
	s := m.pool.Stat()
	m.conns.Set(float64(s.TotalConns()))
	m.idle.Set(float64(s.IdleConns()))
	// pool stats are cumulative already, so gauges rather than re-adding into counters
	m.acquireCount.Set(float64(s.AcquireCount()))
	m.acquireLatency.Set(s.AcquireDuration().Seconds())
}
