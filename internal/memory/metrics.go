package memory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the store's Prometheus collectors.
type Metrics struct {
	operations         *prometheus.CounterVec
	duration           *prometheus.HistogramVec
	embeddingFallbacks prometheus.Counter
	conflicts          *prometheus.CounterVec
	events             *prometheus.CounterVec
	searchPath         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memstore",
			Name:      "operations_total",
			Help:      "Store operations by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memstore",
			Name:      "operation_duration_seconds",
			Help:      "Store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		embeddingFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memstore",
			Name:      "embedding_fallbacks_total",
			Help:      "Records persisted with a zero-vector fallback embedding.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memstore",
			Name:      "conflicts_total",
			Help:      "Uniqueness conflicts and stale-version updates.",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memstore",
			Name:      "events_total",
			Help:      "Change events by direction.",
		}, []string{"direction"}),
		searchPath: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memstore",
			Name:      "search_path_total",
			Help:      "Searches by retrieval path.",
		}, []string{"path"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.embeddingFallbacks, m.conflicts, m.events, m.searchPath)
	}
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) fallback()              { m.embeddingFallbacks.Inc() }
func (m *Metrics) conflict(reason string) { m.conflicts.WithLabelValues(reason).Inc() }
func (m *Metrics) event(direction string) { m.events.WithLabelValues(direction).Inc() }
func (m *Metrics) search(path string)     { m.searchPath.WithLabelValues(path).Inc() }
