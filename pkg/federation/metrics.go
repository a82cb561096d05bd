package federation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is self-observability for the fan-out client: how leader calls
// resolved, and how long they took.
type Metrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers a fresh set of fan-out metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metricsystem_fanout_leader_outcomes_total",
				Help: "Count of leader requests by terminal RequestStatus.",
			},
			[]string{"status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metricsystem_fanout_leader_duration_seconds",
				Help:    "Latency of a single leader request within a fan-out.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"status"},
		),
	}
}

// DefaultMetrics is registered against the global registry at package
// init rather than threaded through every constructor, matching how the
// rest of this module registers its metrics.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// ObserveLeader records the outcome and latency of one leader call. nil is
// tolerated so callers in tests can construct a client without metrics
// wired up.
func (m *Metrics) ObserveLeader(status RequestStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := status.String()
	m.outcomes.WithLabelValues(label).Inc()
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}
