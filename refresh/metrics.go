package refresh

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CyclesMetric is the fully qualified name of the refresh cycle counter.
const CyclesMetric = "dashboard_token_refresh_cycles_total"

// Metrics holds the prometheus collectors of a Coordinator. A nil *Metrics
// records nothing.
type Metrics struct {
	cycles    *prometheus.CounterVec
	coalesce  prometheus.Counter
	waiters   prometheus.Histogram
	durations prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashboard",
			Subsystem: "token_refresh",
			Name:      "cycles_total",
			Help:      "Refresh network calls by outcome.",
		}, []string{"outcome"}),
		coalesce: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dashboard",
			Subsystem: "token_refresh",
			Name:      "coalesced_total",
			Help:      "Refresh requests that joined an in-flight refresh.",
		}),
		waiters: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dashboard",
			Subsystem: "token_refresh",
			Name:      "waiters",
			Help:      "Callers settled per refresh cycle.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		durations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dashboard",
			Subsystem: "token_refresh",
			Name:      "duration_seconds",
			Help:      "Duration of refresh network calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.cycles, m.coalesce, m.waiters, m.durations} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) coalesced() {
	if m == nil {
		return
	}
	m.coalesce.Inc()
}

func (m *Metrics) observe(err error, d time.Duration, waiters int) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.durations.Observe(d.Seconds())
	m.waiters.Observe(float64(waiters))
}
