package discard

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts discard activity for the /metrics endpoint.
type Metrics struct {
	passesTotal     prometheus.Counter
	discardedTotal  *prometheus.CounterVec
	discardFailures prometheus.Counter
	passDuration    prometheus.Histogram
}

// InitMetrics registers discard metrics on reg.
// Passing nil uses the default registerer.
func InitMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		passesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discard_passes_total",
				Help:      "Total number of discard passes run",
			},
		),
		discardedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tabs_discarded_total",
				Help:      "Total number of tabs discarded",
			},
			[]string{"reason"},
		),
		discardFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discard_failures_total",
				Help:      "Total number of failed discard actions",
			},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "discard_pass_duration_seconds",
				Help:      "Duration of discard passes",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10},
			},
		),
	}

	reg.MustRegister(
		m.passesTotal,
		m.discardedTotal,
		m.discardFailures,
		m.passDuration,
	)

	return m
}

func (m *Metrics) observePass(seconds float64) {
	if m == nil {
		return
	}
	m.passesTotal.Inc()
	m.passDuration.Observe(seconds)
}

func (m *Metrics) observeDiscard(reason string) {
	if m == nil {
		return
	}
	m.discardedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeFailure() {
	if m == nil {
		return
	}
	m.discardFailures.Inc()
}
