package sampler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the sampler's Prometheus collectors.
type Metrics struct {
	Passes          prometheus.Counter
	Samples         prometheus.Counter
	Duplicated      prometheus.Counter
	SuspendFailures prometheus.Counter
	ContextFailures prometheus.Counter
	SuspendWindow   prometheus.Histogram
}

// NewMetrics creates the sampler metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Passes: factory.NewCounter(prometheus.CounterOpts{
			Name: "stacksampler_passes_total",
			Help: "Sampling passes that iterated the thread set",
		}),
		Samples: factory.NewCounter(prometheus.CounterOpts{
			Name: "stacksampler_samples_total",
			Help: "Samples captured from suspended threads",
		}),
		Duplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "stacksampler_duplicated_samples_total",
			Help: "Samples copied from the previous one because the thread was asleep",
		}),
		SuspendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "stacksampler_suspend_failures_total",
			Help: "Threads that could not be suspended",
		}),
		ContextFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "stacksampler_context_failures_total",
			Help: "Suspended threads whose register context could not be read",
		}),
		SuspendWindow: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stacksampler_suspend_window_seconds",
			Help:    "Time a thread spent suspended by the sampler",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
}
