// Package metrics exposes prometheus collectors for quoting, relaying and swap
// execution. Collectors are registered lazily on first use.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups the swap engine collectors
type Registry struct {
	quotes        *prometheus.CounterVec
	probeFailures *prometheus.CounterVec
	operations    *prometheus.CounterVec
	executions    *prometheus.CounterVec
	duration      prometheus.Histogram
	sponsorship   *prometheus.CounterVec
}

var (
	registryOnce sync.Once
	registry     *Registry
)

// Default returns the process-wide registry, registering collectors with the
// default prometheus registerer on first call.
func Default() *Registry {
	registryOnce.Do(func() {
		registry = New()
		prometheus.MustRegister(registry.Collectors()...)
	})
	return registry
}

// New builds an unregistered registry, useful in tests
func New() *Registry {
	return &Registry{
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "savings_swap",
			Name:      "quotes_total",
			Help:      "Quotes produced segmented by source (probe or fallback).",
		}, []string{"source"}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "savings_swap",
			Name:      "probe_failures_total",
			Help:      "Quoter probe failures segmented by fee tier.",
		}, []string{"fee_tier"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "savings_swap",
			Name:      "operations_total",
			Help:      "Relayed operations segmented by stage and outcome.",
		}, []string{"stage", "outcome"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "savings_swap",
			Name:      "executions_total",
			Help:      "Swap executions segmented by terminal outcome or error kind.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "savings_swap",
			Name:      "execution_duration_seconds",
			Help:      "Wall time from executeSwap to a terminal state.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		sponsorship: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "savings_swap",
			Name:      "sponsorship_total",
			Help:      "Sponsorship decisions segmented by mode.",
		}, []string{"mode"}),
	}
}

// Collectors lists every collector of the registry
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.quotes, r.probeFailures, r.operations, r.executions, r.duration, r.sponsorship}
}

// Quote records a produced quote
func (r *Registry) Quote(source string) {
	if r == nil {
		return
	}
	r.quotes.WithLabelValues(source).Inc()
}

// ProbeFailure records a failed quoter probe
func (r *Registry) ProbeFailure(feeTier string) {
	if r == nil {
		return
	}
	r.probeFailures.WithLabelValues(feeTier).Inc()
}

// Operation records a relay stage outcome
func (r *Registry) Operation(stage, outcome string) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(stage, outcome).Inc()
}

// Execution records a terminal execution outcome and its duration
func (r *Registry) Execution(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.executions.WithLabelValues(outcome).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// Sponsorship records a sponsorship decision
func (r *Registry) Sponsorship(mode string) {
	if r == nil {
		return
	}
	r.sponsorship.WithLabelValues(mode).Inc()
}
