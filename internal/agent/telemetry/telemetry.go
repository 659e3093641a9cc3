// Package telemetry exposes the agent loop's operational counters via
// Prometheus. Construct one instance per process and share it across
// orchestrator instances; all methods are safe on a nil receiver so tests
// can pass nil.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry aggregates agent-loop metrics.
type Telemetry struct {
	requests        *prometheus.CounterVec
	steps           *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	providerLatency prometheus.Histogram
	searches        prometheus.Counter
}

// New registers the metric set against reg (pass prometheus.DefaultRegisterer
// in production).
func New(reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	return &Telemetry{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultmind_agent_requests_total",
			Help: "Agent requests by terminal outcome.",
		}, []string{"outcome"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultmind_agent_steps_total",
			Help: "Reasoning steps recorded, by category.",
		}, []string{"category"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultmind_llm_tokens_total",
			Help: "Tokens consumed by direction (prompt/completion).",
		}, []string{"direction"}),
		providerLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultmind_llm_request_seconds",
			Help:    "Latency of completion provider calls.",
			Buckets: prometheus.DefBuckets,
		}),
		searches: factory.NewCounter(prometheus.CounterOpts{
			Name: "vaultmind_web_searches_total",
			Help: "Web search tool invocations.",
		}),
	}
}

// ObserveOutcome counts one finished request.
func (t *Telemetry) ObserveOutcome(outcome string) {
	if t == nil {
		return
	}
	t.requests.WithLabelValues(outcome).Inc()
}

// CountStep counts one recorded reasoning step.
func (t *Telemetry) CountStep(category string) {
	if t == nil {
		return
	}
	t.steps.WithLabelValues(category).Inc()
}

// AddTokens accumulates provider token usage.
func (t *Telemetry) AddTokens(prompt, completion int64) {
	if t == nil {
		return
	}
	t.tokens.WithLabelValues("prompt").Add(float64(prompt))
	t.tokens.WithLabelValues("completion").Add(float64(completion))
}

// ObserveProviderLatency records one provider round-trip duration.
func (t *Telemetry) ObserveProviderLatency(d time.Duration) {
	if t == nil {
		return
	}
	t.providerLatency.Observe(d.Seconds())
}

// CountSearch counts one search tool invocation.
func (t *Telemetry) CountSearch() {
	if t == nil {
		return
	}
	t.searches.Inc()
}
