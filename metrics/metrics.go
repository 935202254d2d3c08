// Package metrics exposes the Prometheus counters a session reports into:
// negotiation rounds sent, LLM call retries, and terminal session outcomes.
// A host learns the detail of a specific failure through structured logs;
// these counters are the aggregate, queryable complement.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters a Session reports into.
type Metrics struct {
	RoundsTotal     prometheus.Counter
	LLMRetriesTotal prometheus.Counter
	Outcomes        *prometheus.CounterVec
}

// New creates Metrics registered onto reg. Pass a fresh
// prometheus.NewRegistry() in production wiring; tests typically use NewNoop.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metaproto_negotiation_rounds_total",
			Help: "Total PROTOCOL_NEGOTIATION frames sent across all sessions.",
		}),
		LLMRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metaproto_llm_retries_total",
			Help: "Total LLM call retries across all sessions.",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metaproto_session_outcomes_total",
			Help: "Terminal session outcomes by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.RoundsTotal, m.LLMRetriesTotal, m.Outcomes)
	return m
}

// NewNoop returns Metrics registered onto a private, unexposed registry —
// safe to use whenever a caller doesn't wire up its own
// prometheus.Registerer, so engine.Config always has a non-nil Metrics.
func NewNoop() *Metrics {
	return New(prometheus.NewRegistry())
}
