// Package metrics holds the Prometheus collectors of the discussion core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "discuss"

// Metrics groups every collector the core reports to.
type Metrics struct {
	VoteTransitions      *prometheus.CounterVec
	VoteDuration         prometheus.Histogram
	CounterDrift         *prometheus.CounterVec
	TreeOperations       *prometheus.CounterVec
	TransactionConflicts *prometheus.CounterVec
	Notifications        *prometheus.CounterVec
	KarmaCache           *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VoteTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_transitions_total",
			Help:      "Ledger transitions applied, by target kind and transition.",
		}, []string{"kind", "transition"}),
		VoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vote_cast_duration_seconds",
			Help:      "Duration of CastVote including retries.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		CounterDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_drift_total",
			Help:      "Recounts that found stored counters diverging from the ledger.",
		}, []string{"kind"}),
		TreeOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comment_tree_operations_total",
			Help:      "Comment tree writes, by operation.",
		}, []string{"op"}),
		TransactionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_conflicts_total",
			Help:      "Conflicting transactions, by operation and outcome (retried, exhausted).",
		}, []string{"op", "outcome"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatch results, by kind and status.",
		}, []string{"kind", "status"}),
		KarmaCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "karma_cache_requests_total",
			Help:      "Karma profile cache lookups, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.VoteTransitions,
		m.VoteDuration,
		m.CounterDrift,
		m.TreeOperations,
		m.TransactionConflicts,
		m.Notifications,
		m.KarmaCache,
	)
	return m
}
