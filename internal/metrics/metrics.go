// Package metrics provides Prometheus collectors for the engine's write
// and verification paths. Exposition is left to the embedding operator
// process; this package only registers and updates collectors on a
// caller-supplied registry, so embedding two engines in one process keeps
// their series separate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's collectors.
//
// Series exposed (all namespaced "opsledger_"):
//   - appends_total{backend}: successful appends
//   - append_conflicts_total{backend}: lost CAS races
//   - integrity_failures_total: chain verification failures observed
//   - replayed_events_total: events folded by replay runs
//   - leader_transitions_total{to}: gate state changes
//   - head_rebuilds_total: object-store head rebuilt from a full listing
type Metrics struct {
	Appends           *prometheus.CounterVec
	AppendConflicts   *prometheus.CounterVec
	IntegrityFailures prometheus.Counter
	ReplayedEvents    prometheus.Counter
	LeaderTransitions *prometheus.CounterVec
	HeadRebuilds      prometheus.Counter
}

// New registers the collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Appends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsledger",
			Name:      "appends_total",
			Help:      "Events appended to the log.",
		}, []string{"backend"}),
		AppendConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsledger",
			Name:      "append_conflicts_total",
			Help:      "Conditional appends lost to a concurrent writer.",
		}, []string{"backend"}),
		IntegrityFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "opsledger",
			Name:      "integrity_failures_total",
			Help:      "Chain verification failures observed by readers.",
		}),
		ReplayedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "opsledger",
			Name:      "replayed_events_total",
			Help:      "Events folded by replay runs.",
		}),
		LeaderTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsledger",
			Name:      "leader_transitions_total",
			Help:      "Leader gate state transitions.",
		}, []string{"to"}),
		HeadRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "opsledger",
			Name:      "head_rebuilds_total",
			Help:      "Object-store head indicator rebuilds via full listing.",
		}),
	}
}
