package kernel

import (
	"github.com/opsledger/opsledger/internal/canon"
)

// State is the immutable container derived by folding events. It is never
// persisted as ground truth; the log owns durable truth and state is
// rebuilt from it (or from a verified checkpoint plus tail).
//
// Aggregates are addressed by (namespace, id) through the state map, never
// by internal references, so cyclic object graphs cannot appear.
type State struct {
	version    int64
	aggregates map[string]map[string]canon.Value
}

// NewState returns the empty state at version 0.
func NewState() State {
	return State{aggregates: map[string]map[string]canon.Value{}}
}

// Version returns the number of events folded into this state.
func (s State) Version() int64 {
	return s.version
}

// GetAggregate returns the value stored under (namespace, id). The returned
// value is frozen; callers must not mutate it.
func (s State) GetAggregate(namespace, id string) (canon.Value, bool) {
	ns, ok := s.aggregates[namespace]
	if !ok {
		return nil, false
	}
	v, ok := ns[id]
	return v, ok
}

// SetAggregate returns a new State with (namespace, id) bound to value.
// The incoming value is deep-copied so later caller mutation cannot reach
// the stored state. Unchanged namespaces are structurally shared.
func (s State) SetAggregate(namespace, id string, value canon.Value) State {
	next := s.shallowCopyWith(namespace)
	next.aggregates[namespace][id] = canon.CloneValue(value)
	return next
}

// DeleteAggregate returns a new State with (namespace, id) removed.
// Deleting an absent aggregate is a no-op that still returns a fresh State.
func (s State) DeleteAggregate(namespace, id string) State {
	next := s.shallowCopyWith(namespace)
	delete(next.aggregates[namespace], id)
	if len(next.aggregates[namespace]) == 0 {
		delete(next.aggregates, namespace)
	}
	return next
}

// Namespaces returns the aggregate namespaces present, in canonical order.
func (s State) Namespaces() []string {
	obj := make(canon.Object, len(s.aggregates))
	for ns := range s.aggregates {
		obj[ns] = canon.Null{}
	}
	return obj.SortedKeys()
}

// AggregateIDs returns the ids present in a namespace, in canonical order.
func (s State) AggregateIDs(namespace string) []string {
	ns, ok := s.aggregates[namespace]
	if !ok {
		return nil
	}
	obj := make(canon.Object, len(ns))
	for id := range ns {
		obj[id] = canon.Null{}
	}
	return obj.SortedKeys()
}

// ToValue renders the state as a canonical value:
// {"aggregates": {ns: {id: value}}, "version": n}.
// This is the hashed representation; two states with identical content
// always render identically.
func (s State) ToValue() canon.Value {
	aggs := make(canon.Object, len(s.aggregates))
	for ns, m := range s.aggregates {
		nsObj := make(canon.Object, len(m))
		for id, v := range m {
			nsObj[id] = v
		}
		aggs[ns] = nsObj
	}
	return canon.Object{
		"aggregates": aggs,
		"version":    canon.Int(s.version),
	}
}

// Hash returns the canonical state hash: hex SHA-256 of the canonicalized
// ToValue rendering.
func (s State) Hash() (string, error) {
	return canon.HashValue(s.ToValue())
}

// bumpVersion returns the state with version incremented and aggregates
// shared. Called by the reducer after every folded event, including
// unknown-type no-ops.
func (s State) bumpVersion() State {
	s.version++
	return s
}

// shallowCopyWith copies the outer map and the one namespace about to be
// written; every other namespace map is shared with the receiver.
func (s State) shallowCopyWith(namespace string) State {
	aggs := make(map[string]map[string]canon.Value, len(s.aggregates)+1)
	for ns, m := range s.aggregates {
		aggs[ns] = m
	}
	nsCopy := make(map[string]canon.Value, len(s.aggregates[namespace])+1)
	for id, v := range s.aggregates[namespace] {
		nsCopy[id] = v
	}
	aggs[namespace] = nsCopy
	return State{version: s.version, aggregates: aggs}
}
