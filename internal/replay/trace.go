package replay

import (
	"fmt"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/kernel"
)

// TraceEntry records one fold step for auditing: the event identity plus
// the state hash before and after it was applied.
type TraceEntry struct {
	Seq         int64  `json:"seq"`
	Type        string `json:"type"`
	AggregateID string `json:"aggregate_id"`
	PreHash     string `json:"pre_hash"`
	PostHash    string `json:"post_hash"`
}

// Trace folds the records like Fold while emitting one entry per event.
// Costs a state hash per step; use for audits, not hot paths.
func Trace(start kernel.State, records []chain.Record, reg *kernel.Registry) ([]TraceEntry, kernel.State, error) {
	state := start
	entries := make([]TraceEntry, 0, len(records))
	for _, rec := range records {
		pre, err := state.Hash()
		if err != nil {
			return nil, kernel.State{}, fmt.Errorf("trace at seq %d: %w", rec.Event.Seq, err)
		}
		next, err := reg.Apply(state, rec.Event)
		if err != nil {
			return nil, kernel.State{}, fmt.Errorf("trace at seq %d: %w", rec.Event.Seq, err)
		}
		post, err := next.Hash()
		if err != nil {
			return nil, kernel.State{}, fmt.Errorf("trace at seq %d: %w", rec.Event.Seq, err)
		}
		entries = append(entries, TraceEntry{
			Seq:         rec.Event.Seq,
			Type:        rec.Event.Type,
			AggregateID: rec.Event.AggregateID,
			PreHash:     pre,
			PostHash:    post,
		})
		state = next
	}
	return entries, state, nil
}

// FieldDiff describes one divergence between two states.
type FieldDiff struct {
	Namespace   string `json:"namespace"`
	AggregateID string `json:"aggregate_id"`
	Detail      string `json:"detail"`
}

// Diff compares two states aggregate by aggregate. Present/absent
// mismatches and value differences each produce one entry; identical
// states produce none. Version differences are reported first.
func Diff(a, b kernel.State) []FieldDiff {
	var diffs []FieldDiff
	if a.Version() != b.Version() {
		diffs = append(diffs, FieldDiff{
			Detail: fmt.Sprintf("version %d vs %d", a.Version(), b.Version()),
		})
	}

	seen := map[string]bool{}
	for _, ns := range append(a.Namespaces(), b.Namespaces()...) {
		if seen[ns] {
			continue
		}
		seen[ns] = true

		ids := map[string]bool{}
		for _, id := range append(a.AggregateIDs(ns), b.AggregateIDs(ns)...) {
			if ids[id] {
				continue
			}
			ids[id] = true

			av, aok := a.GetAggregate(ns, id)
			bv, bok := b.GetAggregate(ns, id)
			switch {
			case aok && !bok:
				diffs = append(diffs, FieldDiff{Namespace: ns, AggregateID: id, Detail: "absent in second state"})
			case !aok && bok:
				diffs = append(diffs, FieldDiff{Namespace: ns, AggregateID: id, Detail: "absent in first state"})
			case !canon.Equal(av, bv):
				diffs = append(diffs, FieldDiff{Namespace: ns, AggregateID: id, Detail: "values differ"})
			}
		}
	}
	return diffs
}

// StateHashOf is a convenience for verifiers comparing replays: the state
// hash after folding records from genesis.
func StateHashOf(records []chain.Record, reg *kernel.Registry) (string, error) {
	state, err := Fold(kernel.NewState(), records, reg)
	if err != nil {
		return "", err
	}
	return state.Hash()
}
