// Package replay reconstructs state by folding the reducer over the event
// log. For any prefix of the log the resulting state hash is identical
// across runs, hosts, and processes - that property is what every verifier
// in the system leans on.
package replay

import (
	"context"
	"fmt"

	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
)

// Replay folds the whole log (or the prefix up to and including toSeq; pass
// eventlog.ReadToEnd for all) and returns the resulting state.
func Replay(ctx context.Context, store eventlog.Store, reg *kernel.Registry, toSeq int64) (kernel.State, error) {
	records, err := store.Read(ctx, 0, toSeq)
	if err != nil {
		return kernel.State{}, err
	}
	return Fold(kernel.NewState(), records, reg)
}

// Resume folds only events strictly after afterSeq onto a starting state,
// e.g. a verified checkpoint state. The caller is responsible for the
// starting state's provenance.
func Resume(ctx context.Context, store eventlog.Store, reg *kernel.Registry, start kernel.State, afterSeq int64) (kernel.State, error) {
	records, err := store.Read(ctx, afterSeq+1, eventlog.ReadToEnd)
	if err != nil {
		return kernel.State{}, err
	}
	return Fold(start, records, reg)
}

// Fold applies the reducer to each record in order. Integrity of the
// record slice is the reader's concern; Fold trusts its input ordering and
// only enforces the reducer's own version accounting.
func Fold(start kernel.State, records []chain.Record, reg *kernel.Registry) (kernel.State, error) {
	state := start
	for _, rec := range records {
		next, err := reg.Apply(state, rec.Event)
		if err != nil {
			return kernel.State{}, fmt.Errorf("replay at seq %d: %w", rec.Event.Seq, err)
		}
		if next.Version() != state.Version()+1 {
			return kernel.State{}, fmt.Errorf("replay at seq %d: version %d after folding onto %d",
				rec.Event.Seq, next.Version(), state.Version())
		}
		state = next
	}
	return state, nil
}
