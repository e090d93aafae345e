package leader

import (
	"context"

	"github.com/opsledger/opsledger/internal/adapter"
	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/decision"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
	"github.com/opsledger/opsledger/internal/metrics"
)

// Writer is the leader-gated executor wrapper: every append passes the
// gate's pre-action check, carries the fencing token in its meta, and is
// followed by a post-action holdership confirmation.
//
// Single-threaded per replica: the adapter, gate, and append run
// sequentially on one logical worker.
type Writer struct {
	gate    *Gate
	store   eventlog.Store
	reg     *kernel.Registry
	policy  eventlog.RetryPolicy
	metrics *metrics.Metrics
	backend string
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithMetrics attaches collectors; the backend label tags the append
// series.
func WithMetrics(m *metrics.Metrics, backend string) WriterOption {
	return func(w *Writer) {
		w.metrics = m
		w.backend = backend
	}
}

// NewWriter wires the gate in front of a store.
func NewWriter(gate *Gate, store eventlog.Store, reg *kernel.Registry, policy eventlog.RetryPolicy, opts ...WriterOption) *Writer {
	w := &Writer{gate: gate, store: store, reg: reg, policy: policy}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append gates one event append. On success the stored record is returned
// even when the post-action check reports holdership loss - the append is
// already externally observable and the error tells the caller to stop
// producing further effects.
func (w *Writer) Append(ctx context.Context, event kernel.Event) (chain.Record, error) {
	token, err := w.gate.PreCheck()
	if err != nil {
		return chain.Record{}, err
	}

	meta := event.Meta
	if meta == nil {
		meta = canon.Object{}
	} else {
		meta = meta.Clone()
	}
	meta[kernel.MetaFencingToken] = canon.String(token)
	event.Meta = meta

	rec, err := eventlog.AppendWithRetry(ctx, w.store, event, w.policy)
	if err != nil {
		if w.metrics != nil && eventlog.IsConflict(err) {
			w.metrics.AppendConflicts.WithLabelValues(w.backend).Inc()
		}
		return chain.Record{}, err
	}
	if w.metrics != nil {
		w.metrics.Appends.WithLabelValues(w.backend).Inc()
	}
	if postErr := w.gate.PostCheck(ctx); postErr != nil {
		if w.metrics != nil && IsLost(postErr) {
			w.metrics.LeaderTransitions.WithLabelValues(string(StateCoolingDown)).Inc()
		}
		return rec, postErr
	}
	return rec, nil
}

// CommitTrigger runs the write pipeline for one trigger event: append the
// trigger, fold it, run the decision layer, and append the resulting
// ActionsDecided event - all by the same writer under the same leadership
// epoch, with trigger_seq pointing backwards.
//
// On holdership loss after the trigger append, the decision append is
// abandoned: the trigger is durable, the successor will re-decide from its
// own replay, and this replica stops producing effects.
func (w *Writer) CommitTrigger(ctx context.Context, a *adapter.Adapter, state kernel.State, trigger kernel.Event) (kernel.State, []decision.Action, error) {
	rec, err := w.Append(ctx, trigger)
	if err != nil {
		if IsLost(err) {
			// The trigger landed; fold it before standing down.
			if next, applyErr := w.reg.Apply(state, rec.Event); applyErr == nil {
				state = next
			}
		}
		return state, nil, err
	}

	state, err = w.reg.Apply(state, rec.Event)
	if err != nil {
		return state, nil, err
	}
	if !decision.Decides(rec.Event.Type) {
		return state, nil, nil
	}

	actions, meta, err := decision.Decide(state, rec)
	if err != nil {
		return state, nil, err
	}
	decisionEvent, err := a.Decision(rec.Event.AggregateID, decision.ProvenancePayload(actions, meta))
	if err != nil {
		return state, actions, err
	}
	decisionRec, err := w.Append(ctx, decisionEvent)
	if err != nil {
		return state, actions, err
	}
	state, err = w.reg.Apply(state, decisionRec.Event)
	if err != nil {
		return state, actions, err
	}
	return state, actions, nil
}
