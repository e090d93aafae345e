package decision

import (
	"context"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
)

// PointerCheck is the verification outcome for one ActionsDecided event.
type PointerCheck struct {
	DecisionSeq int64
	TriggerSeq  int64
	OK          bool
	Detail      string
}

// VerifyPointers checks that every ActionsDecided event's trigger_hash
// matches the recomputed commitment of the record at trigger_seq. Returns
// one check per decision event; any check with OK=false means the log's
// provenance is broken.
func VerifyPointers(ctx context.Context, store eventlog.Store) ([]PointerCheck, error) {
	records, err := store.Read(ctx, 0, eventlog.ReadToEnd)
	if err != nil {
		return nil, err
	}
	return VerifyPointersIn(records)
}

// VerifyPointersIn runs the pointer check over an already-read record
// slice, e.g. inside an audit bundle that has read the log once.
func VerifyPointersIn(records []chain.Record) ([]PointerCheck, error) {
	bySeq := make(map[int64]chain.Record, len(records))
	for _, rec := range records {
		bySeq[rec.Event.Seq] = rec
	}

	var checks []PointerCheck
	for _, rec := range records {
		if rec.Event.Type != kernel.EventActionsDecided {
			continue
		}
		check := PointerCheck{DecisionSeq: rec.Event.Seq, TriggerSeq: -1}

		triggerSeq, ok := rec.Event.Payload["trigger_seq"].(canon.Int)
		if !ok {
			check.Detail = "missing trigger_seq"
			checks = append(checks, check)
			continue
		}
		check.TriggerSeq = int64(triggerSeq)

		wantHash, ok := rec.Event.Payload["trigger_hash"].(canon.String)
		if !ok {
			check.Detail = "missing trigger_hash"
			checks = append(checks, check)
			continue
		}
		trigger, ok := bySeq[int64(triggerSeq)]
		if !ok {
			check.Detail = "trigger record not in log"
			checks = append(checks, check)
			continue
		}
		if int64(triggerSeq) >= rec.Event.Seq {
			check.Detail = "trigger_seq does not point backwards"
			checks = append(checks, check)
			continue
		}

		got, err := chain.EventHash(trigger.PrevHash, trigger.Event)
		if err != nil {
			return nil, err
		}
		if got != string(wantHash) {
			check.Detail = "trigger_hash mismatch"
			checks = append(checks, check)
			continue
		}
		check.OK = true
		checks = append(checks, check)
	}
	return checks, nil
}
