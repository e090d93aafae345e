package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
)

// seedDecisionLog appends one observation trigger and its decision event.
func seedDecisionLog(t *testing.T) *eventlog.MemoryLog {
	t.Helper()
	ctx := context.Background()
	log := eventlog.NewMemoryLog()

	trigger := kernel.Event{
		Type:        kernel.EventAgentObserved,
		AggregateID: "agg1",
		TS:          1,
		Payload: canon.Object{
			"name":      canon.String("builder"),
			"namespace": canon.String("fleet"),
			"spec":      workerSpec(),
		},
		Meta: canon.Object{},
	}
	tail, err := log.Tail(ctx)
	require.NoError(t, err)
	triggerRec, err := log.Append(ctx, trigger, tail.LastHash)
	require.NoError(t, err)

	state, err := kernel.NewDomainRegistry().Apply(kernel.NewState(), triggerRec.Event)
	require.NoError(t, err)
	actions, meta, err := Decide(state, triggerRec)
	require.NoError(t, err)

	decisionEvent := kernel.Event{
		Type:        kernel.EventActionsDecided,
		AggregateID: "agg1",
		TS:          2,
		Payload:     ProvenancePayload(actions, meta),
		Meta:        canon.Object{},
	}
	tail, err = log.Tail(ctx)
	require.NoError(t, err)
	_, err = log.Append(ctx, decisionEvent, tail.LastHash)
	require.NoError(t, err)
	return log
}

func TestVerifyPointersAccepts(t *testing.T) {
	log := seedDecisionLog(t)
	checks, err := VerifyPointers(context.Background(), log)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.True(t, checks[0].OK)
	assert.Equal(t, int64(1), checks[0].DecisionSeq)
	assert.Equal(t, int64(0), checks[0].TriggerSeq)
}

func TestVerifyPointersDetectsWrongHash(t *testing.T) {
	log := seedDecisionLog(t)
	records, err := log.Read(context.Background(), 0, eventlog.ReadToEnd)
	require.NoError(t, err)

	// Corrupt the committed trigger hash in a copy of the record slice.
	tampered := records[1]
	tampered.Event = tampered.Event.Clone()
	tampered.Event.Payload["trigger_hash"] = canon.String(canon.ZeroHash)
	records[1] = tampered

	checks, err := VerifyPointersIn(records)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.False(t, checks[0].OK)
	assert.Equal(t, "trigger_hash mismatch", checks[0].Detail)
}

func TestVerifyPointersRequiresBackwardPointer(t *testing.T) {
	log := seedDecisionLog(t)
	records, err := log.Read(context.Background(), 0, eventlog.ReadToEnd)
	require.NoError(t, err)

	tampered := records[1]
	tampered.Event = tampered.Event.Clone()
	tampered.Event.Payload["trigger_seq"] = canon.Int(1)
	records[1] = tampered

	checks, err := VerifyPointersIn(records)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.False(t, checks[0].OK)
}
