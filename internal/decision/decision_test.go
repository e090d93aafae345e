package decision

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/kernel"
)

func observedTrigger(t *testing.T, spec canon.Object) (kernel.State, chain.Record) {
	t.Helper()
	payload := canon.Object{
		"name":      canon.String("builder"),
		"namespace": canon.String("fleet"),
		"spec":      spec,
	}
	event := kernel.Event{
		Type:        kernel.EventAgentObserved,
		AggregateID: "agg1",
		Seq:         0,
		TS:          1,
		Payload:     payload,
		Meta:        canon.Object{},
	}
	rec, err := chain.Seal(canon.ZeroHash, event)
	require.NoError(t, err)

	state, err := kernel.NewDomainRegistry().Apply(kernel.NewState(), rec.Event)
	require.NoError(t, err)
	return state, rec
}

func workerSpec() canon.Object {
	return canon.Object{
		"role":      canon.String("worker"),
		"replicas":  canon.Int(1),
		"paused":    canon.Bool(false),
		"workspace": canon.Object{"size": canon.String("1Gi")},
	}
}

func TestDecideWorkerProducesWorkspaceAndRuntime(t *testing.T) {
	state, rec := observedTrigger(t, workerSpec())
	actions, meta, err := Decide(state, rec)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	types := []string{actions[0].Type, actions[1].Type}
	sort.Strings(types)
	assert.Equal(t, []string{ActionEnsureRuntime, ActionEnsureWorkspace}, types)
	assert.Equal(t, int64(0), meta.TriggerSeq)
	assert.Equal(t, rec.EventHash, meta.TriggerHash)
}

func TestDecideIsDeterministic(t *testing.T) {
	state, rec := observedTrigger(t, workerSpec())

	first, firstMeta, err := Decide(state, rec)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		actions, meta, err := Decide(state, rec)
		require.NoError(t, err)
		require.Len(t, actions, len(first))
		for j := range actions {
			assert.Equal(t, first[j].ID, actions[j].ID)
		}
		assert.Equal(t, firstMeta.ActionsHash, meta.ActionsHash)
		assert.Equal(t, firstMeta.ActionIDs, meta.ActionIDs)
	}
}

func TestDecideOutputSortedByActionID(t *testing.T) {
	state, rec := observedTrigger(t, workerSpec())
	actions, _, err := Decide(state, rec)
	require.NoError(t, err)

	ids := make([]string, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestDecidePausedSuspends(t *testing.T) {
	spec := workerSpec()
	spec["paused"] = canon.Bool(true)
	state, rec := observedTrigger(t, spec)

	actions, _, err := Decide(state, rec)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionSuspendRuntime, actions[0].Type)
}

func TestDecideRemovalTearsDown(t *testing.T) {
	state, rec := observedTrigger(t, workerSpec())

	removal := kernel.Event{
		Type:        kernel.EventAgentRemoved,
		AggregateID: "agg1",
		Seq:         1,
		TS:          2,
		Payload: canon.Object{
			"name":      canon.String("builder"),
			"namespace": canon.String("fleet"),
		},
		Meta: canon.Object{},
	}
	removalRec, err := chain.Seal(rec.EventHash, removal)
	require.NoError(t, err)
	state, err = kernel.NewDomainRegistry().Apply(state, removalRec.Event)
	require.NoError(t, err)

	actions, _, err := Decide(state, removalRec)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	types := []string{actions[0].Type, actions[1].Type}
	sort.Strings(types)
	assert.Equal(t, []string{ActionReleaseWorkspace, ActionTeardownRuntime}, types)
}

func TestDecideNonTriggerTypesProduceNothing(t *testing.T) {
	assert.False(t, Decides(kernel.EventActionsDecided))
	assert.False(t, Decides(kernel.EventActionApplied))
	assert.True(t, Decides(kernel.EventAgentObserved))
	assert.True(t, Decides(kernel.EventAgentRemoved))
}

func TestActionIDCommitsToContent(t *testing.T) {
	a, err := NewAction(ActionEnsureRuntime, "fleet/builder", canon.Object{"role": canon.String("worker")})
	require.NoError(t, err)
	b, err := NewAction(ActionEnsureRuntime, "fleet/builder", canon.Object{"role": canon.String("driver")})
	require.NoError(t, err)
	c, err := NewAction(ActionEnsureRuntime, "fleet/builder", canon.Object{"role": canon.String("worker")})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.ID, c.ID)
	assert.True(t, canon.IsHexHash(a.ID))
}

func TestActionsHashCommitsToIDList(t *testing.T) {
	state, rec := observedTrigger(t, workerSpec())
	_, meta, err := Decide(state, rec)
	require.NoError(t, err)

	ids := make(canon.Array, len(meta.ActionIDs))
	for i, id := range meta.ActionIDs {
		ids[i] = canon.String(id)
	}
	want, err := canon.HashValue(ids)
	require.NoError(t, err)
	assert.Equal(t, want, meta.ActionsHash)
}

func TestProvenancePayloadShape(t *testing.T) {
	state, rec := observedTrigger(t, workerSpec())
	actions, meta, err := Decide(state, rec)
	require.NoError(t, err)

	payload := ProvenancePayload(actions, meta)
	assert.Equal(t, canon.Int(0), payload["trigger_seq"])
	assert.Equal(t, canon.String(rec.EventHash), payload["trigger_hash"])
	assert.Equal(t, canon.String(meta.ActionsHash), payload["actions_hash"])
	assert.Len(t, payload["action_ids"].(canon.Array), 2)
	sample := payload["sample_action"].(canon.Object)
	assert.Equal(t, canon.String(actions[0].ID), sample["action_id"])
}
