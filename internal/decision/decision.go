// Package decision implements the pure policy layer: from the current
// state and a triggering event, derive the ordered set of intended actions
// together with provenance binding the decision to its trigger.
//
// The layer is pure by contract: no I/O, no environment reads, no random
// sources, no wall-clock. Every input that can influence actions is
// normalized before use, and the output ordering is fixed by the
// content-addressed action ids, so a hundred invocations over the same
// inputs produce the same list, the same ids, and the same actions hash.
package decision

import (
	"fmt"
	"sort"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/kernel"
)

// Action types the policy can intend.
const (
	ActionEnsureWorkspace  = "EnsureWorkspace"
	ActionEnsureRuntime    = "EnsureRuntime"
	ActionSuspendRuntime   = "SuspendRuntime"
	ActionTeardownRuntime  = "TeardownRuntime"
	ActionReleaseWorkspace = "ReleaseWorkspace"
)

// Action is one intended effect on the outside world.
type Action struct {
	// Type is the enumerated action kind.
	Type string

	// Target identifies the external object the action would produce or
	// modify.
	Target string

	// Params carries the action body, canonicalized.
	Params canon.Object

	// ID is the hash of the canonicalized (type, target, params) tuple.
	// It provides stable ordering and dedup; ties are impossible because
	// it is a cryptographic hash of the action content.
	ID string
}

// NewAction computes the content-addressed id and returns the action.
func NewAction(actionType, target string, params canon.Object) (Action, error) {
	if params == nil {
		params = canon.Object{}
	}
	id, err := canon.StableID(canon.String(actionType), canon.String(target), params)
	if err != nil {
		return Action{}, fmt.Errorf("action %s on %s: %w", actionType, target, err)
	}
	return Action{Type: actionType, Target: target, Params: params, ID: id}, nil
}

// ToValue renders the action for audit output.
func (a Action) ToValue() canon.Object {
	return canon.Object{
		"action_type": canon.String(a.Type),
		"target":      canon.String(a.Target),
		"params":      a.Params,
		"action_id":   canon.String(a.ID),
	}
}

// Meta is the decision provenance: the trigger pointer plus the commitment
// to the decided action list.
type Meta struct {
	TriggerSeq  int64
	TriggerHash string
	ActionsHash string
	ActionIDs   []string
}

// Decides reports whether the policy produces a decision event for this
// trigger type. Decisions trigger on observations and removals; feedback
// and decision events themselves never re-trigger.
func Decides(eventType string) bool {
	return eventType == kernel.EventAgentObserved || eventType == kernel.EventAgentRemoved
}

// Decide derives the intended actions for a trigger record against the
// state that includes the trigger. The returned list is deduplicated and
// sorted ascending by action id; the meta carries the trigger pointer.
func Decide(state kernel.State, trigger chain.Record) ([]Action, Meta, error) {
	actions, err := intend(state, trigger.Event)
	if err != nil {
		return nil, Meta{}, err
	}
	actions = dedupSort(actions)

	ids := make(canon.Array, len(actions))
	idStrings := make([]string, len(actions))
	for i, a := range actions {
		ids[i] = canon.String(a.ID)
		idStrings[i] = a.ID
	}
	actionsHash, err := canon.HashValue(ids)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("decision: hash action ids: %w", err)
	}

	// The trigger pointer recomputes the commitment from event content so
	// the decision binds to what the trigger actually says, not to a
	// stored field.
	triggerHash, err := chain.EventHash(trigger.PrevHash, trigger.Event)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("decision: trigger hash: %w", err)
	}

	return actions, Meta{
		TriggerSeq:  trigger.Event.Seq,
		TriggerHash: triggerHash,
		ActionsHash: actionsHash,
		ActionIDs:   idStrings,
	}, nil
}

// ProvenancePayload renders the ActionsDecided event payload for a
// decision, including one sample action for audit.
func ProvenancePayload(actions []Action, meta Meta) canon.Object {
	ids := make(canon.Array, len(meta.ActionIDs))
	for i, id := range meta.ActionIDs {
		ids[i] = canon.String(id)
	}
	payload := canon.Object{
		"trigger_seq":  canon.Int(meta.TriggerSeq),
		"trigger_hash": canon.String(meta.TriggerHash),
		"actions_hash": canon.String(meta.ActionsHash),
		"action_ids":   ids,
	}
	if len(actions) > 0 {
		payload["sample_action"] = actions[0].ToValue()
	}
	return payload
}

// intend is the policy proper: the unordered intention set for a trigger.
func intend(state kernel.State, trigger kernel.Event) ([]Action, error) {
	switch trigger.Type {
	case kernel.EventAgentObserved:
		return intendForAgent(state, trigger)
	case kernel.EventAgentRemoved:
		return intendTeardown(trigger)
	default:
		return nil, nil
	}
}

func intendForAgent(state kernel.State, trigger kernel.Event) ([]Action, error) {
	agent, ok := state.GetAggregate(kernel.NamespaceAgents, trigger.AggregateID)
	if !ok {
		// The trigger has been folded before deciding, so a missing
		// aggregate means the caller replayed to the wrong seq.
		return nil, fmt.Errorf("decision: aggregate %s absent from state", trigger.AggregateID)
	}
	obj, ok := agent.(canon.Object)
	if !ok {
		return nil, fmt.Errorf("decision: aggregate %s is not an object", trigger.AggregateID)
	}

	name := stringField(obj, "name")
	namespace := stringField(obj, "namespace")
	spec, _ := obj["spec"].(canon.Object)
	target := namespace + "/" + name

	if paused, ok := spec["paused"].(canon.Bool); ok && bool(paused) {
		suspend, err := NewAction(ActionSuspendRuntime, target, canon.Object{
			"agent": canon.String(trigger.AggregateID),
		})
		if err != nil {
			return nil, err
		}
		return []Action{suspend}, nil
	}

	size := canon.String("")
	if ws, ok := spec["workspace"].(canon.Object); ok {
		if s, ok := ws["size"].(canon.String); ok {
			size = s
		}
	}
	workspace, err := NewAction(ActionEnsureWorkspace, target+"-workspace", canon.Object{
		"agent": canon.String(trigger.AggregateID),
		"size":  size,
	})
	if err != nil {
		return nil, err
	}

	role := canon.String("")
	if r, ok := spec["role"].(canon.String); ok {
		role = r
	}
	replicas := canon.Int(1)
	if n, ok := spec["replicas"].(canon.Int); ok {
		replicas = n
	}
	runtime, err := NewAction(ActionEnsureRuntime, target, canon.Object{
		"agent":    canon.String(trigger.AggregateID),
		"role":     role,
		"replicas": replicas,
	})
	if err != nil {
		return nil, err
	}

	return []Action{workspace, runtime}, nil
}

func intendTeardown(trigger kernel.Event) ([]Action, error) {
	name := stringField(trigger.Payload, "name")
	namespace := stringField(trigger.Payload, "namespace")
	target := namespace + "/" + name

	teardown, err := NewAction(ActionTeardownRuntime, target, canon.Object{
		"agent": canon.String(trigger.AggregateID),
	})
	if err != nil {
		return nil, err
	}
	release, err := NewAction(ActionReleaseWorkspace, target+"-workspace", canon.Object{
		"agent": canon.String(trigger.AggregateID),
	})
	if err != nil {
		return nil, err
	}
	return []Action{teardown, release}, nil
}

// dedupSort removes duplicate ids and orders ascending by id.
func dedupSort(actions []Action) []Action {
	seen := make(map[string]bool, len(actions))
	out := actions[:0]
	for _, a := range actions {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func stringField(obj canon.Object, key string) string {
	if s, ok := obj[key].(canon.String); ok {
		return string(s)
	}
	return ""
}
