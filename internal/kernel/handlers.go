package kernel

import (
	"fmt"

	"github.com/opsledger/opsledger/internal/canon"
)

// Event types understood by the domain registry.
const (
	// EventAgentObserved records a normalized observation of a workload
	// agent resource, emitted by the adapter.
	EventAgentObserved = "AgentObserved"

	// EventAgentRemoved records that an observed agent disappeared.
	EventAgentRemoved = "AgentRemoved"

	// EventActionsDecided records the decision layer's output for a
	// trigger event, with the trigger pointer for provenance.
	EventActionsDecided = "ActionsDecided"

	// EventActionApplied records the executor's feedback after an
	// intended action was materialized in the outside world.
	EventActionApplied = "ActionApplied"
)

// Aggregate namespaces used by the domain handlers.
const (
	// NamespaceAgents holds the latest normalized spec per observed agent.
	NamespaceAgents = "agents"

	// NamespaceDecisions holds the latest decision provenance per agent.
	NamespaceDecisions = "decisions"

	// NamespaceApplied holds applied-action outcomes per agent.
	NamespaceApplied = "applied"
)

// NewDomainRegistry returns the reducer registry for the operator domain.
// Handler dispatch covers observations, removals, decisions, and executor
// feedback; any other event type is a version-bumping no-op.
func NewDomainRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(EventAgentObserved, applyAgentObserved)
	r.MustRegister(EventAgentRemoved, applyAgentRemoved)
	r.MustRegister(EventActionsDecided, applyActionsDecided)
	r.MustRegister(EventActionApplied, applyActionApplied)
	return r
}

// applyAgentObserved replaces the agent aggregate with the observed,
// normalized payload. The adapter has already stripped platform-assigned
// fields and materialized defaults, so identical specs collapse here.
func applyAgentObserved(state State, event Event) (State, error) {
	return state.SetAggregate(NamespaceAgents, event.AggregateID, event.Payload), nil
}

// applyAgentRemoved drops the agent aggregate together with its decision
// and applied-action records.
func applyAgentRemoved(state State, event Event) (State, error) {
	next := state.DeleteAggregate(NamespaceAgents, event.AggregateID)
	next = next.DeleteAggregate(NamespaceDecisions, event.AggregateID)
	next = next.DeleteAggregate(NamespaceApplied, event.AggregateID)
	return next, nil
}

// applyActionsDecided records the decision provenance for the aggregate.
// The payload carries the trigger pointer; replacing wholesale keeps only
// the latest decision, which is all the executor consults.
func applyActionsDecided(state State, event Event) (State, error) {
	for _, field := range []string{"trigger_seq", "trigger_hash", "actions_hash", "action_ids"} {
		if _, ok := event.Payload[field]; !ok {
			return State{}, fmt.Errorf("decision payload missing %q", field)
		}
	}
	return state.SetAggregate(NamespaceDecisions, event.AggregateID, event.Payload), nil
}

// applyActionApplied merges one applied-action outcome into the aggregate's
// applied map, keyed by action id.
func applyActionApplied(state State, event Event) (State, error) {
	actionID, ok := event.Payload["action_id"].(canon.String)
	if !ok || actionID == "" {
		return State{}, fmt.Errorf("applied payload missing action_id")
	}
	outcome, ok := event.Payload["outcome"]
	if !ok {
		outcome = canon.String("applied")
	}

	applied := canon.Object{}
	if prev, exists := state.GetAggregate(NamespaceApplied, event.AggregateID); exists {
		if prevObj, isObj := prev.(canon.Object); isObj {
			applied = prevObj.Clone()
		}
	}
	applied[string(actionID)] = canon.Object{
		"outcome": outcome,
		"seq":     canon.Int(event.Seq),
	}
	return state.SetAggregate(NamespaceApplied, event.AggregateID, applied), nil
}
