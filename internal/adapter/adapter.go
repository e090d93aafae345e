// Package adapter translates externally observed cluster objects into
// canonical events.
//
// The adapter is the boundary where platform noise dies: fields assigned by
// the platform (identifiers, counters, server timestamps) are stripped,
// platform defaulting is materialized so semantically identical specs
// collapse to the same payload, and enumerated fields are normalized to a
// single canonical case. Canonicalization errors (e.g. a float in an
// observed field) are raised here, never inside the reducer or decision
// layer.
package adapter

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/kernel"
)

// Adapter builds canonical events from observed objects. It owns the
// deterministic clock for its writer: the clock is advanced exactly once
// per emitted event, and the advanced clock is rebound internally.
//
// Not safe for concurrent use; the write path is single-threaded per
// replica by design.
type Adapter struct {
	writerID    string
	hashVersion string
	clock       kernel.LogicalClock
}

// New returns an adapter stamping events for the given writer identity and
// hash version, continuing from the supplied clock position.
func New(writerID, hashVersion string, clock kernel.LogicalClock) (*Adapter, error) {
	switch hashVersion {
	case chain.VersionV1, chain.VersionV2:
	default:
		return nil, fmt.Errorf("adapter: unknown hash version %q", hashVersion)
	}
	if writerID == "" {
		return nil, fmt.Errorf("adapter: empty writer id")
	}
	return &Adapter{writerID: writerID, hashVersion: hashVersion, clock: clock}, nil
}

// Clock returns the adapter's current clock position, for checkpointing.
func (a *Adapter) Clock() kernel.LogicalClock {
	return a.clock
}

// ObserveAgent translates one observed Agent resource into an
// AgentObserved event.
func (a *Adapter) ObserveAgent(obj *unstructured.Unstructured) (kernel.Event, error) {
	name := obj.GetName()
	namespace := obj.GetNamespace()
	if name == "" {
		return kernel.Event{}, fmt.Errorf("adapter: observed object has no name")
	}

	rawSpec, _, err := unstructured.NestedMap(obj.Object, "spec")
	if err != nil {
		return kernel.Event{}, fmt.Errorf("adapter: read spec of %s/%s: %w", namespace, name, err)
	}
	spec, err := NormalizeAgentSpec(rawSpec)
	if err != nil {
		return kernel.Event{}, fmt.Errorf("adapter: %s/%s: %w", namespace, name, err)
	}

	payload := canon.Object{
		"name":      canon.String(name),
		"namespace": canon.String(namespace),
		"spec":      spec,
	}
	return a.emit(kernel.EventAgentObserved, AggregateID(namespace, name), payload)
}

// RemoveAgent translates the disappearance of an Agent resource into an
// AgentRemoved event.
func (a *Adapter) RemoveAgent(namespace, name string) (kernel.Event, error) {
	if name == "" {
		return kernel.Event{}, fmt.Errorf("adapter: removed object has no name")
	}
	payload := canon.Object{
		"name":      canon.String(name),
		"namespace": canon.String(namespace),
	}
	return a.emit(kernel.EventAgentRemoved, AggregateID(namespace, name), payload)
}

// ActionApplied records the executor's feedback for one materialized
// action. The outcome string is normalized to lower case.
func (a *Adapter) ActionApplied(aggregateID, actionID, target, outcome string) (kernel.Event, error) {
	if actionID == "" {
		return kernel.Event{}, fmt.Errorf("adapter: applied feedback without action id")
	}
	payload := canon.Object{
		"action_id": canon.String(actionID),
		"target":    canon.String(target),
		"outcome":   canon.String(normalizeEnum(outcome)),
	}
	return a.emit(kernel.EventActionApplied, aggregateID, payload)
}

// Decision wraps a decision provenance payload into an ActionsDecided
// event for the same aggregate, stamped by this writer's clock. The caller
// appends it immediately after the trigger, under the same leadership
// epoch.
func (a *Adapter) Decision(aggregateID string, payload canon.Object) (kernel.Event, error) {
	return a.emit(kernel.EventActionsDecided, aggregateID, payload)
}

// emit stamps the event with the next logical timestamp and the writer
// meta. Seq stays 0 here; the store assigns it at append time.
func (a *Adapter) emit(eventType, aggregateID string, payload canon.Object) (kernel.Event, error) {
	next, ts := a.clock.Tick()
	a.clock = next
	return kernel.Event{
		Type:        eventType,
		AggregateID: aggregateID,
		TS:          ts,
		Payload:     payload,
		Meta:        a.buildMeta(),
	}, nil
}

func (a *Adapter) buildMeta() canon.Object {
	meta := canon.Object{
		kernel.MetaWriterID: canon.String(a.writerID),
	}
	if a.hashVersion != chain.VersionV1 {
		meta[kernel.MetaHashVersion] = canon.String(a.hashVersion)
	}
	return meta
}

// AggregateID derives the stable aggregate key from the namespace-qualified
// name. Content-derived: the same resource always maps to the same key.
func AggregateID(namespace, name string) string {
	return canon.MustStableID(canon.String("agent"), canon.String(namespace+"/"+name))
}
