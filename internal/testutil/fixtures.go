// Package testutil provides event fixtures and log-seeding helpers shared
// by the package test suites.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
)

// Event builds an event with the given fields and an empty meta.
func Event(eventType, aggregateID string, ts int64, payload canon.Object) kernel.Event {
	return kernel.Event{
		Type:        eventType,
		AggregateID: aggregateID,
		TS:          ts,
		Payload:     payload,
		Meta:        canon.Object{},
	}
}

// IncEvent is the canonical counter fixture: type "INC", payload {"inc":1}.
func IncEvent(ts int64) kernel.Event {
	return Event("INC", "A", ts, canon.Object{"inc": canon.Int(1)})
}

// MixedEvent cycles through four event types by index, for replay
// determinism fixtures.
func MixedEvent(i int) kernel.Event {
	types := []string{"INC", "DEC", "SET", "CLEAR"}
	return Event(types[i%len(types)], "A", int64(i+1), canon.Object{
		"n": canon.Int(int64(i)),
	})
}

// FillLog appends count events produced by gen and returns the stored
// records. Fails the test on any error.
func FillLog(t *testing.T, store eventlog.Store, count int, gen func(i int) kernel.Event) []chain.Record {
	t.Helper()
	ctx := context.Background()

	records := make([]chain.Record, 0, count)
	for i := 0; i < count; i++ {
		tail, err := store.Tail(ctx)
		require.NoError(t, err)
		rec, err := store.Append(ctx, gen(i), tail.LastHash)
		require.NoError(t, err)
		records = append(records, rec)
	}
	return records
}

// ObservedAgent is the small fixture from the decision-proof scenario: one
// observed workload of role "worker" with a 1Gi workspace.
func ObservedAgent() map[string]any {
	return map[string]any{
		"apiVersion": "workloads.opsledger.io/v1",
		"kind":       "Agent",
		"metadata": map[string]any{
			"name":              "builder",
			"namespace":         "fleet",
			"uid":               "2f9c3a9e-1111-2222-3333-444455556666",
			"resourceVersion":   "123456",
			"generation":        int64(3),
			"creationTimestamp": "2024-06-01T10:00:00Z",
		},
		"spec": map[string]any{
			"role": "worker",
			"workspace": map[string]any{
				"size": "1Gi",
			},
		},
	}
}
