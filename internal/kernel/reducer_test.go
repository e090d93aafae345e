package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/opsledger/internal/canon"
)

func event(eventType, agg string, seq, ts int64, payload canon.Object) Event {
	return Event{Type: eventType, AggregateID: agg, Seq: seq, TS: ts, Payload: payload, Meta: canon.Object{}}
}

func TestApplyUnknownTypeBumpsVersion(t *testing.T) {
	reg := NewRegistry()
	s0 := NewState()

	s1, err := reg.Apply(s0, event("Mystery", "a", 0, 1, canon.Object{}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), s1.Version())
	assert.Empty(t, s1.Namespaces())
}

func TestApplyRejectsMalformedEvents(t *testing.T) {
	reg := NewRegistry()
	s := NewState()

	tests := []struct {
		name string
		ev   Event
	}{
		{"missing type", event("", "a", 0, 1, canon.Object{})},
		{"missing aggregate", event("X", "", 0, 1, canon.Object{})},
		{"negative seq", event("X", "a", -1, 1, canon.Object{})},
		{"negative ts", event("X", "a", 0, -1, canon.Object{})},
		{"nil payload", Event{Type: "X", AggregateID: "a", TS: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Apply(s, tt.ev)
			assert.Error(t, err)
		})
	}
}

func TestApplyVersionAccountingCentralized(t *testing.T) {
	reg := NewRegistry()
	// A handler that tries to meddle with versions cannot: Apply owns them.
	reg.MustRegister("SET", func(s State, e Event) (State, error) {
		return s.SetAggregate("ns", e.AggregateID, e.Payload), nil
	})

	s := NewState()
	for i := int64(0); i < 5; i++ {
		next, err := reg.Apply(s, event("SET", "a", i, i+1, canon.Object{"i": canon.Int(i)}))
		require.NoError(t, err)
		assert.Equal(t, s.Version()+1, next.Version())
		s = next
	}
	assert.Equal(t, int64(5), s.Version())
}

func TestRegisterDuplicateFails(t *testing.T) {
	reg := NewRegistry()
	h := func(s State, e Event) (State, error) { return s, nil }
	require.NoError(t, reg.Register("X", h))
	assert.Error(t, reg.Register("X", h))
	assert.Error(t, reg.Register("", h))
	assert.Error(t, reg.Register("Y", nil))
}

func TestDomainRegistryAgentLifecycle(t *testing.T) {
	reg := NewDomainRegistry()
	s := NewState()

	observed := event(EventAgentObserved, "agg1", 0, 1, canon.Object{
		"name":      canon.String("builder"),
		"namespace": canon.String("fleet"),
		"spec":      canon.Object{"role": canon.String("worker")},
	})
	s, err := reg.Apply(s, observed)
	require.NoError(t, err)
	v, ok := s.GetAggregate(NamespaceAgents, "agg1")
	require.True(t, ok)
	assert.Equal(t, canon.String("builder"), v.(canon.Object)["name"])

	applied := event(EventActionApplied, "agg1", 1, 2, canon.Object{
		"action_id": canon.String("act1"),
		"outcome":   canon.String("created"),
	})
	s, err = reg.Apply(s, applied)
	require.NoError(t, err)
	av, ok := s.GetAggregate(NamespaceApplied, "agg1")
	require.True(t, ok)
	entry := av.(canon.Object)["act1"].(canon.Object)
	assert.Equal(t, canon.String("created"), entry["outcome"])
	assert.Equal(t, canon.Int(1), entry["seq"])

	removed := event(EventAgentRemoved, "agg1", 2, 3, canon.Object{
		"name":      canon.String("builder"),
		"namespace": canon.String("fleet"),
	})
	s, err = reg.Apply(s, removed)
	require.NoError(t, err)
	_, ok = s.GetAggregate(NamespaceAgents, "agg1")
	assert.False(t, ok)
	_, ok = s.GetAggregate(NamespaceApplied, "agg1")
	assert.False(t, ok)
	assert.Equal(t, int64(3), s.Version())
}

func TestDomainRegistryDecisionPayloadValidation(t *testing.T) {
	reg := NewDomainRegistry()
	s := NewState()

	_, err := reg.Apply(s, event(EventActionsDecided, "agg1", 0, 1, canon.Object{
		"trigger_seq": canon.Int(0),
	}))
	assert.Error(t, err)
}
