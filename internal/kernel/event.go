package kernel

import (
	"fmt"

	"github.com/opsledger/opsledger/internal/canon"
)

// Well-known meta keys. Meta is a discriminated bag: these keys are
// understood by the engine, unknown optional keys are ignored on read, and
// unknown mandatory semantics never hide inside meta.
const (
	// MetaWriterID identifies the replica that appended the event.
	// Stable across restarts for a given replica identity.
	MetaWriterID = "writer_id"

	// MetaHashVersion selects the hash-chain rule for the event
	// ("v1" or "v2"). Absent means v1.
	MetaHashVersion = "hash_version"

	// MetaFencingToken attributes the event to a leadership epoch.
	// Forensic, not enforcing: the store-side conditional append remains
	// the authoritative protection against concurrent writers.
	MetaFencingToken = "fencing_token"
)

// Event is an immutable record of one observation or engine decision.
// Events are produced once, appended once, and never mutated or deleted.
type Event struct {
	// Type is a short identifier for the event kind, e.g. "AgentObserved".
	Type string `json:"type"`

	// AggregateID is the opaque stable key of the subject, computed via
	// canon.StableID - never random.
	AggregateID string `json:"aggregate_id"`

	// Seq is the event's position in the log: non-negative, globally
	// monotonic, gap-free. Assigned by the store at append time.
	Seq int64 `json:"seq"`

	// TS is the logical timestamp from the deterministic clock.
	// Monotonic; wall-clock time never appears here.
	TS int64 `json:"ts"`

	// Payload carries the event body. Constrained to canon values:
	// no floats, integers or decimal strings only.
	Payload canon.Object `json:"payload"`

	// Meta carries auxiliary writer metadata (writer identity, hash
	// version, fencing token). Hashed together with the payload.
	Meta canon.Object `json:"meta"`
}

// Validate checks the structural rules every event must satisfy before it
// is hashed, appended, or folded. A malformed event is a programming error;
// the reducer fails fatally on it and never attempts recovery.
func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event: missing type")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("event %q: missing aggregate_id", e.Type)
	}
	if e.Seq < 0 {
		return fmt.Errorf("event %q: negative seq %d", e.Type, e.Seq)
	}
	if e.TS < 0 {
		return fmt.Errorf("event %q: negative ts %d", e.Type, e.TS)
	}
	if e.Payload == nil {
		return fmt.Errorf("event %q: nil payload", e.Type)
	}
	return nil
}

// HashVersion returns the hash-chain version declared in meta, or "v1"
// when absent.
func (e Event) HashVersion() string {
	if v, ok := e.Meta[MetaHashVersion].(canon.String); ok && string(v) != "" {
		return string(v)
	}
	return "v1"
}

// WriterID returns the writer identity from meta, or "" when absent.
func (e Event) WriterID() string {
	if v, ok := e.Meta[MetaWriterID].(canon.String); ok {
		return string(v)
	}
	return ""
}

// FencingToken returns the leadership fencing token from meta, or "" when
// absent.
func (e Event) FencingToken() string {
	if v, ok := e.Meta[MetaFencingToken].(canon.String); ok {
		return string(v)
	}
	return ""
}

// WithSeq returns a copy of the event carrying the given seq. Used by the
// store at append time; the original event is not mutated.
func (e Event) WithSeq(seq int64) Event {
	e.Seq = seq
	return e
}

// Clone returns a deep copy of the event. Payload and meta maps are copied
// so the result shares no mutable structure with the original.
func (e Event) Clone() Event {
	out := e
	if e.Payload != nil {
		out.Payload = e.Payload.Clone()
	}
	if e.Meta != nil {
		out.Meta = e.Meta.Clone()
	}
	return out
}
