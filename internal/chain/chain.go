// Package chain implements the per-event hash commitment linking each log
// record to its predecessor.
//
// Two hash versions are supported concurrently so the hashed payload can
// evolve without rewriting history:
//
//   - v1: event_hash = SHA256(prev_hash || canonical({type, aggregate_id,
//     seq, ts, payload, meta})); meta is always present, {} when empty.
//   - v2: the canonical object additionally carries hash_version:"v2" and
//     omits meta entirely when the meta map is empty.
//
// The version is declared per event in meta under "hash_version"; absence
// means v1. A single log may mix versions: earlier events v1, later v2.
package chain

import (
	"fmt"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/kernel"
)

// Hash version selectors.
const (
	VersionV1 = "v1"
	VersionV2 = "v2"
)

// EventHash computes the chain commitment for an event given its
// predecessor's hash. The rule is selected by the event's own
// meta.hash_version declaration so verification of mixed logs picks the
// matching rule per event.
func EventHash(prevHash string, e kernel.Event) (string, error) {
	if !canon.IsHexHash(prevHash) {
		return "", fmt.Errorf("chain: prev hash %q is not a hex sha-256", prevHash)
	}
	body, err := hashInput(e)
	if err != nil {
		return "", err
	}
	b, err := canon.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("chain: canonicalize event at seq %d: %w", e.Seq, err)
	}
	// The commitment covers the predecessor hash and the canonical event
	// bytes, binding every record to all prior records.
	input := make([]byte, 0, len(prevHash)+len(b))
	input = append(input, prevHash...)
	input = append(input, b...)
	return canon.HashBytes(input), nil
}

// hashInput renders the event as the canonical object the selected hash
// version commits to.
func hashInput(e kernel.Event) (canon.Object, error) {
	payload := e.Payload
	if payload == nil {
		payload = canon.Object{}
	}
	obj := canon.Object{
		"type":         canon.String(e.Type),
		"aggregate_id": canon.String(e.AggregateID),
		"seq":          canon.Int(e.Seq),
		"ts":           canon.Int(e.TS),
		"payload":      payload,
	}
	switch v := e.HashVersion(); v {
	case VersionV1:
		meta := e.Meta
		if meta == nil {
			meta = canon.Object{}
		}
		obj["meta"] = meta
	case VersionV2:
		obj["hash_version"] = canon.String(VersionV2)
		if len(e.Meta) > 0 {
			obj["meta"] = e.Meta
		}
	default:
		return nil, fmt.Errorf("chain: unknown hash version %q at seq %d", v, e.Seq)
	}
	return obj, nil
}

// Seal wraps an event into a Record: it computes the event hash against
// prevHash and returns the stored form. The caller supplies the hash of the
// current tail (or canon.ZeroHash for genesis).
func Seal(prevHash string, e kernel.Event) (Record, error) {
	h, err := EventHash(prevHash, e)
	if err != nil {
		return Record{}, err
	}
	return Record{PrevHash: prevHash, EventHash: h, Event: e}, nil
}

// VerifyLink checks that cur correctly commits to prev: cur.PrevHash must
// equal the recomputed hash of prev's event under prev's declared version.
//
// The stored EventHash of prev is deliberately not consulted - recomputing
// from event content is what makes payload tampering in prev detectable
// here, at the successor.
func VerifyLink(prev, cur Record) error {
	want, err := EventHash(prev.PrevHash, prev.Event)
	if err != nil {
		return err
	}
	if cur.PrevHash != want {
		return fmt.Errorf("chain: record at seq %d has prev_hash %s, want %s",
			cur.Event.Seq, cur.PrevHash, want)
	}
	return nil
}

// VerifyGenesis checks the genesis rule: the record at seq 0 must carry
// exactly 64 zeros as its predecessor hash.
func VerifyGenesis(rec Record) error {
	if rec.Event.Seq != 0 {
		return fmt.Errorf("chain: genesis check on record at seq %d", rec.Event.Seq)
	}
	if rec.PrevHash != canon.ZeroHash {
		return fmt.Errorf("chain: genesis prev_hash %s, want %s", rec.PrevHash, canon.ZeroHash)
	}
	return nil
}
