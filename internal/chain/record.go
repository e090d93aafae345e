package chain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/kernel"
)

// Record is the stored wrapper around an event: the predecessor's hash, the
// commitment to this event, and the event itself. Records are what backends
// persist, one per line (file backend) or one per object (object backend).
type Record struct {
	PrevHash  string
	EventHash string
	Event     kernel.Event
}

// Validate checks the structural rules of a stored record.
func (r Record) Validate() error {
	if !canon.IsHexHash(r.PrevHash) {
		return fmt.Errorf("record at seq %d: malformed prev_hash", r.Event.Seq)
	}
	if !canon.IsHexHash(r.EventHash) {
		return fmt.Errorf("record at seq %d: malformed event_hash", r.Event.Seq)
	}
	return r.Event.Validate()
}

// Encode renders the record in the wire form: a single compact JSON object
// with top-level fields in the fixed order prev_hash, event_hash, event.
// The embedded event is canonical JSON with all six fields present.
func (r Record) Encode() ([]byte, error) {
	payload := r.Event.Payload
	if payload == nil {
		payload = canon.Object{}
	}
	meta := r.Event.Meta
	if meta == nil {
		meta = canon.Object{}
	}
	eventBytes, err := canon.Marshal(canon.Object{
		"type":         canon.String(r.Event.Type),
		"aggregate_id": canon.String(r.Event.AggregateID),
		"seq":          canon.Int(r.Event.Seq),
		"ts":           canon.Int(r.Event.TS),
		"payload":      payload,
		"meta":         meta,
	})
	if err != nil {
		return nil, fmt.Errorf("encode record at seq %d: %w", r.Event.Seq, err)
	}

	// The wire order of the top-level fields is fixed by the format, not
	// by canonical key order, so the envelope is assembled by hand.
	var buf bytes.Buffer
	buf.WriteString(`{"prev_hash":"`)
	buf.WriteString(r.PrevHash)
	buf.WriteString(`","event_hash":"`)
	buf.WriteString(r.EventHash)
	buf.WriteString(`","event":`)
	buf.Write(eventBytes)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// wireRecord mirrors the envelope for decoding.
type wireRecord struct {
	PrevHash  string          `json:"prev_hash"`
	EventHash string          `json:"event_hash"`
	Event     json.RawMessage `json:"event"`
}

type wireEvent struct {
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Seq         *int64          `json:"seq"`
	TS          *int64          `json:"ts"`
	Payload     json.RawMessage `json:"payload"`
	Meta        json.RawMessage `json:"meta"`
}

// Decode parses a stored record. Numbers are decoded through json.Number so
// a float smuggled into a stored payload is rejected rather than silently
// rounded.
func Decode(data []byte) (Record, error) {
	var w wireRecord
	if err := strictUnmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if w.Event == nil {
		return Record{}, fmt.Errorf("decode record: missing event")
	}
	var we wireEvent
	if err := strictUnmarshal(w.Event, &we); err != nil {
		return Record{}, fmt.Errorf("decode record: event: %w", err)
	}
	if we.Seq == nil || we.TS == nil {
		return Record{}, fmt.Errorf("decode record: event missing seq or ts")
	}

	payload, err := decodeObject(we.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("decode record: payload: %w", err)
	}
	meta, err := decodeObject(we.Meta)
	if err != nil {
		return Record{}, fmt.Errorf("decode record: meta: %w", err)
	}

	rec := Record{
		PrevHash:  w.PrevHash,
		EventHash: w.EventHash,
		Event: kernel.Event{
			Type:        we.Type,
			AggregateID: we.AggregateID,
			Seq:         *we.Seq,
			TS:          *we.TS,
			Payload:     payload,
			Meta:        meta,
		},
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// decodeObject parses a JSON object into a canon.Object, routing numbers
// through json.Number so floats are caught.
func decodeObject(raw json.RawMessage) (canon.Object, error) {
	if raw == nil {
		return canon.Object{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	v, err := canon.FromGo(m)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(canon.Object)
	if !ok {
		return nil, fmt.Errorf("not an object")
	}
	return obj, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
