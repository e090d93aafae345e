package eventlog

import (
	"github.com/opsledger/opsledger/internal/chain"
)

// Validator checks a record stream incrementally: structural validity, seq
// contiguity, the genesis rule, and the hash link against the recomputed
// commitment of the predecessor. Backends feed it every record they read.
//
// The link check recomputes the predecessor's event hash from content, so a
// tampered payload at seq k is reported at seq k+1 - the earliest record
// whose commitment no longer matches.
type Validator struct {
	started bool
	prev    chain.Record
	nextSeq int64
}

// NewValidator returns a validator expecting the stream to start at
// fromSeq. When fromSeq is 0 the genesis rule is enforced on the first
// record; for mid-log reads the caller is trusted to have verified the
// prefix (or uses a verified checkpoint).
func NewValidator(fromSeq int64) *Validator {
	return &Validator{nextSeq: fromSeq}
}

// Feed validates the next record in the stream.
func (v *Validator) Feed(rec chain.Record) error {
	if err := rec.Validate(); err != nil {
		return NewIntegrity(rec.Event.Seq, "malformed record: %v", err)
	}
	switch {
	case rec.Event.Seq < v.nextSeq:
		return NewIntegrity(rec.Event.Seq, "duplicate seq %d", rec.Event.Seq)
	case rec.Event.Seq > v.nextSeq:
		return NewIntegrity(rec.Event.Seq, "gap in log: expected seq %d, found %d", v.nextSeq, rec.Event.Seq)
	}
	if rec.Event.Seq == 0 {
		if err := chain.VerifyGenesis(rec); err != nil {
			return NewIntegrity(0, "%v", err)
		}
	} else if v.started {
		if err := chain.VerifyLink(v.prev, rec); err != nil {
			return NewIntegrity(rec.Event.Seq, "%v", err)
		}
	}
	v.prev = rec
	v.started = true
	v.nextSeq = rec.Event.Seq + 1
	return nil
}

// Last returns the last accepted record. Valid only after a successful
// Feed.
func (v *Validator) Last() (chain.Record, bool) {
	return v.prev, v.started
}
