package eventlog

import (
	"context"

	"github.com/opsledger/opsledger/internal/chain"
)

// VerifyResult summarizes a full chain verification.
type VerifyResult struct {
	Records  int64
	LastSeq  int64
	LastHash string
}

// VerifyChain reads the whole log and validates it end to end.
//
// On top of the per-record link validation the Read path already performs,
// the final record's stored event_hash is checked against its recomputed
// commitment: the tail has no successor committing to it, so this is the
// only place tail tampering can surface.
//
// Returns the offending Integrity error unchanged on failure.
func VerifyChain(ctx context.Context, store Store) (VerifyResult, error) {
	records, err := store.Read(ctx, 0, ReadToEnd)
	if err != nil {
		return VerifyResult{}, err
	}
	if len(records) == 0 {
		return VerifyResult{Records: 0, LastSeq: -1}, nil
	}

	last := records[len(records)-1]
	want, err := chain.EventHash(last.PrevHash, last.Event)
	if err != nil {
		return VerifyResult{}, NewIntegrity(last.Event.Seq, "recompute tail hash: %v", err)
	}
	if last.EventHash != want {
		return VerifyResult{}, NewIntegrity(last.Event.Seq,
			"tail record event_hash %s does not match recomputed %s", last.EventHash, want)
	}

	return VerifyResult{
		Records:  int64(len(records)),
		LastSeq:  last.Event.Seq,
		LastHash: last.EventHash,
	}, nil
}
