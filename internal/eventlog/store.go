// Package eventlog defines the append-only event-store contract and the
// pieces shared by its backends: the error taxonomy, incremental chain
// validation, bounded append retry, and an in-memory reference store.
//
// The log exclusively owns durable truth. It is append-only: no reader
// mutates, no in-place update exists. All other artifacts (state,
// checkpoints) are derivable from it.
package eventlog

import (
	"context"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/kernel"
)

// ReadToEnd selects "no upper bound" for Read.
const ReadToEnd int64 = -1

// Tail is the current head indicator of a log: the last assigned seq and
// the event hash of the record holding it. An empty log reports seq -1 and
// the zero hash, which is exactly the precondition a genesis append needs.
type Tail struct {
	LastSeq  int64
	LastHash string
}

// EmptyTail is the tail of a log with no records.
func EmptyTail() Tail {
	return Tail{LastSeq: -1, LastHash: canon.ZeroHash}
}

// NextSeq returns the seq the next appended record will take.
func (t Tail) NextSeq() int64 {
	return t.LastSeq + 1
}

// Store is the abstract event-log contract implemented by the file, object
// store, sqlite, and in-memory backends.
//
// Consistency assumption: the backend provides strong read-after-write
// consistency and conditional-create semantics keyed on record identity
// (or exclusive write of the current tail for the file backend).
type Store interface {
	// Append atomically appends one event, assigning the next seq and
	// computing the chain hashes, but only if the caller's view of the
	// tail still holds: expectedPrevHash must equal the hash of the
	// current last record (canon.ZeroHash for an empty log).
	//
	// Returns the stored record on success. Fails with a Conflict error
	// when another writer has advanced the log, and with an Integrity
	// error when the store-side state is inconsistent.
	//
	// The event's Seq field is ignored on input; the store assigns it.
	Append(ctx context.Context, event kernel.Event, expectedPrevHash string) (chain.Record, error)

	// Read returns records [fromSeq, toSeq] in seq order, validating the
	// chain as it reads: contiguous seqs, genesis rule at 0, and each
	// record's prev_hash against the recomputed hash of its predecessor.
	// Pass ReadToEnd as toSeq for no upper bound. Reading an empty range
	// returns an empty slice. Raises an Integrity error on mismatch, gap,
	// or duplicate. Cancellable between records via ctx.
	Read(ctx context.Context, fromSeq, toSeq int64) ([]chain.Record, error)

	// Tail returns the current head indicator in O(1) amortized, via a
	// cached head that may be rebuilt by listing the backing store.
	Tail(ctx context.Context) (Tail, error)

	// Close releases backend resources.
	Close() error
}
