package eventlog

import (
	"context"
	"sync"

	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/kernel"
)

// MemoryLog is the in-memory reference implementation of Store. It exists
// for tests and for embedding verifiers that fold an already-loaded record
// slice; durable deployments use the file, object, or sqlite backends.
type MemoryLog struct {
	mu      sync.RWMutex
	records []chain.Record
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// NewMemoryLogFrom returns an in-memory log seeded with records, e.g. a
// slice already read from another backend. The records are validated as a
// chain before acceptance.
func NewMemoryLogFrom(records []chain.Record) (*MemoryLog, error) {
	v := NewValidator(0)
	for _, rec := range records {
		if err := v.Feed(rec); err != nil {
			return nil, err
		}
	}
	out := make([]chain.Record, len(records))
	copy(out, records)
	return &MemoryLog{records: out}, nil
}

// Append implements Store.
func (m *MemoryLog) Append(ctx context.Context, event kernel.Event, expectedPrevHash string) (chain.Record, error) {
	if err := ctx.Err(); err != nil {
		return chain.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tail := m.tailLocked()
	if expectedPrevHash != tail.LastHash {
		return chain.Record{}, NewConflict(tail.NextSeq(),
			"expected prev hash %s, log tail is %s", expectedPrevHash, tail.LastHash)
	}
	rec, err := chain.Seal(tail.LastHash, event.WithSeq(tail.NextSeq()))
	if err != nil {
		return chain.Record{}, err
	}
	if err := rec.Validate(); err != nil {
		return chain.Record{}, NewIntegrity(rec.Event.Seq, "refusing malformed append: %v", err)
	}
	m.records = append(m.records, rec)
	return rec, nil
}

// Read implements Store.
func (m *MemoryLog) Read(ctx context.Context, fromSeq, toSeq int64) ([]chain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := NewValidator(fromSeq)
	var out []chain.Record
	for _, rec := range m.records {
		if rec.Event.Seq < fromSeq {
			continue
		}
		if toSeq != ReadToEnd && rec.Event.Seq > toSeq {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := v.Feed(rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Tail implements Store.
func (m *MemoryLog) Tail(ctx context.Context) (Tail, error) {
	if err := ctx.Err(); err != nil {
		return Tail{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tailLocked(), nil
}

// Close implements Store.
func (m *MemoryLog) Close() error {
	return nil
}

func (m *MemoryLog) tailLocked() Tail {
	if len(m.records) == 0 {
		return EmptyTail()
	}
	last := m.records[len(m.records)-1]
	return Tail{LastSeq: last.Event.Seq, LastHash: last.EventHash}
}
