package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/kernel"
)

func incEvent(ts int64) kernel.Event {
	return kernel.Event{
		Type:        "INC",
		AggregateID: "A",
		TS:          ts,
		Payload:     canon.Object{"inc": canon.Int(1)},
		Meta:        canon.Object{},
	}
}

func TestAppendReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	for i := 0; i < 100; i++ {
		tail, err := log.Tail(ctx)
		require.NoError(t, err)
		rec, err := log.Append(ctx, incEvent(int64(i+1)), tail.LastHash)
		require.NoError(t, err)
		assert.Equal(t, int64(i), rec.Event.Seq)
	}

	records, err := log.Read(ctx, 0, ReadToEnd)
	require.NoError(t, err)
	require.Len(t, records, 100)

	assert.Equal(t, canon.ZeroHash, records[0].PrevHash)
	for i, rec := range records {
		assert.Equal(t, int64(i), rec.Event.Seq)
		if i > 0 {
			assert.Equal(t, records[i-1].EventHash, rec.PrevHash)
		}
	}
}

func TestAppendStaleTailConflicts(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	tail, err := log.Tail(ctx)
	require.NoError(t, err)
	_, err = log.Append(ctx, incEvent(1), tail.LastHash)
	require.NoError(t, err)

	// Re-using the genesis precondition after the log advanced is a
	// duplicate-seq attempt; it must conflict without mutating the log.
	_, err = log.Append(ctx, incEvent(2), tail.LastHash)
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	after, err := log.Tail(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.LastSeq)
}

func TestReadRange(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	for i := 0; i < 10; i++ {
		tail, err := log.Tail(ctx)
		require.NoError(t, err)
		_, err = log.Append(ctx, incEvent(int64(i+1)), tail.LastHash)
		require.NoError(t, err)
	}

	records, err := log.Read(ctx, 3, 6)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, int64(3), records[0].Event.Seq)
	assert.Equal(t, int64(6), records[3].Event.Seq)

	empty, err := log.Read(ctx, 100, ReadToEnd)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReadHonorsCancellation(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		tail, err := log.Tail(ctx)
		require.NoError(t, err)
		_, err = log.Append(ctx, incEvent(int64(i+1)), tail.LastHash)
		require.NoError(t, err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := log.Read(cancelled, 0, ReadToEnd)
	assert.Error(t, err)
}

func TestEmptyTailShape(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	tail, err := log.Tail(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), tail.LastSeq)
	assert.Equal(t, canon.ZeroHash, tail.LastHash)
	assert.Equal(t, int64(0), tail.NextSeq())
}

func TestNewMemoryLogFromValidates(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	for i := 0; i < 3; i++ {
		tail, err := log.Tail(ctx)
		require.NoError(t, err)
		_, err = log.Append(ctx, incEvent(int64(i+1)), tail.LastHash)
		require.NoError(t, err)
	}
	records, err := log.Read(ctx, 0, ReadToEnd)
	require.NoError(t, err)

	seeded, err := NewMemoryLogFrom(records)
	require.NoError(t, err)
	tail, err := seeded.Tail(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tail.LastSeq)

	// A gap in the seed is rejected up front.
	_, err = NewMemoryLogFrom([]chain.Record{records[0], records[2]})
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
	assert.Equal(t, int64(2), OffendingSeq(err))
}
