package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
)

func seedRecords(t *testing.T, n int) []chain.Record {
	t.Helper()
	ctx := context.Background()
	log := NewMemoryLog()
	for i := 0; i < n; i++ {
		tail, err := log.Tail(ctx)
		require.NoError(t, err)
		_, err = log.Append(ctx, incEvent(int64(i+1)), tail.LastHash)
		require.NoError(t, err)
	}
	records, err := log.Read(ctx, 0, ReadToEnd)
	require.NoError(t, err)
	return records
}

func TestValidatorAcceptsWellFormedChain(t *testing.T) {
	records := seedRecords(t, 5)
	v := NewValidator(0)
	for _, rec := range records {
		require.NoError(t, v.Feed(rec))
	}
	last, ok := v.Last()
	require.True(t, ok)
	assert.Equal(t, int64(4), last.Event.Seq)
}

func TestValidatorDetectsGap(t *testing.T) {
	records := seedRecords(t, 5)
	v := NewValidator(0)
	require.NoError(t, v.Feed(records[0]))
	err := v.Feed(records[2])
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
	assert.Equal(t, int64(2), OffendingSeq(err))
}

func TestValidatorDetectsDuplicate(t *testing.T) {
	records := seedRecords(t, 3)
	v := NewValidator(0)
	require.NoError(t, v.Feed(records[0]))
	require.NoError(t, v.Feed(records[1]))
	err := v.Feed(records[1])
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
}

func TestValidatorEnforcesGenesisRule(t *testing.T) {
	records := seedRecords(t, 2)
	bad := records[0]
	bad.PrevHash = records[1].EventHash
	v := NewValidator(0)
	err := v.Feed(bad)
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
	assert.Equal(t, int64(0), OffendingSeq(err))
}

func TestValidatorReportsTamperAtSuccessor(t *testing.T) {
	records := seedRecords(t, 5)
	// Flip the payload of record 2; the commitment mismatch must surface
	// at record 3, while records 0..2 feed cleanly.
	records[2].Event.Payload = canon.Object{"inc": canon.Int(7)}

	v := NewValidator(0)
	for i := 0; i <= 2; i++ {
		require.NoError(t, v.Feed(records[i]))
	}
	err := v.Feed(records[3])
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
	assert.Equal(t, int64(3), OffendingSeq(err))
}

func TestVerifyChainSummarizesIntactLog(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	for i := 0; i < 3; i++ {
		tail, err := log.Tail(ctx)
		require.NoError(t, err)
		_, err = log.Append(ctx, incEvent(int64(i+1)), tail.LastHash)
		require.NoError(t, err)
	}

	result, err := VerifyChain(ctx, log)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Records)
	assert.Equal(t, int64(2), result.LastSeq)
}
