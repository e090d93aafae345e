package filelog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
	"github.com/opsledger/opsledger/internal/testutil"
)

func openTestLog(t *testing.T, opts Options) (*FileLog, string) {
	t.Helper()
	dir := t.TempDir()
	log, err := Open(dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log, dir
}

func TestAppendReadRoundTrip(t *testing.T) {
	log, _ := openTestLog(t, Options{})
	records := testutil.FillLog(t, log, 100, func(i int) kernel.Event {
		return testutil.IncEvent(int64(i + 1))
	})

	read, err := log.Read(context.Background(), 0, eventlog.ReadToEnd)
	require.NoError(t, err)
	require.Len(t, read, 100)

	assert.Equal(t, canon.ZeroHash, read[0].PrevHash)
	for i, rec := range read {
		assert.Equal(t, int64(i), rec.Event.Seq)
		if i > 0 {
			assert.Equal(t, read[i-1].EventHash, rec.PrevHash)
		}
		assert.Equal(t, records[i].EventHash, rec.EventHash)
	}
}

func TestRotationPreservesChainContinuity(t *testing.T) {
	log, dir := openTestLog(t, Options{SegmentMaxCount: 10})
	testutil.FillLog(t, log, 35, func(i int) kernel.Event {
		return testutil.IncEvent(int64(i + 1))
	})

	segs, err := log.segments()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, segs)

	read, err := log.Read(context.Background(), 0, eventlog.ReadToEnd)
	require.NoError(t, err)
	require.Len(t, read, 35)
	for i := 1; i < len(read); i++ {
		assert.Equal(t, read[i-1].EventHash, read[i].PrevHash)
	}

	// The first record of segment 1 chains onto the last of segment 0.
	raw, err := os.ReadFile(filepath.Join(dir, "segment-000001.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), read[9].EventHash)
}

func TestSizeBasedRotation(t *testing.T) {
	log, _ := openTestLog(t, Options{SegmentMaxBytes: datasize.ByteSize(600)})
	testutil.FillLog(t, log, 10, func(i int) kernel.Event {
		return testutil.IncEvent(int64(i + 1))
	})

	segs, err := log.segments()
	require.NoError(t, err)
	assert.Greater(t, len(segs), 1)
}

func TestReopenRecoversTail(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, Options{SegmentMaxCount: 4})
	require.NoError(t, err)
	testutil.FillLog(t, log, 10, func(i int) kernel.Event {
		return testutil.IncEvent(int64(i + 1))
	})
	require.NoError(t, log.Close())

	reopened, err := Open(dir, Options{SegmentMaxCount: 4})
	require.NoError(t, err)
	defer reopened.Close()

	tail, err := reopened.Tail(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), tail.LastSeq)

	// Appends continue the chain across the restart.
	rec, err := reopened.Append(context.Background(), testutil.IncEvent(11), tail.LastHash)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.Event.Seq)
	assert.Equal(t, tail.LastHash, rec.PrevHash)
}

func TestStaleTailConflicts(t *testing.T) {
	log, _ := openTestLog(t, Options{})
	ctx := context.Background()

	tail, err := log.Tail(ctx)
	require.NoError(t, err)
	_, err = log.Append(ctx, testutil.IncEvent(1), tail.LastHash)
	require.NoError(t, err)

	_, err = log.Append(ctx, testutil.IncEvent(2), tail.LastHash)
	require.Error(t, err)
	assert.True(t, eventlog.IsConflict(err))
}

func TestTamperDetectedAtSuccessor(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, Options{})
	require.NoError(t, err)
	testutil.FillLog(t, log, 100, func(i int) kernel.Event {
		return testutil.IncEvent(int64(i + 1))
	})
	require.NoError(t, log.Close())

	// Flip one byte inside the payload of the record at seq 50.
	path := filepath.Join(dir, "segment-000000.jsonl")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 100)
	lines[50] = strings.Replace(lines[50], `"inc":1`, `"inc":9`, 1)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	reopened, err := Open(dir, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	// Records before the flip verify; the failure lands exactly at seq 51.
	prefix, err := reopened.Read(context.Background(), 0, 50)
	require.NoError(t, err)
	assert.Len(t, prefix, 51)

	_, err = reopened.Read(context.Background(), 0, eventlog.ReadToEnd)
	require.Error(t, err)
	assert.True(t, eventlog.IsIntegrity(err))
	assert.Equal(t, int64(51), eventlog.OffendingSeq(err))
}

func TestExclusiveWriterLock(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, Options{})
	require.NoError(t, err)
	defer log.Close()

	_, err = Open(dir, Options{})
	require.Error(t, err)
	assert.True(t, eventlog.IsBackend(err))
	assert.Equal(t, eventlog.ReasonPreconditionFailed, eventlog.ReasonOf(err))
}
