// Package filelog implements the event-log contract on local files: one
// JSONL record per line, fsync after every record, and rotating segments
// that preserve chain continuity.
//
// An exclusive advisory lock on the log directory serializes local
// writers. Cross-host single-writer guarantees are the responsibility of
// the leader gate, not this backend.
package filelog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/gofrs/flock"

	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
)

const (
	segmentPrefix = "segment-"
	segmentSuffix = ".jsonl"
	lockFileName  = "LOCK"
)

// Options configures segment rotation. Zero values disable rotation: the
// log stays in one segment.
type Options struct {
	// SegmentMaxBytes rotates the active segment before a write that would
	// take it past this size. Zero disables size-based rotation.
	SegmentMaxBytes datasize.ByteSize

	// SegmentMaxCount rotates the active segment once it holds this many
	// records. Zero disables count-based rotation.
	SegmentMaxCount int64
}

// FileLog is a file-backed event log. Safe for concurrent use within one
// process; the directory lock keeps other local processes out.
type FileLog struct {
	dir  string
	opts Options
	lock *flock.Flock

	mu          sync.Mutex
	tail        eventlog.Tail
	activeSeg   int
	activeCount int64
	activeSize  int64
	active      *os.File
}

// Open creates or opens a file log in dir, taking the exclusive writer
// lock. Fails if another local writer already holds the directory.
func Open(dir string, opts Options) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err, "create log dir %s", dir)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	held, err := lock.TryLock()
	if err != nil {
		return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err, "acquire log lock in %s", dir)
	}
	if !held {
		return nil, eventlog.NewBackend(eventlog.ReasonPreconditionFailed, nil,
			"log dir %s is locked by another writer", dir)
	}

	fl := &FileLog{dir: dir, opts: opts, lock: lock, tail: eventlog.EmptyTail(), activeSeg: -1}
	if err := fl.recoverTail(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return fl, nil
}

// Append implements eventlog.Store. The record is written to the active
// segment and fsynced before the call returns.
func (f *FileLog) Append(ctx context.Context, event kernel.Event, expectedPrevHash string) (chain.Record, error) {
	if err := ctx.Err(); err != nil {
		return chain.Record{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if expectedPrevHash != f.tail.LastHash {
		return chain.Record{}, eventlog.NewConflict(f.tail.NextSeq(),
			"expected prev hash %s, log tail is %s", expectedPrevHash, f.tail.LastHash)
	}
	rec, err := chain.Seal(f.tail.LastHash, event.WithSeq(f.tail.NextSeq()))
	if err != nil {
		return chain.Record{}, err
	}
	line, err := rec.Encode()
	if err != nil {
		return chain.Record{}, err
	}

	if err := f.ensureSegmentLocked(int64(len(line)) + 1); err != nil {
		return chain.Record{}, err
	}
	if _, err := f.active.Write(append(line, '\n')); err != nil {
		return chain.Record{}, eventlog.NewBackend(eventlog.ReasonNetwork, err,
			"write record at seq %d", rec.Event.Seq)
	}
	if err := f.active.Sync(); err != nil {
		return chain.Record{}, eventlog.NewBackend(eventlog.ReasonNetwork, err,
			"fsync record at seq %d", rec.Event.Seq)
	}

	f.activeCount++
	f.activeSize += int64(len(line)) + 1
	f.tail = eventlog.Tail{LastSeq: rec.Event.Seq, LastHash: rec.EventHash}
	return rec, nil
}

// Read implements eventlog.Store: scans segments in numeric order and
// validates the chain as it goes, including the link across segment
// boundaries.
func (f *FileLog) Read(ctx context.Context, fromSeq, toSeq int64) ([]chain.Record, error) {
	segs, err := f.segments()
	if err != nil {
		return nil, err
	}

	v := eventlog.NewValidator(fromSeq)
	var out []chain.Record
	for _, seg := range segs {
		done, err := f.readSegment(ctx, seg, fromSeq, toSeq, v, &out)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	return out, nil
}

// Tail implements eventlog.Store. The tail is maintained in memory under
// the exclusive writer lock, so no rescan is needed on the common path.
func (f *FileLog) Tail(ctx context.Context) (eventlog.Tail, error) {
	if err := ctx.Err(); err != nil {
		return eventlog.Tail{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tail, nil
}

// Close releases the active segment and the directory lock.
func (f *FileLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active != nil {
		if err := f.active.Close(); err != nil {
			return err
		}
		f.active = nil
	}
	return f.lock.Unlock()
}

// ensureSegmentLocked opens the active segment, rotating first when the
// incoming write would cross a threshold. A fresh segment simply continues
// the chain: its first record's prev_hash is the previous segment's last
// event_hash.
func (f *FileLog) ensureSegmentLocked(incoming int64) error {
	rotate := f.active != nil && f.activeCount > 0 &&
		((f.opts.SegmentMaxBytes > 0 && f.activeSize+incoming > int64(f.opts.SegmentMaxBytes)) ||
			(f.opts.SegmentMaxCount > 0 && f.activeCount >= f.opts.SegmentMaxCount))
	if rotate {
		if err := f.active.Close(); err != nil {
			return eventlog.NewBackend(eventlog.ReasonNetwork, err, "close segment %d", f.activeSeg)
		}
		f.active = nil
	}
	if f.active != nil {
		return nil
	}

	seg := f.activeSeg
	if seg < 0 {
		seg = 0
	} else if rotate {
		seg++
	}
	path := f.segmentPath(seg)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eventlog.NewBackend(eventlog.ReasonNetwork, err, "open segment %s", path)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return eventlog.NewBackend(eventlog.ReasonNetwork, err, "stat segment %s", path)
	}

	f.active = file
	f.activeSeg = seg
	f.activeSize = info.Size()
	if rotate || info.Size() == 0 {
		f.activeCount = 0
	}
	return nil
}

// recoverTail rebuilds the head indicator from disk at open: it walks to
// the last segment and replays its lines, trusting earlier segments to be
// intact (full verification is a Read concern).
func (f *FileLog) recoverTail() error {
	segs, err := f.segments()
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return nil
	}
	last := segs[len(segs)-1]
	f.activeSeg = last

	file, err := os.Open(f.segmentPath(last))
	if err != nil {
		return eventlog.NewBackend(eventlog.ReasonNetwork, err, "open segment %d", last)
	}
	defer file.Close()

	var count, size int64
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		rec, err := chain.Decode(line)
		if err != nil {
			return eventlog.NewIntegrity(f.tail.NextSeq(), "segment %d: %v", last, err)
		}
		count++
		size += int64(len(line)) + 1
		f.tail = eventlog.Tail{LastSeq: rec.Event.Seq, LastHash: rec.EventHash}
	}
	if err := scanner.Err(); err != nil {
		return eventlog.NewBackend(eventlog.ReasonNetwork, err, "scan segment %d", last)
	}
	f.activeCount = count
	f.activeSize = size
	return nil
}

// readSegment feeds one segment's lines into the validator, appending
// in-range records to out. Returns done=true once toSeq has been passed.
func (f *FileLog) readSegment(ctx context.Context, seg int, fromSeq, toSeq int64, v *eventlog.Validator, out *[]chain.Record) (bool, error) {
	file, err := os.Open(f.segmentPath(seg))
	if err != nil {
		return false, eventlog.NewBackend(eventlog.ReasonNetwork, err, "open segment %d", seg)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		rec, err := chain.Decode(scanner.Bytes())
		if err != nil {
			return false, eventlog.NewIntegrity(-1, "segment %d: %v", seg, err)
		}
		if rec.Event.Seq < fromSeq {
			continue
		}
		if toSeq != eventlog.ReadToEnd && rec.Event.Seq > toSeq {
			return true, nil
		}
		if err := v.Feed(rec); err != nil {
			return false, err
		}
		*out = append(*out, rec)
	}
	if err := scanner.Err(); err != nil {
		return false, eventlog.NewBackend(eventlog.ReasonNetwork, err, "scan segment %d", seg)
	}
	return false, nil
}

func (f *FileLog) segmentPath(seg int) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s%06d%s", segmentPrefix, seg, segmentSuffix))
}

// segments lists segment numbers present on disk in ascending order.
func (f *FileLog) segments() ([]int, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err, "list log dir %s", f.dir)
	}
	var segs []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
		num, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		segs = append(segs, num)
	}
	sort.Ints(segs)
	return segs, nil
}
