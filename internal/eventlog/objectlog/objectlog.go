// Package objectlog implements the event-log contract on an S3-compatible
// object store: one object per record under zero-padded keys, conditional
// create for append races, and a cached head object to keep the common
// path off O(N) listings.
//
// Key layout: {prefix}/{seq:010d}.json for records, {prefix}/_head.json for
// the cached head. No other keys are written.
package objectlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
)

// listPageSize is the mandatory pagination unit for full scans.
const listPageSize = 1000

// headKeyName is the cached head object's key under the prefix.
const headKeyName = "_head.json"

// objectAPI is the narrow slice of an object-store client the log needs.
// Production uses the minio-backed implementation in minio.go; tests use
// an in-memory fake.
type objectAPI interface {
	// Put writes an object. With ifNoneMatch set the write succeeds only
	// if the key does not exist yet; losing that race returns an error
	// classified as ReasonPreconditionFailed.
	Put(ctx context.Context, key string, data []byte, ifNoneMatch bool) error

	// Get reads an object in full. A missing key returns errNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns up to max keys under prefix strictly after startAfter,
	// in lexicographic order.
	List(ctx context.Context, prefix, startAfter string, max int) ([]string, error)
}

// errNotFound marks a missing object. Internal to the backend; callers of
// the Store interface never see it.
var errNotFound = fmt.Errorf("object not found")

// ObjectLog is an object-store backed event log.
type ObjectLog struct {
	api    objectAPI
	prefix string

	mu   sync.Mutex
	head *eventlog.Tail // best-known head; nil until first resolution
}

// headObject is the JSON body of the cached head. A hint only: it is
// cross-checked against the backing listing whenever it is loaded.
type headObject struct {
	LastSeq  int64  `json:"last_seq"`
	LastHash string `json:"last_hash"`
}

// newLog wires an ObjectLog over any objectAPI. Production entry is Open
// in minio.go.
func newLog(api objectAPI, prefix string) *ObjectLog {
	return &ObjectLog{api: api, prefix: strings.Trim(prefix, "/")}
}

// Append implements eventlog.Store.
//
// The conditional create on the record key is the authoritative race
// protection: a successful create at seq n relies on seq n-1 existing with
// the caller's expected hash, and a concurrent winner makes the create
// fail, which surfaces as Conflict for the caller to retry.
func (o *ObjectLog) Append(ctx context.Context, event kernel.Event, expectedPrevHash string) (chain.Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tail, err := o.resolveHeadLocked(ctx)
	if err != nil {
		return chain.Record{}, err
	}
	if expectedPrevHash != tail.LastHash {
		return chain.Record{}, eventlog.NewConflict(tail.NextSeq(),
			"expected prev hash %s, log tail is %s", expectedPrevHash, tail.LastHash)
	}

	rec, err := chain.Seal(tail.LastHash, event.WithSeq(tail.NextSeq()))
	if err != nil {
		return chain.Record{}, err
	}
	body, err := rec.Encode()
	if err != nil {
		return chain.Record{}, err
	}

	err = o.api.Put(ctx, o.recordKey(rec.Event.Seq), body, true)
	if err != nil {
		if eventlog.ReasonOf(err) == eventlog.ReasonPreconditionFailed {
			// A concurrent writer created this key first. Drop the cached
			// head so the retry re-lists before its next attempt.
			o.head = nil
			return chain.Record{}, eventlog.NewConflict(rec.Event.Seq,
				"record at seq %d already exists", rec.Event.Seq)
		}
		return chain.Record{}, err
	}

	newTail := eventlog.Tail{LastSeq: rec.Event.Seq, LastHash: rec.EventHash}
	o.head = &newTail
	o.writeHeadHint(ctx, newTail)
	return rec, nil
}

// Read implements eventlog.Store: paginated listing in key order (which is
// seq order thanks to zero padding), fetching and validating each record.
func (o *ObjectLog) Read(ctx context.Context, fromSeq, toSeq int64) ([]chain.Record, error) {
	v := eventlog.NewValidator(fromSeq)
	var out []chain.Record

	startAfter := ""
	if fromSeq > 0 {
		startAfter = o.recordKey(fromSeq - 1)
	}
	for {
		keys, err := o.api.List(ctx, o.prefix+"/", startAfter, listPageSize)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return out, nil
		}
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			seq, ok := o.parseRecordKey(key)
			if !ok {
				continue
			}
			if seq < fromSeq {
				continue
			}
			if toSeq != eventlog.ReadToEnd && seq > toSeq {
				return out, nil
			}
			body, err := o.api.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			rec, err := chain.Decode(body)
			if err != nil {
				return nil, eventlog.NewIntegrity(seq, "object %s: %v", key, err)
			}
			if rec.Event.Seq != seq {
				return nil, eventlog.NewIntegrity(seq,
					"object %s carries seq %d", key, rec.Event.Seq)
			}
			if err := v.Feed(rec); err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		if len(keys) < listPageSize {
			return out, nil
		}
		startAfter = keys[len(keys)-1]
	}
}

// Tail implements eventlog.Store.
func (o *ObjectLog) Tail(ctx context.Context) (eventlog.Tail, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resolveHeadLocked(ctx)
}

// Close implements eventlog.Store.
func (o *ObjectLog) Close() error {
	return nil
}

// resolveHeadLocked returns the best-known head, establishing it when
// needed. The cached head object is a hint: the listing is always
// consulted from the hinted position forward, so a stale or missing hint
// only costs extra listing, never correctness.
func (o *ObjectLog) resolveHeadLocked(ctx context.Context) (eventlog.Tail, error) {
	if o.head != nil {
		return *o.head, nil
	}

	hint := eventlog.EmptyTail()
	if body, err := o.api.Get(ctx, o.headKey()); err == nil {
		var h headObject
		if jsonErr := json.Unmarshal(body, &h); jsonErr == nil && h.LastSeq >= 0 {
			hint = eventlog.Tail{LastSeq: h.LastSeq, LastHash: h.LastHash}
		}
	} else if err != errNotFound {
		return eventlog.Tail{}, err
	}

	tail, err := o.advanceFrom(ctx, hint)
	if err != nil {
		return eventlog.Tail{}, err
	}
	o.head = &tail
	return tail, nil
}

// advanceFrom pages through keys after the hinted seq and follows them to
// the true tail. If the hint points past the real log (e.g. a head object
// surviving a bucket restore), it is discarded and the scan restarts from
// the beginning.
func (o *ObjectLog) advanceFrom(ctx context.Context, hint eventlog.Tail) (eventlog.Tail, error) {
	if hint.LastSeq >= 0 {
		// Cross-check the hinted record actually exists.
		if _, err := o.api.Get(ctx, o.recordKey(hint.LastSeq)); err == errNotFound {
			hint = eventlog.EmptyTail()
		} else if err != nil {
			return eventlog.Tail{}, err
		}
	}

	tail := hint
	startAfter := ""
	if tail.LastSeq >= 0 {
		startAfter = o.recordKey(tail.LastSeq)
	}
	var lastKey string
	for {
		keys, err := o.api.List(ctx, o.prefix+"/", startAfter, listPageSize)
		if err != nil {
			return eventlog.Tail{}, err
		}
		for _, key := range keys {
			if _, ok := o.parseRecordKey(key); ok {
				lastKey = key
			}
		}
		if len(keys) < listPageSize {
			break
		}
		startAfter = keys[len(keys)-1]
	}
	if lastKey == "" {
		return tail, nil
	}

	body, err := o.api.Get(ctx, lastKey)
	if err != nil {
		return eventlog.Tail{}, err
	}
	rec, err := chain.Decode(body)
	if err != nil {
		seq, _ := o.parseRecordKey(lastKey)
		return eventlog.Tail{}, eventlog.NewIntegrity(seq, "object %s: %v", lastKey, err)
	}
	return eventlog.Tail{LastSeq: rec.Event.Seq, LastHash: rec.EventHash}, nil
}

// writeHeadHint refreshes the cached head object. Best effort: the head is
// a performance aid, so a failed write is ignored and the next reader
// rebuilds from the listing.
func (o *ObjectLog) writeHeadHint(ctx context.Context, tail eventlog.Tail) {
	body, err := json.Marshal(headObject{LastSeq: tail.LastSeq, LastHash: tail.LastHash})
	if err != nil {
		return
	}
	_ = o.api.Put(ctx, o.headKey(), body, false)
}

func (o *ObjectLog) recordKey(seq int64) string {
	return fmt.Sprintf("%s/%010d.json", o.prefix, seq)
}

func (o *ObjectLog) headKey() string {
	return o.prefix + "/" + headKeyName
}

// parseRecordKey extracts the seq from a record key, rejecting the head
// object and any foreign keys under the prefix.
func (o *ObjectLog) parseRecordKey(key string) (int64, bool) {
	name := strings.TrimPrefix(key, o.prefix+"/")
	if !strings.HasSuffix(name, ".json") || strings.Contains(name, "/") {
		return 0, false
	}
	digits := strings.TrimSuffix(name, ".json")
	if len(digits) != 10 {
		return 0, false
	}
	seq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
