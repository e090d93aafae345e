// Package checkpoint produces and verifies signed snapshots of the log:
// (state_hash, log_hash, seq) under an Ed25519 signature. A checkpoint is
// a trust anchor, not ground truth - any reader can re-replay the log and
// confirm it, and resumption from a checkpoint re-derives the state rather
// than loading it from the snapshot.
package checkpoint

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
	"github.com/opsledger/opsledger/internal/replay"
)

// Checkpoint is the signed snapshot artifact. Write-once, keyed by
// CheckpointID, never mutated.
type Checkpoint struct {
	CheckpointID string `json:"checkpoint_id"`
	AtSeq        int64  `json:"at_seq"`
	StateHash    string `json:"state_hash"`
	LogHash      string `json:"log_hash"`
	Signature    string `json:"signature"`
	Timestamp    int64  `json:"timestamp"`
	CreatedBy    string `json:"created_by"`
}

// Create derives the hashes from a state already folded up to the record
// at, and signs the snapshot. The timestamp is the logical ts of the record at atSeq - the
// wall clock has no place in a replayable artifact.
func Create(state kernel.State, at chain.Record, createdBy string, key ed25519.PrivateKey) (Checkpoint, error) {
	stateHash, err := state.Hash()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: state hash: %w", err)
	}
	logHash, err := chain.EventHash(at.PrevHash, at.Event)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: log hash: %w", err)
	}

	id, err := canon.StableID(
		canon.String("checkpoint"),
		canon.Int(at.Event.Seq),
		canon.String(stateHash),
		canon.String(logHash),
		canon.String(createdBy),
	)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: id: %w", err)
	}

	cp := Checkpoint{
		CheckpointID: id,
		AtSeq:        at.Event.Seq,
		StateHash:    stateHash,
		LogHash:      logHash,
		Timestamp:    at.Event.TS,
		CreatedBy:    createdBy,
	}
	msg, err := cp.signingBytes()
	if err != nil {
		return Checkpoint{}, err
	}
	cp.Signature = hex.EncodeToString(ed25519.Sign(key, msg))
	return cp, nil
}

// CreateAt is the end-to-end producer: replays the store to atSeq and
// signs the result.
func CreateAt(ctx context.Context, store eventlog.Store, reg *kernel.Registry, atSeq int64, createdBy string, key ed25519.PrivateKey) (Checkpoint, error) {
	records, err := store.Read(ctx, 0, atSeq)
	if err != nil {
		return Checkpoint{}, err
	}
	if len(records) == 0 || records[len(records)-1].Event.Seq != atSeq {
		return Checkpoint{}, fmt.Errorf("checkpoint: log has no record at seq %d", atSeq)
	}
	state, err := replay.Fold(kernel.NewState(), records, reg)
	if err != nil {
		return Checkpoint{}, err
	}
	return Create(state, records[len(records)-1], createdBy, key)
}

// VerifySignature checks the Ed25519 signature over the canonical
// signing payload. A single flipped bit in state hash, log hash, or
// signature fails here.
func (c Checkpoint) VerifySignature(pub ed25519.PublicKey) error {
	sig, err := hex.DecodeString(c.Signature)
	if err != nil {
		return fmt.Errorf("checkpoint %s: malformed signature: %w", c.CheckpointID, err)
	}
	msg, err := c.signingBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, sig) {
		return fmt.Errorf("checkpoint %s: signature verification failed", c.CheckpointID)
	}
	return nil
}

// VerifyAgainstLog confirms the checkpoint the hard way: signature check,
// then a fresh replay to at_seq, comparing both the state hash and the
// recomputed log hash.
func VerifyAgainstLog(ctx context.Context, store eventlog.Store, reg *kernel.Registry, c Checkpoint, pub ed25519.PublicKey) error {
	if err := c.VerifySignature(pub); err != nil {
		return err
	}
	records, err := store.Read(ctx, 0, c.AtSeq)
	if err != nil {
		return err
	}
	if len(records) == 0 || records[len(records)-1].Event.Seq != c.AtSeq {
		return fmt.Errorf("checkpoint %s: log has no record at seq %d", c.CheckpointID, c.AtSeq)
	}
	at := records[len(records)-1]

	logHash, err := chain.EventHash(at.PrevHash, at.Event)
	if err != nil {
		return err
	}
	if logHash != c.LogHash {
		return fmt.Errorf("checkpoint %s: log hash %s, recomputed %s", c.CheckpointID, c.LogHash, logHash)
	}

	stateHash, err := replay.StateHashOf(records, reg)
	if err != nil {
		return err
	}
	if stateHash != c.StateHash {
		return fmt.Errorf("checkpoint %s: state hash %s, replay produced %s", c.CheckpointID, c.StateHash, stateHash)
	}
	return nil
}

// Resume verifies the checkpoint against the log, rebuilds the state at
// at_seq, and folds only the events strictly after it. The returned state
// is identical to a full replay, at the cost of the prefix verification a
// checkpoint cannot waive.
func Resume(ctx context.Context, store eventlog.Store, reg *kernel.Registry, c Checkpoint, pub ed25519.PublicKey) (kernel.State, error) {
	if err := VerifyAgainstLog(ctx, store, reg, c, pub); err != nil {
		return kernel.State{}, err
	}
	records, err := store.Read(ctx, 0, c.AtSeq)
	if err != nil {
		return kernel.State{}, err
	}
	state, err := replay.Fold(kernel.NewState(), records, reg)
	if err != nil {
		return kernel.State{}, err
	}
	return replay.Resume(ctx, store, reg, state, c.AtSeq)
}

// signingBytes is the canonical signing payload: the four identity fields,
// canonicalized. Timestamp and creator ride in the artifact but are not
// signed inputs.
func (c Checkpoint) signingBytes() ([]byte, error) {
	return canon.Marshal(canon.Object{
		"checkpoint_id": canon.String(c.CheckpointID),
		"at_seq":        canon.Int(c.AtSeq),
		"state_hash":    canon.String(c.StateHash),
		"log_hash":      canon.String(c.LogHash),
	})
}

// Encode renders the checkpoint file: a canonicalized JSON object with all
// seven fields.
func (c Checkpoint) Encode() ([]byte, error) {
	return canon.Marshal(canon.Object{
		"checkpoint_id": canon.String(c.CheckpointID),
		"at_seq":        canon.Int(c.AtSeq),
		"state_hash":    canon.String(c.StateHash),
		"log_hash":      canon.String(c.LogHash),
		"signature":     canon.String(c.Signature),
		"timestamp":     canon.Int(c.Timestamp),
		"created_by":    canon.String(c.CreatedBy),
	})
}

// Decode parses a checkpoint file.
func Decode(data []byte) (Checkpoint, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var c Checkpoint
	if err := dec.Decode(&c); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if c.CheckpointID == "" || c.StateHash == "" || c.LogHash == "" {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: missing identity fields")
	}
	return c, nil
}
