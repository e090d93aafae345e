package cli

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/opsledger/opsledger/internal/adapter"
	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/decision"
	"github.com/opsledger/opsledger/internal/eventlog/filelog"
	"github.com/opsledger/opsledger/internal/kernel"
	"github.com/opsledger/opsledger/internal/testutil"
)

// seedFixtureLog writes the small fixture log into a temp dir: one
// observed worker agent at seq 0 and its decision at seq 1.
func seedFixtureLog(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	log, err := filelog.Open(dir, filelog.Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, log.Close()) }()

	a, err := adapter.New("writer-1", chain.VersionV1, kernel.NewClock())
	require.NoError(t, err)
	trigger, err := a.ObserveAgent(&unstructured.Unstructured{Object: testutil.ObservedAgent()})
	require.NoError(t, err)

	tail, err := log.Tail(ctx)
	require.NoError(t, err)
	triggerRec, err := log.Append(ctx, trigger, tail.LastHash)
	require.NoError(t, err)

	state, err := kernel.NewDomainRegistry().Apply(kernel.NewState(), triggerRec.Event)
	require.NoError(t, err)
	actions, meta, err := decision.Decide(state, triggerRec)
	require.NoError(t, err)
	decisionEvent, err := a.Decision(triggerRec.Event.AggregateID, decision.ProvenancePayload(actions, meta))
	require.NoError(t, err)

	tail, err = log.Tail(ctx)
	require.NoError(t, err)
	_, err = log.Append(ctx, decisionEvent, tail.LastHash)
	require.NoError(t, err)
	return dir
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInspectDumpsState(t *testing.T) {
	dir := seedFixtureLog(t)
	out, err := runCommand(t, "inspect", "--log", dir, "--format", "json")
	require.NoError(t, err)

	var result InspectResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, int64(2), result.Version)
	assert.NotEmpty(t, result.StateHash)
	state := result.State.(map[string]any)
	aggs := state["aggregates"].(map[string]any)
	assert.Contains(t, aggs, kernel.NamespaceAgents)
	assert.Contains(t, aggs, kernel.NamespaceDecisions)
}

func TestInspectAggregateView(t *testing.T) {
	dir := seedFixtureLog(t)
	aggID := adapter.AggregateID("fleet", "builder")
	out, err := runCommand(t, "inspect", "--log", dir, "--aggregate", aggID, "--format", "json")
	require.NoError(t, err)

	var result InspectResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	view := result.Aggregate.(map[string]any)
	assert.Contains(t, view, kernel.NamespaceAgents)
}

func TestInspectAtSeq(t *testing.T) {
	dir := seedFixtureLog(t)
	out, err := runCommand(t, "inspect", "--log", dir, "--at-seq", "0", "--format", "json")
	require.NoError(t, err)

	var result InspectResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, int64(1), result.Version)
}

func TestVerifyPointersPasses(t *testing.T) {
	dir := seedFixtureLog(t)
	_, err := runCommand(t, "verify-pointers", "--log", dir)
	require.NoError(t, err)
}

func TestReplayReportsDeterministic(t *testing.T) {
	dir := seedFixtureLog(t)
	out, err := runCommand(t, "replay", "--log", dir, "--format", "json")
	require.NoError(t, err)

	var result ReplayResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Deterministic)
	assert.Equal(t, int64(2), result.Events)
}

func TestTamperedLogExitsWithCode2(t *testing.T) {
	dir := seedFixtureLog(t)
	path := filepath.Join(dir, "segment-000000.jsonl")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"role":"worker"`, `"role":"warden"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	for _, args := range [][]string{
		{"verify-pointers", "--log", dir},
		{"replay", "--log", dir},
		{"audit-report", "--log", dir},
		{"inspect", "--log", dir},
	} {
		_, err := runCommand(t, args...)
		require.Error(t, err, "%v", args)
		assert.Equal(t, ExitVerifyFailed, GetExitCode(err), "%v", args)
	}
}

func TestBrokenPointerExitsWithCode2(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	log, err := filelog.Open(dir, filelog.Options{})
	require.NoError(t, err)

	// A decision whose committed trigger hash does not match the trigger.
	testutil.FillLog(t, log, 1, func(i int) kernel.Event {
		return testutil.IncEvent(1)
	})
	bad := kernel.Event{
		Type:        kernel.EventActionsDecided,
		AggregateID: "agg1",
		TS:          2,
		Payload: canon.Object{
			"trigger_seq":  canon.Int(0),
			"trigger_hash": canon.String(canon.ZeroHash),
			"actions_hash": canon.String(canon.ZeroHash),
			"action_ids":   canon.Array{},
		},
		Meta: canon.Object{},
	}
	tail, err := log.Tail(ctx)
	require.NoError(t, err)
	_, err = log.Append(ctx, bad, tail.LastHash)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	_, err = runCommand(t, "verify-pointers", "--log", dir)
	require.Error(t, err)
	assert.Equal(t, ExitVerifyFailed, GetExitCode(err))
}

func TestUnusableBackendExitsWithRuntimeError(t *testing.T) {
	// The object backend cannot be located without a config file.
	_, err := runCommand(t, "replay", "--log", "ignored", "--backend", "object")
	require.Error(t, err)
	assert.Equal(t, ExitRuntimeError, GetExitCode(err))

	_, err = runCommand(t, "replay", "--log", "ignored", "--backend", "carrier-pigeon")
	require.Error(t, err)
	assert.Equal(t, ExitRuntimeError, GetExitCode(err))
}

func TestInvalidFormatRejected(t *testing.T) {
	dir := seedFixtureLog(t)
	_, err := runCommand(t, "inspect", "--log", dir, "--format", "xml")
	require.Error(t, err)
}

func TestCheckpointCreateAndVerify(t *testing.T) {
	dir := seedFixtureLog(t)
	workDir := t.TempDir()

	seedHex := strings.Repeat("ab", 32)
	keyFile := filepath.Join(workDir, "key.hex")
	require.NoError(t, os.WriteFile(keyFile, []byte(seedHex+"\n"), 0o600))

	key, err := loadSigningKey(keyFile)
	require.NoError(t, err)
	pubFile := filepath.Join(workDir, "pub.hex")
	pubHex := hex.EncodeToString(key.Public().(ed25519.PublicKey))
	require.NoError(t, os.WriteFile(pubFile, []byte(pubHex+"\n"), 0o600))

	cpFile := filepath.Join(workDir, "cp.json")
	_, err = runCommand(t, "checkpoint", "create",
		"--log", dir, "--at-seq", "1", "--key", keyFile,
		"--out", cpFile, "--created-by", "auditor-1")
	require.NoError(t, err)

	_, err = runCommand(t, "checkpoint", "verify",
		"--log", dir, "--checkpoint", cpFile, "--pub", pubFile)
	require.NoError(t, err)

	// A flipped byte in the checkpoint file fails with code 2.
	raw, err := os.ReadFile(cpFile)
	require.NoError(t, err)
	tampered := bytes.Replace(raw, []byte(`"at_seq":1`), []byte(`"at_seq":0`), 1)
	require.NoError(t, os.WriteFile(cpFile, tampered, 0o644))

	_, err = runCommand(t, "checkpoint", "verify",
		"--log", dir, "--checkpoint", cpFile, "--pub", pubFile)
	require.Error(t, err)
	assert.Equal(t, ExitVerifyFailed, GetExitCode(err))
}

var hexPattern = regexp.MustCompile(`[0-9a-f]{64}`)

func TestAuditReportGolden(t *testing.T) {
	dir := seedFixtureLog(t)
	out, err := runCommand(t, "audit-report", "--log", dir, "--proof", "--format", "md")
	require.NoError(t, err)

	// Hashes and the bundle id vary per content and run; the report shape
	// does not.
	normalized := hexPattern.ReplaceAllString(out, "<hash>")
	normalized = regexp.MustCompile(`Audit report \S+`).ReplaceAllString(normalized, "Audit report <bundle>")

	g := goldie.New(t)
	g.Assert(t, "audit_report", []byte(normalized))
}

func TestAuditReportJSON(t *testing.T) {
	dir := seedFixtureLog(t)
	out, err := runCommand(t, "audit-report", "--log", dir, "--proof", "--format", "json")
	require.NoError(t, err)

	var bundle AuditBundle
	require.NoError(t, json.Unmarshal([]byte(out), &bundle))
	assert.True(t, bundle.OK)
	assert.True(t, bundle.Chain.OK)
	assert.Equal(t, int64(2), bundle.Chain.Records)
	assert.Equal(t, 1, bundle.Pointers.Decisions)
	require.Len(t, bundle.Proofs, 1)
	assert.True(t, bundle.Proofs[0].RecomputedOK)
}
