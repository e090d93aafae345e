package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opsledger/opsledger/internal/canon"
	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/decision"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
	"github.com/opsledger/opsledger/internal/replay"
)

// AuditOptions holds flags for the audit-report command.
type AuditOptions struct {
	*RootOptions
	Log     LogFlags
	Summary bool
	Proof   bool
	AtSeq   int64
}

// AuditBundle is the full audit output. The bundle id is operator-facing
// correlation only; it is never hashed or appended.
type AuditBundle struct {
	BundleID  string        `json:"bundle_id"`
	AtSeq     int64         `json:"at_seq"`
	Chain     ChainSection  `json:"chain"`
	Pointers  PointerReport `json:"pointers"`
	StateHash string        `json:"state_hash,omitempty"`
	Proofs    []ProofEntry  `json:"proofs,omitempty"`
	OK        bool          `json:"ok"`
}

// ChainSection reports the chain verification outcome.
type ChainSection struct {
	OK           bool   `json:"ok"`
	Records      int64  `json:"records"`
	LastSeq      int64  `json:"last_seq"`
	LastHash     string `json:"last_hash,omitempty"`
	OffendingSeq int64  `json:"offending_seq,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// ProofEntry reports one decision re-derivation: the decision layer is run
// again over the replayed state at the trigger, and the recomputed actions
// hash must match the committed one.
type ProofEntry struct {
	DecisionSeq  int64  `json:"decision_seq"`
	TriggerSeq   int64  `json:"trigger_seq"`
	ActionsHash  string `json:"actions_hash"`
	RecomputedOK bool   `json:"recomputed_ok"`
	Detail       string `json:"detail,omitempty"`
}

// NewAuditReportCommand creates the audit-report command.
func NewAuditReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts, AtSeq: eventlog.ReadToEnd}

	cmd := &cobra.Command{
		Use:   "audit-report",
		Short: "Produce an audit bundle for the log",
		Long: `Produce an audit bundle: chain verification, trigger pointer
verification, and (with --proof) re-derivation of every committed decision.

Exit codes:
  0 - all verifications pass
  2 - any verification failed
  1 - runtime error

Examples:
  opsledger audit-report --log ./log --format md
  opsledger audit-report --log ./log --proof --format json
  opsledger audit-report --log ./log --summary --at-seq 100`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	addLogFlags(cmd, &opts.Log)
	cmd.Flags().BoolVar(&opts.Summary, "summary", false, "omit per-record detail")
	cmd.Flags().BoolVar(&opts.Proof, "proof", false, "re-derive every committed decision")
	cmd.Flags().Int64Var(&opts.AtSeq, "at-seq", eventlog.ReadToEnd, "audit the prefix up to this seq")
	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openLog(opts.Log)
	if err != nil {
		return WrapExitError(ExitRuntimeError, "failed to open log", err)
	}
	defer store.Close()

	bundle, err := buildAuditBundle(ctx, store, opts)
	if err != nil {
		return err
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	switch opts.Format {
	case "json":
		if err := out.PrintJSON(bundle); err != nil {
			return WrapExitError(ExitRuntimeError, "render bundle", err)
		}
	default:
		renderAuditMarkdown(out, bundle, opts.Summary)
	}

	if !bundle.OK {
		return NewExitError(ExitVerifyFailed, "audit verification failed")
	}
	return nil
}

func buildAuditBundle(ctx context.Context, store eventlog.Store, opts *AuditOptions) (AuditBundle, error) {
	bundle := AuditBundle{
		BundleID: uuid.NewString(),
		AtSeq:    opts.AtSeq,
		OK:       true,
	}

	records, err := store.Read(ctx, 0, opts.AtSeq)
	if err != nil {
		if !eventlog.IsIntegrity(err) {
			return AuditBundle{}, WrapExitError(ExitRuntimeError, "read log", err)
		}
		bundle.OK = false
		bundle.Chain = ChainSection{
			OK:           false,
			OffendingSeq: eventlog.OffendingSeq(err),
			Detail:       err.Error(),
		}
		return bundle, nil
	}

	bundle.Chain = ChainSection{OK: true, Records: int64(len(records)), LastSeq: -1}
	if len(records) > 0 {
		last := records[len(records)-1]
		bundle.Chain.LastSeq = last.Event.Seq
		bundle.Chain.LastHash = last.EventHash
	}

	checks, err := decision.VerifyPointersIn(records)
	if err != nil {
		return AuditBundle{}, WrapExitError(ExitRuntimeError, "verify pointers", err)
	}
	bundle.Pointers = PointerReport{Decisions: len(checks), OK: true}
	for _, check := range checks {
		if !check.OK {
			bundle.Pointers.Failures++
			bundle.Pointers.OK = false
			bundle.OK = false
		}
		if !check.OK || !opts.Summary {
			bundle.Pointers.Checks = append(bundle.Pointers.Checks, PointerReportEntry{
				DecisionSeq: check.DecisionSeq,
				TriggerSeq:  check.TriggerSeq,
				OK:          check.OK,
				Detail:      check.Detail,
			})
		}
	}

	stateHash, err := replay.StateHashOf(records, kernel.NewDomainRegistry())
	if err != nil {
		return AuditBundle{}, WrapExitError(ExitRuntimeError, "replay log", err)
	}
	bundle.StateHash = stateHash

	if opts.Proof {
		proofs, ok, err := buildProofs(records)
		if err != nil {
			return AuditBundle{}, WrapExitError(ExitRuntimeError, "re-derive decisions", err)
		}
		bundle.Proofs = proofs
		if !ok {
			bundle.OK = false
		}
	}
	return bundle, nil
}

// buildProofs re-runs the decision layer for every committed decision and
// compares the recomputed actions hash with the committed one.
func buildProofs(records []chain.Record) ([]ProofEntry, bool, error) {
	reg := kernel.NewDomainRegistry()
	state := kernel.NewState()
	statesBySeq := make(map[int64]kernel.State, len(records))
	for _, rec := range records {
		next, err := reg.Apply(state, rec.Event)
		if err != nil {
			return nil, false, err
		}
		state = next
		statesBySeq[rec.Event.Seq] = state
	}
	bySeq := make(map[int64]chain.Record, len(records))
	for _, rec := range records {
		bySeq[rec.Event.Seq] = rec
	}

	allOK := true
	var proofs []ProofEntry
	for _, rec := range records {
		if rec.Event.Type != kernel.EventActionsDecided {
			continue
		}
		entry := ProofEntry{DecisionSeq: rec.Event.Seq, TriggerSeq: -1}
		committed, _ := rec.Event.Payload["actions_hash"].(canon.String)
		entry.ActionsHash = string(committed)

		triggerSeq, ok := rec.Event.Payload["trigger_seq"].(canon.Int)
		if !ok {
			entry.Detail = "missing trigger_seq"
		} else {
			entry.TriggerSeq = int64(triggerSeq)
			trigger, found := bySeq[int64(triggerSeq)]
			triggerState, haveState := statesBySeq[int64(triggerSeq)]
			switch {
			case !found || !haveState:
				entry.Detail = "trigger record not in log"
			default:
				_, meta, err := decision.Decide(triggerState, trigger)
				if err != nil {
					entry.Detail = fmt.Sprintf("re-derivation failed: %v", err)
				} else if meta.ActionsHash != string(committed) {
					entry.Detail = fmt.Sprintf("recomputed actions_hash %s", meta.ActionsHash)
				} else {
					entry.RecomputedOK = true
				}
			}
		}
		if !entry.RecomputedOK {
			allOK = false
		}
		proofs = append(proofs, entry)
	}
	return proofs, allOK, nil
}

func renderAuditMarkdown(out *OutputFormatter, bundle AuditBundle, summary bool) {
	out.Printf("# Audit report %s\n\n", bundle.BundleID)
	status := "PASS"
	if !bundle.OK {
		status = "FAIL"
	}
	out.Printf("**Status: %s**\n\n", status)

	out.Println("## Chain")
	if bundle.Chain.OK {
		out.Printf("- records: %d\n", bundle.Chain.Records)
		out.Printf("- last seq: %d\n", bundle.Chain.LastSeq)
		out.Printf("- last hash: `%s`\n", bundle.Chain.LastHash)
	} else {
		out.Printf("- FAILED at seq %d: %s\n", bundle.Chain.OffendingSeq, bundle.Chain.Detail)
	}

	out.Println("\n## Trigger pointers")
	out.Printf("- decisions: %d, failures: %d\n", bundle.Pointers.Decisions, bundle.Pointers.Failures)
	if !summary {
		for _, entry := range bundle.Pointers.Checks {
			status := "ok"
			if !entry.OK {
				status = "FAIL: " + entry.Detail
			}
			out.Printf("- decision seq=%d trigger seq=%d %s\n", entry.DecisionSeq, entry.TriggerSeq, status)
		}
	}

	if bundle.StateHash != "" {
		out.Printf("\n## State\n- state hash: `%s`\n", bundle.StateHash)
	}

	if len(bundle.Proofs) > 0 {
		out.Println("\n## Decision proofs")
		for _, proof := range bundle.Proofs {
			status := "ok"
			if !proof.RecomputedOK {
				status = "FAIL: " + proof.Detail
			}
			out.Printf("- decision seq=%d trigger seq=%d %s\n", proof.DecisionSeq, proof.TriggerSeq, status)
		}
	}
}
