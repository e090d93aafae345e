package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/opsledger/opsledger/internal/decision"
	"github.com/opsledger/opsledger/internal/eventlog"
)

// VerifyPointersOptions holds flags for the verify-pointers command.
type VerifyPointersOptions struct {
	*RootOptions
	Log LogFlags
}

// PointerReport is the JSON shape of a pointer verification run.
type PointerReport struct {
	Decisions int                  `json:"decisions"`
	Failures  int                  `json:"failures"`
	OK        bool                 `json:"ok"`
	Checks    []PointerReportEntry `json:"checks,omitempty"`
}

// PointerReportEntry reports one failed (or, verbosely, any) check.
type PointerReportEntry struct {
	DecisionSeq int64  `json:"decision_seq"`
	TriggerSeq  int64  `json:"trigger_seq"`
	OK          bool   `json:"ok"`
	Detail      string `json:"detail,omitempty"`
}

// NewVerifyPointersCommand creates the verify-pointers command.
func NewVerifyPointersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyPointersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify-pointers",
		Short: "Verify decision trigger pointers",
		Long: `Verify that every ActionsDecided event's trigger_hash matches the
recomputed commitment of the event at its trigger_seq.

Exit codes:
  0 - all pointers verify
  2 - verification failed
  1 - runtime error (log unreadable, etc.)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyPointers(opts, cmd)
		},
	}

	addLogFlags(cmd, &opts.Log)
	return cmd
}

func runVerifyPointers(opts *VerifyPointersOptions, cmd *cobra.Command) error {
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

	checks, err := decision.VerifyPointers(ctx, store)
	if err != nil {
		if eventlog.IsIntegrity(err) {
			return WrapExitError(ExitVerifyFailed, "log verification failed", err)
		}
		return WrapExitError(ExitRuntimeError, "pointer verification failed", err)
	}

	report := PointerReport{Decisions: len(checks), OK: true}
	for _, check := range checks {
		if !check.OK {
			report.Failures++
			report.OK = false
		}
		if !check.OK || opts.Verbose {
			report.Checks = append(report.Checks, PointerReportEntry{
				DecisionSeq: check.DecisionSeq,
				TriggerSeq:  check.TriggerSeq,
				OK:          check.OK,
				Detail:      check.Detail,
			})
		}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		if err := out.PrintJSON(report); err != nil {
			return WrapExitError(ExitRuntimeError, "render report", err)
		}
	} else {
		out.Printf("decisions checked: %d\n", report.Decisions)
		for _, entry := range report.Checks {
			status := "ok"
			if !entry.OK {
				status = "FAIL: " + entry.Detail
			}
			out.Printf("  decision seq=%d trigger seq=%d %s\n", entry.DecisionSeq, entry.TriggerSeq, status)
		}
	}

	if !report.OK {
		return NewExitError(ExitVerifyFailed, "pointer verification failed")
	}
	return nil
}
