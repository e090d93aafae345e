package cli

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opsledger/opsledger/internal/checkpoint"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
)

// CheckpointOptions holds flags shared by the checkpoint subcommands.
type CheckpointOptions struct {
	*RootOptions
	Log       LogFlags
	AtSeq     int64
	KeyFile   string
	PubFile   string
	File      string
	CreatedBy string
}

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Create and verify signed checkpoints",
	}
	cmd.AddCommand(newCheckpointCreateCommand(rootOpts))
	cmd.AddCommand(newCheckpointVerifyCommand(rootOpts))
	return cmd
}

func newCheckpointCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Replay to a sequence and sign a checkpoint",
		Long: `Replay the log to --at-seq, derive the state and log hashes, sign
them with the Ed25519 key, and write the checkpoint file.

The key file holds the hex-encoded 32-byte Ed25519 seed. Key management
and rotation are the platform's concern.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointCreate(opts, cmd)
		},
	}

	addLogFlags(cmd, &opts.Log)
	cmd.Flags().Int64Var(&opts.AtSeq, "at-seq", -1, "sequence to checkpoint at (required)")
	cmd.Flags().StringVar(&opts.KeyFile, "key", "", "hex Ed25519 seed file (required)")
	cmd.Flags().StringVar(&opts.File, "out", "", "checkpoint output file (required)")
	cmd.Flags().StringVar(&opts.CreatedBy, "created-by", "", "creator identity (required)")
	_ = cmd.MarkFlagRequired("at-seq")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("out")
	_ = cmd.MarkFlagRequired("created-by")
	return cmd
}

func newCheckpointVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a checkpoint against the log",
		Long: `Verify a checkpoint file: Ed25519 signature, then a fresh replay
to its at_seq comparing state and log hashes.

Exit codes:
  0 - checkpoint verifies
  2 - verification failed
  1 - runtime error`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointVerify(opts, cmd)
		},
	}

	addLogFlags(cmd, &opts.Log)
	cmd.Flags().StringVar(&opts.File, "checkpoint", "", "checkpoint file (required)")
	cmd.Flags().StringVar(&opts.PubFile, "pub", "", "hex Ed25519 public key file (required)")
	_ = cmd.MarkFlagRequired("checkpoint")
	_ = cmd.MarkFlagRequired("pub")
	return cmd
}

func runCheckpointCreate(opts *CheckpointOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	key, err := loadSigningKey(opts.KeyFile)
	if err != nil {
		return WrapExitError(ExitRuntimeError, "load signing key", err)
	}
	store, err := openLog(opts.Log)
	if err != nil {
		return WrapExitError(ExitRuntimeError, "failed to open log", err)
	}
	defer store.Close()

	cp, err := checkpoint.CreateAt(ctx, store, kernel.NewDomainRegistry(), opts.AtSeq, opts.CreatedBy, key)
	if err != nil {
		if eventlog.IsIntegrity(err) {
			return WrapExitError(ExitVerifyFailed, "log verification failed", err)
		}
		return WrapExitError(ExitRuntimeError, "create checkpoint", err)
	}
	body, err := cp.Encode()
	if err != nil {
		return WrapExitError(ExitRuntimeError, "encode checkpoint", err)
	}
	if err := os.WriteFile(opts.File, append(body, '\n'), 0o644); err != nil {
		return WrapExitError(ExitRuntimeError, "write checkpoint", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.PrintJSON(cp)
	}
	out.Printf("checkpoint %s at seq %d written to %s\n", cp.CheckpointID, cp.AtSeq, opts.File)
	return nil
}

func runCheckpointVerify(opts *CheckpointOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pub, err := loadVerifyKey(opts.PubFile)
	if err != nil {
		return WrapExitError(ExitRuntimeError, "load public key", err)
	}
	raw, err := os.ReadFile(opts.File)
	if err != nil {
		return WrapExitError(ExitRuntimeError, "read checkpoint", err)
	}
	cp, err := checkpoint.Decode(raw)
	if err != nil {
		return WrapExitError(ExitVerifyFailed, "checkpoint verification failed", err)
	}

	store, err := openLog(opts.Log)
	if err != nil {
		return WrapExitError(ExitRuntimeError, "failed to open log", err)
	}
	defer store.Close()

	if err := checkpoint.VerifyAgainstLog(ctx, store, kernel.NewDomainRegistry(), cp, pub); err != nil {
		return WrapExitError(ExitVerifyFailed, "checkpoint verification failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.PrintJSON(map[string]any{"checkpoint_id": cp.CheckpointID, "ok": true})
	}
	out.Printf("checkpoint %s verifies at seq %d\n", cp.CheckpointID, cp.AtSeq)
	return nil
}

// loadSigningKey reads a hex-encoded 32-byte Ed25519 seed.
func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	seed, err := loadHexFile(path, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// loadVerifyKey reads a hex-encoded 32-byte Ed25519 public key.
func loadVerifyKey(path string) (ed25519.PublicKey, error) {
	raw, err := loadHexFile(path, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(raw), nil
}

func loadHexFile(path string, wantLen int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%s: not hex: %w", path, err)
	}
	if len(decoded) != wantLen {
		return nil, fmt.Errorf("%s: expected %d bytes, got %d", path, wantLen, len(decoded))
	}
	return decoded, nil
}
