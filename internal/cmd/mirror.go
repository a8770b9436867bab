package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/drawmill/internal/config"
	"github.com/3leaps/drawmill/internal/observability"
	"github.com/3leaps/drawmill/pkg/mirror"
	"github.com/3leaps/drawmill/pkg/pipeline"
	"github.com/3leaps/drawmill/pkg/store"
)

var mirrorAll bool

var mirrorCmd = &cobra.Command{
	Use:   "mirror [fingerprint...]",
	Short: "Mirror stored artifacts to a remote backend",
	Long: `Upload a document's source and derived artifacts to the configured
mirror backend. Objects already present at the right size are skipped,
so repeated runs only transfer new artifacts.

Examples:
  drawmill mirror 4ac9...e2
  drawmill mirror --all`,
	RunE: runMirror,
}

func init() {
	rootCmd.AddCommand(mirrorCmd)
	mirrorCmd.Flags().BoolVar(&mirrorAll, "all", false, "Mirror every document with a completed pipeline")
}

func runMirror(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	if !mirrorAll && len(args) == 0 {
		return fmt.Errorf("provide at least one fingerprint or --all")
	}

	st, err := store.Open(cfg.Store.Root)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	backend, err := openMirrorBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	fingerprints := args
	if mirrorAll {
		fingerprints, err = pipeline.CompletedFingerprints(st)
		if err != nil {
			return fmt.Errorf("scan store: %w", err)
		}
		if len(fingerprints) == 0 {
			observability.CLILogger.Info("Nothing to mirror")
			return nil
		}
	}

	syncer := mirror.NewSyncer(st, backend, observability.CLILogger)

	var total mirror.Result
	for _, fp := range fingerprints {
		res, err := syncer.Sync(ctx, fp)
		if err != nil {
			return fmt.Errorf("mirror %s: %w", fp, err)
		}
		total.Uploaded += res.Uploaded
		total.Skipped += res.Skipped
		total.Bytes += res.Bytes
	}

	observability.CLILogger.Info("Mirror complete",
		zap.Int("documents", len(fingerprints)),
		zap.Int("uploaded", total.Uploaded),
		zap.Int("skipped", total.Skipped),
		zap.Int64("bytes", total.Bytes))
	return nil
}
