package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/drawmill/internal/observability"
	"github.com/3leaps/drawmill/pkg/batch"
)

var batchDryRun bool

var batchCmd = &cobra.Command{
	Use:   "batch <manifest>",
	Short: "Submit a batch of documents from a manifest",
	Long: `Submit every document matched by a YAML or JSON batch manifest.

The manifest names a base directory and include/exclude glob patterns
(with ** support). Matched documents are submitted in order; the
continue_on_error and wait settings control failure handling.

Examples:
  drawmill batch conops-batch.yaml
  drawmill batch conops-batch.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "List matched documents without submitting")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	manifestPath := args[0]

	m, err := batch.Load(manifestPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", manifestPath),
			zap.Error(err))
		return err
	}
	manifestDir := filepath.Dir(manifestPath)

	if batchDryRun {
		paths, err := batch.Expand(m, manifestDir)
		if err != nil {
			return fmt.Errorf("expand manifest patterns: %w", err)
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		observability.CLILogger.Info("Dry run complete", zap.Int("matched", len(paths)))
		return nil
	}

	env, err := openPipelineEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	env.orch.Start(ctx)
	defer env.orch.Stop()

	runner := batch.NewRunner(env.orch, observability.CLILogger)
	result, err := runner.Run(ctx, m, manifestDir)
	if err != nil {
		return err
	}

	observability.CLILogger.Info("Batch complete",
		zap.Int("submitted", len(result.Submitted)),
		zap.Int("failed", len(result.Failures)))

	for _, f := range result.Failures {
		observability.CLILogger.Warn("Document failed",
			zap.String("path", f.Path),
			zap.String("error", f.Err))
	}

	if len(result.Failures) > 0 {
		return fmt.Errorf("%d documents failed", len(result.Failures))
	}
	return nil
}
