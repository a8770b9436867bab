package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/drawmill/internal/config"
	"github.com/3leaps/drawmill/internal/observability"
	"github.com/3leaps/drawmill/pkg/artindex"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the artifact store and its index",
}

var storeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show artifact store statistics",
	Long: `Display artifact counts and sizes from the store index.

Examples:
  drawmill store stats
  drawmill store stats --json`,
	RunE: runStoreStats,
}

var storeSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove index rows whose artifacts no longer exist",
	Long: `Reconcile the index against the filesystem. The artifact layout is
authoritative; rows pointing at missing files are removed.

Examples:
  drawmill store sweep
  drawmill store sweep --dry-run
  drawmill store sweep --max-age 720h`,
	RunE: runStoreSweep,
}

var storeRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the job registry from stored artifacts",
	Long: `Scan the artifact store for completed-pipeline manifests and
synthesize job records for any without one. Recovers registry state
after a wipe.`,
	RunE: runStoreRebuild,
}

var (
	storeStatsJSON   bool
	storeSweepDry    bool
	storeSweepMaxAge time.Duration
)

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeStatsCmd)
	storeCmd.AddCommand(storeSweepCmd)
	storeCmd.AddCommand(storeRebuildCmd)

	storeStatsCmd.Flags().BoolVar(&storeStatsJSON, "json", false, "Output as JSON")
	storeSweepCmd.Flags().BoolVar(&storeSweepDry, "dry-run", false, "Report stale rows without removing them")
	storeSweepCmd.Flags().DurationVar(&storeSweepMaxAge, "max-age", 0, "Only consider rows recorded at least this long ago (default from store.retention_age)")
}

func runStoreStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, err := openIndex(ctx, config.GetConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	summary, err := artindex.GetSummary(ctx, db)
	if err != nil {
		return fmt.Errorf("get summary: %w", err)
	}

	if storeStatsJSON {
		return printJSON(summary)
	}

	fmt.Printf("Documents: %d\n", summary.Documents)
	fmt.Printf("Artifacts: %d\n", summary.Artifacts)
	fmt.Printf("Total bytes: %d\n", summary.TotalBytes)
	if len(summary.Stages) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "STAGE\tARTIFACTS\tBYTES")
		for _, s := range summary.Stages {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", s.Stage, s.Artifacts, s.TotalBytes)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func runStoreSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	db, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	maxAge := sweepMaxAge(cmd, cfg)

	res, err := artindex.Sweep(ctx, db, artindex.SweepParams{
		MaxAge: maxAge,
		DryRun: storeSweepDry,
	})
	if err != nil {
		return fmt.Errorf("sweep index: %w", err)
	}

	if storeSweepDry {
		observability.CLILogger.Info("Sweep dry run",
			zap.Int("stale_rows", len(res.Stale)))
		for _, row := range res.Stale {
			fmt.Printf("stale: %s %s %s\n", row.Fingerprint, row.Stage, row.Name)
		}
		return nil
	}

	observability.CLILogger.Info("Sweep complete",
		zap.Int64("rows_removed", res.RowsRemoved))
	return nil
}

// sweepMaxAge resolves the sweep age threshold: an explicit --max-age flag
// wins, otherwise the configured store.retention_age applies.
func sweepMaxAge(cmd *cobra.Command, cfg *config.Config) time.Duration {
	if cmd != nil && cmd.Flags().Changed("max-age") {
		return storeSweepMaxAge
	}
	if cfg != nil {
		return cfg.Store.RetentionAge
	}
	return storeSweepMaxAge
}

func runStoreRebuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := openPipelineEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	created, err := env.orch.RebuildRegistry(ctx)
	if err != nil {
		return fmt.Errorf("rebuild registry: %w", err)
	}

	observability.CLILogger.Info("Registry rebuild complete",
		zap.Int("jobs_created", created))
	return nil
}
