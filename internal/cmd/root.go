// Package cmd implements the drawmill command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/drawmill/internal/config"
	"github.com/3leaps/drawmill/internal/observability"
)

// versionInfo holds build metadata injected at link time via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records the build metadata stamped by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	rootLogLevel  string
	rootStoreRoot string
)

var rootCmd = &cobra.Command{
	Use:   "drawmill",
	Short: "Document conversion pipeline for CONOPS documents",
	Long: `drawmill converts CONOPS documents into archival artifacts: a PDF
rendition, per-page images, and extracted page text.

Artifacts are content-addressed by the source document's SHA-256
fingerprint, so converting the same document twice costs nothing the
second time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]any{}
		if rootLogLevel != "" {
			overrides["logging"] = map[string]any{"level": rootLogLevel}
		}
		if rootStoreRoot != "" {
			overrides["store"] = map[string]any{"root": rootStoreRoot}
		}

		cfg, err := config.Load(cmd.Context(), overrides)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		observability.Init(cfg.Logging.Level, cfg.Logging.Profile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&rootStoreRoot, "store", "", "Artifact store root directory")
}

// Execute runs the CLI with the given base context.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.CLILogger.Error("Command failed", zap.Error(err))
		observability.Sync()
		os.Exit(1)
	}
	observability.Sync()
}
