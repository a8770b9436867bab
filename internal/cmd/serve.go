package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/drawmill/internal/config"
	"github.com/3leaps/drawmill/internal/observability"
	"github.com/3leaps/drawmill/internal/server"
	"github.com/3leaps/drawmill/internal/server/handlers"
	"github.com/3leaps/drawmill/pkg/store"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversion API server",
	Long: `Run the HTTP API server: document submission, job tracking, and
artifact retrieval.

Example:
  drawmill serve
  drawmill serve --port 9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

// storeHealthChecker verifies the artifact store root is reachable.
type storeHealthChecker struct {
	st *store.Store
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if c.st == nil {
		return fmt.Errorf("artifact store not initialized")
	}
	if _, err := os.Stat(c.st.Root()); err != nil {
		return fmt.Errorf("artifact store root: %w", err)
	}
	return nil
}

// toolsHealthChecker verifies the external conversion binaries are on PATH.
type toolsHealthChecker struct {
	tools config.ToolsConfig
}

func (c toolsHealthChecker) CheckHealth(ctx context.Context) error {
	for _, tool := range []string{c.tools.Soffice, c.tools.Pdftoppm, c.tools.Tesseract} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("tool %s: %w", tool, err)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	env, err := openPipelineEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("store", storeHealthChecker{st: env.store})
	hm.RegisterChecker("tools", toolsHealthChecker{tools: cfg.Tools})
	if env.index != nil {
		db := env.index
		hm.RegisterChecker("index", handlers.HealthCheckerFunc(func(ctx context.Context) error {
			return db.PingContext(ctx)
		}))
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env.orch.Start(runCtx)
	defer env.orch.Stop()

	// Artifact layout is the source of truth; recover job records lost to
	// a registry wipe before accepting traffic.
	if created, err := env.orch.RebuildRegistry(runCtx); err != nil {
		observability.ServerLogger.Warn("registry rebuild failed", zap.Error(err))
	} else if created > 0 {
		observability.ServerLogger.Info("registry rebuilt from artifacts",
			zap.Int("jobs_created", created))
	}

	srv := server.New(host, port,
		server.WithPipeline(env.orch, env.store),
		server.WithVersion(handlers.VersionInfo{
			Version: versionInfo.Version,
			Commit:  versionInfo.Commit,
			Date:    versionInfo.BuildDate,
		}),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-runCtx.Done():
	}

	observability.ServerLogger.Info("shutting down",
		zap.Duration("grace", cfg.Server.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
