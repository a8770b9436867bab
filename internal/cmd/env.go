package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/3leaps/drawmill/internal/config"
	"github.com/3leaps/drawmill/internal/observability"
	"github.com/3leaps/drawmill/pkg/artindex"
	"github.com/3leaps/drawmill/pkg/mirror"
	"github.com/3leaps/drawmill/pkg/mirror/file"
	"github.com/3leaps/drawmill/pkg/mirror/s3"
	"github.com/3leaps/drawmill/pkg/pipeline"
	"github.com/3leaps/drawmill/pkg/stage"
	"github.com/3leaps/drawmill/pkg/store"
)

// pipelineEnv bundles the components every pipeline-facing command needs.
type pipelineEnv struct {
	cfg   *config.Config
	store *store.Store
	reg   *pipeline.Registry
	orch  *pipeline.Orchestrator
	index *sql.DB
}

// openPipelineEnv builds the store, registry, runners, and orchestrator
// from the loaded configuration. The orchestrator is not started.
func openPipelineEnv(ctx context.Context) (*pipelineEnv, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	st, err := store.Open(cfg.Store.Root)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	reg, err := pipeline.OpenRegistry(filepath.Join(cfg.Store.Root, "jobs"))
	if err != nil {
		return nil, fmt.Errorf("open job registry: %w", err)
	}

	runners := pipeline.Runners{
		Convert: stage.NewConverter(stage.ConverterConfig{
			Binary: cfg.Tools.Soffice,
		}),
		Render: stage.NewRenderer(stage.RendererConfig{
			Binary: cfg.Tools.Pdftoppm,
			DPI:    cfg.Tools.DPI,
		}),
		Extract: stage.NewExtractor(stage.ExtractorConfig{
			Binary:     cfg.Tools.Tesseract,
			Lang:       cfg.Tools.Languages,
			Positional: cfg.Tools.TSV,
		}),
	}

	pipeCfg := pipeline.Config{
		Workers:        cfg.Pipeline.Workers,
		OCRWorkers:     cfg.Pipeline.OCRWorkers,
		QueueDepth:     cfg.Pipeline.QueueDepth,
		MaxUploadBytes: cfg.Pipeline.MaxUploadBytes,
		ConvertTimeout: cfg.Pipeline.ConvertTimeout,
		RenderTimeout:  cfg.Pipeline.RenderTimeout,
		OCRTimeout:     cfg.Pipeline.OCRTimeout,
		SpawnRate:      cfg.Pipeline.SpawnRate,
		WorkRoot:       cfg.Pipeline.WorkRoot,
		KeepWork:       cfg.Pipeline.KeepWork,
	}

	orch := pipeline.New(st, reg, runners, pipeCfg, observability.ServerLogger)

	env := &pipelineEnv{cfg: cfg, store: st, reg: reg, orch: orch}

	if cfg.Index.Enabled {
		db, err := artindex.Open(ctx, artindex.Config{Path: indexPath(cfg)})
		if err != nil {
			return nil, fmt.Errorf("open artifact index: %w", err)
		}
		if err := artindex.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate artifact index: %w", err)
		}
		env.index = db
		env.orch = orch.WithRecorder(artindex.NewRecorder(db))
	}

	return env, nil
}

// openIndex opens just the artifact index database.
func openIndex(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := artindex.Open(ctx, artindex.Config{Path: indexPath(cfg)})
	if err != nil {
		return nil, fmt.Errorf("open artifact index: %w", err)
	}
	if err := artindex.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate artifact index: %w", err)
	}
	return db, nil
}

func indexPath(cfg *config.Config) string {
	if cfg.Index.Path != "" {
		return cfg.Index.Path
	}
	return filepath.Join(cfg.Store.Root, "index", "artifacts.db")
}

func (e *pipelineEnv) Close() {
	if e.index != nil {
		_ = e.index.Close()
	}
}

// openMirrorBackend builds the configured mirror backend, or errors when
// mirroring is not configured.
func openMirrorBackend(ctx context.Context, cfg *config.Config) (mirror.Backend, error) {
	switch cfg.Mirror.Backend {
	case "s3":
		return s3.New(ctx, s3.Config{
			Bucket:         cfg.Mirror.Bucket,
			Prefix:         cfg.Mirror.Prefix,
			Region:         cfg.Mirror.Region,
			Endpoint:       cfg.Mirror.Endpoint,
			Profile:        cfg.Mirror.Profile,
			ForcePathStyle: cfg.Mirror.ForcePathStyle,
		})
	case "file":
		return file.New(file.Config{BaseDir: cfg.Mirror.BaseDir})
	case "":
		return nil, fmt.Errorf("no mirror backend configured; set mirror.backend to s3 or file")
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", cfg.Mirror.Backend)
	}
}
