// Package pipeline implements the multi-stage document conversion
// orchestrator: it drives an uploaded document through format conversion,
// page rasterization, and text extraction, persisting every stage output to
// the content-addressed artifact store as it goes.
//
// Scheduling model: a bounded worker pool executes jobs. Stage 1 (the
// office-suite converter) is serialized process-wide behind a capacity-1
// semaphore; stages 2 and 3 run with bounded parallelism. Submission never
// blocks on pipeline completion.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/3leaps/drawmill/pkg/stage"
	"github.com/3leaps/drawmill/pkg/store"
)

// Config configures orchestrator behavior.
type Config struct {
	// Workers is the number of concurrent jobs. Default: 2.
	Workers int

	// OCRWorkers bounds concurrent text-extraction invocations across
	// all jobs. Default: GOMAXPROCS.
	OCRWorkers int

	// QueueDepth is the submission queue capacity. Submit returns
	// ErrBusy when the queue is full. Default: 64.
	QueueDepth int

	// MaxUploadBytes rejects larger documents at submission. Zero means
	// unlimited.
	MaxUploadBytes int64

	// Per-stage wall-clock timeouts. A job's overall deadline is the sum
	// of its stages' timeouts.
	ConvertTimeout time.Duration
	RenderTimeout  time.Duration
	OCRTimeout     time.Duration

	// SpawnRate limits external process launches per second across the
	// whole pipeline. Zero means unlimited.
	SpawnRate float64

	// WorkRoot is where per-job scratch directories are created.
	WorkRoot string

	// KeepWork disables scratch-directory cleanup, for debugging.
	KeepWork bool
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.OCRWorkers <= 0 {
		c.OCRWorkers = runtime.GOMAXPROCS(0)
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.ConvertTimeout <= 0 {
		c.ConvertTimeout = 5 * time.Minute
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 3 * time.Minute
	}
	if c.OCRTimeout <= 0 {
		c.OCRTimeout = 2 * time.Minute
	}
}

// Runners bundles the three stage runners in pipeline order.
type Runners struct {
	Convert stage.Runner // document -> PDF
	Render  stage.Runner // PDF -> page images
	Extract stage.Runner // page image -> text
}

// ArtifactEntry describes one stored artifact for optional index recording.
type ArtifactEntry struct {
	Fingerprint string
	Stage       string
	Page        int
	Path        string
	Size        int64
}

// Recorder receives artifact entries as stages persist outputs. Recording
// is best-effort; failures are logged, never fatal to the job.
type Recorder interface {
	Record(ctx context.Context, entry ArtifactEntry) error
}

// pagesProbe is the render stage's sidecar recording the page count, which
// makes resumption and manifest assembly independent of re-probing the PDF.
type pagesProbe struct {
	PageCount int `json:"page_count"`
}

const pagesProbeName = "pages.json"

// Orchestrator sequences the stage runners for submitted documents.
type Orchestrator struct {
	cfg     Config
	store   *store.Store
	reg     *Registry
	runners Runners
	logger  *zap.Logger

	recorder Recorder

	// convertSlot is the one true mutual-exclusion lock in the system:
	// the office-suite converter tolerates a single concurrent caller.
	convertSlot *semaphore.Weighted
	ocrSem      *semaphore.Weighted
	limiter     *rate.Limiter

	queue   chan string
	cancels sync.Map // job id -> context.CancelFunc

	runCtx  context.Context
	stopRun context.CancelFunc
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates an orchestrator. Call Start before submitting.
func New(s *store.Store, reg *Registry, runners Runners, cfg Config, logger *zap.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = filepath.Join(s.Root(), "work")
	}
	o := &Orchestrator{
		cfg:         cfg,
		store:       s,
		reg:         reg,
		runners:     runners,
		logger:      logger,
		convertSlot: semaphore.NewWeighted(1),
		ocrSem:      semaphore.NewWeighted(int64(cfg.OCRWorkers)),
		queue:       make(chan string, cfg.QueueDepth),
	}
	if cfg.SpawnRate > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.SpawnRate), 1)
	}
	return o
}

// WithRecorder attaches an optional artifact recorder.
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

// Start launches the worker pool. Workers run until Stop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		o.runCtx, o.stopRun = context.WithCancel(ctx)
		for i := 0; i < o.cfg.Workers; i++ {
			o.wg.Add(1)
			go o.worker(o.runCtx)
		}
		o.logger.Info("pipeline started",
			zap.Int("workers", o.cfg.Workers),
			zap.Int("ocr_workers", o.cfg.OCRWorkers))
	})
}

// Stop cancels in-flight jobs and waits for workers to drain.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		if o.stopRun != nil {
			o.stopRun()
		}
		o.wg.Wait()
	})
}

// Submit stores the document, creates a job, and schedules execution. It
// returns the job identifier immediately after the document is durably
// stored; status/result polling is the only way to observe progress.
//
// Identical document bytes hit the whole-pipeline cache: the job is created
// already succeeded and no external process runs.
func (o *Orchestrator) Submit(ctx context.Context, data []byte, filename string) (string, error) {
	if o.cfg.MaxUploadBytes > 0 && int64(len(data)) > o.cfg.MaxUploadBytes {
		return "", ErrTooLarge
	}

	fp, err := o.store.Put(data, store.KindSource)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New().String(),
		Fingerprint: fp,
		Filename:    filepath.Base(filename),
		Status:      JobPending,
		CreatedAt:   now,
	}

	// Whole-pipeline cache hit: short-circuit to succeeded without
	// invoking any external process.
	if ManifestExists(o.store, fp) {
		job.Status = JobSucceeded
		job.StartedAt = &now
		job.EndedAt = &now
		if err := o.reg.Create(job); err != nil {
			return "", err
		}
		o.logger.Debug("submission hit pipeline cache",
			zap.String("job_id", job.ID),
			zap.String("fingerprint", fp))
		return job.ID, nil
	}

	if err := o.reg.Create(job); err != nil {
		return "", err
	}
	select {
	case o.queue <- job.ID:
	default:
		o.reg.Remove(job.ID)
		return "", ErrBusy
	}
	o.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("fingerprint", fp),
		zap.String("filename", job.Filename),
		zap.Int("bytes", len(data)))
	return job.ID, nil
}

// Status returns a snapshot of the job: current stage, per-stage results,
// and overall status.
func (o *Orchestrator) Status(jobID string) (*Job, error) {
	return o.reg.Get(jobID)
}

// Jobs returns snapshots of every known job, newest first.
func (o *Orchestrator) Jobs() []*Job {
	return o.reg.List()
}

// Result returns the completed manifest, ErrPending for a job still in
// flight, or a FailedError naming the first failing stage.
func (o *Orchestrator) Result(jobID string) (*Manifest, error) {
	job, err := o.reg.Get(jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case JobSucceeded:
		return LoadManifest(o.store, job.Fingerprint)
	case JobFailed:
		return nil, &FailedError{
			Stage:  job.FailureStage,
			Page:   job.FailurePage,
			Code:   job.FailureCode,
			Detail: job.FailureDetail,
		}
	default:
		return nil, ErrPending
	}
}

// Cancel marks a job failed with reason cancelled and terminates its
// running stage process, if any. Already-completed stage artifacts remain
// cached; they are reusable by other jobs regardless.
func (o *Orchestrator) Cancel(jobID string) error {
	job, err := o.reg.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	if cancel, ok := o.cancels.Load(jobID); ok {
		cancel.(context.CancelFunc)()
		return nil
	}
	// Still queued: fail it directly; the worker skips terminal jobs.
	return o.reg.Update(jobID, func(j *Job) {
		if !j.Status.Terminal() {
			j.fail("", 0, stage.FailCancelled, "cancelled before execution")
		}
	})
}

// RebuildRegistry scans the artifact store for completed-pipeline manifests
// with no corresponding job record and synthesizes succeeded jobs for them.
// This recovers registry state after a wipe: the artifact layout is the
// source of truth for prior success.
func (o *Orchestrator) RebuildRegistry(ctx context.Context) (int, error) {
	known := make(map[string]bool)
	for _, job := range o.reg.List() {
		if job.Status == JobSucceeded {
			known[job.Fingerprint] = true
		}
	}

	created := 0
	artifactsRoot := filepath.Join(o.store.Root(), "artifacts")
	shards, err := os.ReadDir(artifactsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, sh := range shards {
		if !sh.IsDir() {
			continue
		}
		fps, err := os.ReadDir(filepath.Join(artifactsRoot, sh.Name()))
		if err != nil {
			continue
		}
		for _, fpEntry := range fps {
			if ctx.Err() != nil {
				return created, ctx.Err()
			}
			fp := fpEntry.Name()
			if known[fp] || !ManifestExists(o.store, fp) {
				continue
			}
			m, err := LoadManifest(o.store, fp)
			if err != nil {
				continue
			}
			now := time.Now().UTC()
			job := &Job{
				ID:          uuid.New().String(),
				Fingerprint: fp,
				Filename:    m.Filename,
				Status:      JobSucceeded,
				CreatedAt:   now,
				StartedAt:   &m.CreatedAt,
				EndedAt:     &m.CreatedAt,
			}
			if err := o.reg.Create(job); err != nil {
				continue
			}
			created++
		}
	}
	return created, nil
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-o.queue:
			o.runJob(ctx, jobID)
		}
	}
}

// waitSpawn observes the optional process-launch rate limit.
func (o *Orchestrator) waitSpawn(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Wait(ctx)
}
