package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/drawmill/pkg/stage"
	"github.com/3leaps/drawmill/pkg/store"
)

// runJob drives one job through the three-stage sequence. A stage never
// starts before its predecessor reports ok; any failed or timed-out
// whole-document stage terminates the job immediately.
func (o *Orchestrator) runJob(ctx context.Context, jobID string) {
	job, err := o.reg.Get(jobID)
	if err != nil || job.Status.Terminal() {
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	o.cancels.Store(jobID, cancel)
	defer func() {
		o.cancels.Delete(jobID)
		cancel()
	}()

	workDir := filepath.Join(o.cfg.WorkRoot, jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		_ = o.reg.Update(jobID, func(j *Job) {
			j.fail("", 0, stage.FailConversion, fmt.Sprintf("create work dir: %v", err))
		})
		return
	}
	if !o.cfg.KeepWork {
		defer func() { _ = os.RemoveAll(workDir) }()
	}

	log := o.logger.With(zap.String("job_id", jobID), zap.String("fingerprint", job.Fingerprint))

	_ = o.reg.Update(jobID, func(j *Job) {
		now := time.Now().UTC()
		j.Status = JobRunning
		j.StartedAt = &now
		j.CurrentStage = o.runners.Convert.Name()
	})

	pdfPath, ok := o.runConvert(jobCtx, jobID, job.Fingerprint, workDir, log)
	if !ok {
		return
	}

	_ = o.reg.Update(jobID, func(j *Job) { j.CurrentStage = o.runners.Render.Name() })
	pageCount, ok := o.runRender(jobCtx, jobID, job.Fingerprint, pdfPath, workDir, log)
	if !ok {
		return
	}

	_ = o.reg.Update(jobID, func(j *Job) { j.CurrentStage = o.runners.Extract.Name() })
	if ok := o.runExtract(jobCtx, jobID, job.Fingerprint, pageCount, workDir, log); !ok {
		return
	}

	if err := o.finishJob(jobCtx, jobID, job.Fingerprint, job.Filename, pageCount); err != nil {
		_ = o.reg.Update(jobID, func(j *Job) {
			j.fail("", 0, stage.FailCorruptOutput, fmt.Sprintf("write manifest: %v", err))
		})
		return
	}
	log.Info("job succeeded", zap.Int("pages", pageCount))
}

// runConvert executes stage 1 behind the global conversion slot, reusing a
// cached PDF when one is stored for this fingerprint.
func (o *Orchestrator) runConvert(ctx context.Context, jobID, fp, workDir string, log *zap.Logger) (string, bool) {
	runner := o.runners.Convert
	key := store.StageKey{Name: runner.Name(), Version: runner.Version()}

	if o.store.ExistsDerived(fp, key, stage.PDFOutputName) {
		cached := o.store.DerivedPath(fp, key, stage.PDFOutputName)
		o.appendRecord(jobID, StageRecord{
			Stage:    runner.Name(),
			Status:   stage.StatusOK,
			Artifact: cached,
			Detail:   "cached",
		})
		log.Debug("conversion stage cached")
		return cached, true
	}

	// The converter tolerates exactly one concurrent caller across the
	// whole process. Acquire with bounded wait via ctx; release on every
	// exit path.
	if err := o.convertSlot.Acquire(ctx, 1); err != nil {
		o.failJob(jobID, runner.Name(), 0, stage.FailCancelled, "cancelled while waiting for conversion slot")
		return "", false
	}
	defer o.convertSlot.Release(1)

	// Re-check the cache after acquiring the slot: a job serialized ahead
	// of us may have converted the identical document already. Together
	// with the global slot this bounds identical concurrent submissions
	// to at most one converter execution.
	if o.store.ExistsDerived(fp, key, stage.PDFOutputName) {
		cached := o.store.DerivedPath(fp, key, stage.PDFOutputName)
		o.appendRecord(jobID, StageRecord{
			Stage:    runner.Name(),
			Status:   stage.StatusOK,
			Artifact: cached,
			Detail:   "cached",
		})
		return cached, true
	}

	if err := o.waitSpawn(ctx); err != nil {
		o.failJob(jobID, runner.Name(), 0, stage.FailCancelled, "cancelled while rate-limited")
		return "", false
	}

	stageDir := filepath.Join(workDir, runner.Name())
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		o.failJob(jobID, runner.Name(), 0, stage.FailConversion, err.Error())
		return "", false
	}

	res := runner.Run(ctx, o.store.SourcePath(fp), stageDir, o.cfg.ConvertTimeout)
	if !res.OK() {
		o.recordFailure(jobID, runner.Name(), 0, res, log)
		return "", false
	}

	final, err := o.store.PromoteDerived(fp, key, stage.PDFOutputName, res.Outputs[0])
	if err != nil {
		o.failJob(jobID, runner.Name(), 0, stage.FailCorruptOutput, err.Error())
		return "", false
	}
	o.recordArtifact(ctx, fp, runner.Name(), 0, final)
	o.appendRecord(jobID, StageRecord{
		Stage:    runner.Name(),
		Status:   stage.StatusOK,
		Artifact: final,
		Duration: res.Duration,
	})
	log.Info("conversion stage ok", zap.Duration("duration", res.Duration))
	return final, true
}

// runRender executes stage 2, persisting every page image and a pages.json
// sidecar so a crashed pipeline resumes from here instead of re-rendering.
func (o *Orchestrator) runRender(ctx context.Context, jobID, fp, pdfPath, workDir string, log *zap.Logger) (int, bool) {
	runner := o.runners.Render
	key := store.StageKey{Name: runner.Name(), Version: runner.Version()}

	var probe pagesProbe
	if err := o.store.ReadDerivedJSON(fp, key, pagesProbeName, &probe); err == nil && probe.PageCount > 0 {
		o.appendRecord(jobID, StageRecord{
			Stage:  runner.Name(),
			Status: stage.StatusOK,
			Detail: "cached",
		})
		log.Debug("render stage cached", zap.Int("pages", probe.PageCount))
		return probe.PageCount, true
	}

	if err := o.waitSpawn(ctx); err != nil {
		o.failJob(jobID, runner.Name(), 0, stage.FailCancelled, "cancelled while rate-limited")
		return 0, false
	}

	stageDir := filepath.Join(workDir, runner.Name())
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		o.failJob(jobID, runner.Name(), 0, stage.FailConversion, err.Error())
		return 0, false
	}

	res := runner.Run(ctx, pdfPath, stageDir, o.cfg.RenderTimeout)
	if !res.OK() {
		o.recordFailure(jobID, runner.Name(), 0, res, log)
		return 0, false
	}

	for _, out := range res.Outputs {
		final, err := o.store.PromoteDerived(fp, key, filepath.Base(out), out)
		if err != nil {
			o.failJob(jobID, runner.Name(), 0, stage.FailCorruptOutput, err.Error())
			return 0, false
		}
		o.recordArtifact(ctx, fp, runner.Name(), 0, final)
	}
	pageCount := len(res.Outputs)
	if _, err := o.store.PutDerivedJSON(fp, key, pagesProbeName, pagesProbe{PageCount: pageCount}); err != nil {
		o.failJob(jobID, runner.Name(), 0, stage.FailCorruptOutput, err.Error())
		return 0, false
	}
	o.appendRecord(jobID, StageRecord{
		Stage:    runner.Name(),
		Status:   stage.StatusOK,
		Artifact: o.store.DerivedDir(fp, key),
		Duration: res.Duration,
	})
	log.Info("render stage ok", zap.Int("pages", pageCount), zap.Duration("duration", res.Duration))
	return pageCount, true
}

// runExtract fans stage 3 out per page with bounded parallelism. Page
// extractions are independent: one page's failure is isolated, recorded,
// and never halts sibling pages. Only cancellation aborts the fan-out.
func (o *Orchestrator) runExtract(ctx context.Context, jobID, fp string, pageCount int, workDir string, log *zap.Logger) bool {
	runner := o.runners.Extract
	key := store.StageKey{Name: runner.Name(), Version: runner.Version()}
	renderKey := store.StageKey{Name: o.runners.Render.Name(), Version: o.runners.Render.Version()}

	g, gctx := errgroup.WithContext(ctx)
	for page := 1; page <= pageCount; page++ {
		g.Go(func() error {
			textName := stage.PageTextName(page)
			if o.store.ExistsDerived(fp, key, textName) {
				o.appendRecord(jobID, StageRecord{
					Stage:    runner.Name(),
					Page:     page,
					Status:   stage.StatusOK,
					Artifact: o.store.DerivedPath(fp, key, textName),
					Detail:   "cached",
				})
				return nil
			}

			if err := o.ocrSem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer o.ocrSem.Release(1)
			if err := o.waitSpawn(gctx); err != nil {
				return err
			}

			stageDir := filepath.Join(workDir, fmt.Sprintf("%s-%04d", runner.Name(), page))
			if err := os.MkdirAll(stageDir, 0o755); err != nil {
				o.appendRecord(jobID, StageRecord{
					Stage:  runner.Name(),
					Page:   page,
					Status: stage.StatusFailed,
					Code:   stage.FailConversion,
					Detail: err.Error(),
				})
				return nil
			}

			imagePath := o.store.DerivedPath(fp, renderKey, stage.PageImageName(page))
			res := runner.Run(gctx, imagePath, stageDir, o.cfg.OCRTimeout)
			if res.Code == stage.FailCancelled {
				return context.Canceled
			}
			if !res.OK() {
				// Isolation policy: this page's text is unavailable;
				// siblings proceed and the job can still succeed.
				o.appendRecord(jobID, StageRecord{
					Stage:    runner.Name(),
					Page:     page,
					Status:   res.Status,
					Code:     res.Code,
					Detail:   res.Detail,
					Duration: res.Duration,
				})
				log.Warn("page extraction failed",
					zap.Int("page", page),
					zap.String("code", string(res.Code)))
				return nil
			}

			var textPath string
			for _, out := range res.Outputs {
				final, err := o.store.PromoteDerived(fp, key, filepath.Base(out), out)
				if err != nil {
					o.appendRecord(jobID, StageRecord{
						Stage:  runner.Name(),
						Page:   page,
						Status: stage.StatusFailed,
						Code:   stage.FailCorruptOutput,
						Detail: err.Error(),
					})
					return nil
				}
				o.recordArtifact(gctx, fp, runner.Name(), page, final)
				if filepath.Base(final) == stage.PageTextName(page) {
					textPath = final
				}
			}
			o.appendRecord(jobID, StageRecord{
				Stage:    runner.Name(),
				Page:     page,
				Status:   stage.StatusOK,
				Artifact: textPath,
				Duration: res.Duration,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.failJob(jobID, runner.Name(), 0, stage.FailCancelled, "cancelled")
		return false
	}
	if ctx.Err() != nil {
		o.failJob(jobID, runner.Name(), 0, stage.FailCancelled, "cancelled")
		return false
	}
	return true
}

// finishJob assembles and persists the manifest, then marks the job
// succeeded. The manifest write is last: its presence is the cache marker
// for the whole pipeline.
func (o *Orchestrator) finishJob(ctx context.Context, jobID, fp, filename string, pageCount int) error {
	convKey := store.StageKey{Name: o.runners.Convert.Name(), Version: o.runners.Convert.Version()}
	renderKey := store.StageKey{Name: o.runners.Render.Name(), Version: o.runners.Render.Version()}
	ocrKey := store.StageKey{Name: o.runners.Extract.Name(), Version: o.runners.Extract.Version()}

	job, err := o.reg.Get(jobID)
	if err != nil {
		return err
	}
	pageErrors := make(map[int]string)
	for _, rec := range job.Stages {
		if rec.Stage == o.runners.Extract.Name() && rec.Page > 0 && rec.Status != stage.StatusOK {
			pageErrors[rec.Page] = rec.Detail
			if rec.Detail == "" {
				pageErrors[rec.Page] = string(rec.Code)
			}
		}
	}

	m := &Manifest{
		Fingerprint: fp,
		Filename:    filename,
		PageCount:   pageCount,
		CreatedAt:   time.Now().UTC(),
		Stages: map[string]int{
			o.runners.Convert.Name(): o.runners.Convert.Version(),
			o.runners.Render.Name():  o.runners.Render.Version(),
			o.runners.Extract.Name(): o.runners.Extract.Version(),
		},
	}

	pdfRef, err := o.makeRef(o.store.DerivedPath(fp, convKey, stage.PDFOutputName))
	if err != nil {
		return err
	}
	m.PDF = *pdfRef

	for page := 1; page <= pageCount; page++ {
		imgRef, err := o.makeRef(o.store.DerivedPath(fp, renderKey, stage.PageImageName(page)))
		if err != nil {
			return fmt.Errorf("page %d image missing: %w", page, err)
		}
		pa := PageArtifacts{Page: page, Image: *imgRef}
		if textRef, err := o.makeRef(o.store.DerivedPath(fp, ocrKey, stage.PageTextName(page))); err == nil {
			pa.Text = textRef
		} else {
			pa.TextError = pageErrors[page]
			if pa.TextError == "" {
				pa.TextError = "text extraction unavailable"
			}
		}
		if tsvRef, err := o.makeRef(o.store.DerivedPath(fp, ocrKey, stage.PageTSVName(page))); err == nil {
			pa.Regions = tsvRef
		}
		m.Pages = append(m.Pages, pa)
	}

	if err := saveManifest(o.store, m); err != nil {
		return err
	}
	o.recordArtifact(ctx, fp, manifestKey.Name, 0, o.store.DerivedPath(fp, manifestKey, manifestName))

	return o.reg.Update(jobID, func(j *Job) { j.succeed() })
}

// makeRef stats a stored artifact into a store-relative reference.
func (o *Orchestrator) makeRef(path string) (*ArtifactRef, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(o.store.Root(), path)
	if err != nil {
		rel = path
	}
	return &ArtifactRef{Path: filepath.ToSlash(rel), Size: st.Size()}, nil
}

// appendRecord appends a stage record to the job history.
func (o *Orchestrator) appendRecord(jobID string, rec StageRecord) {
	_ = o.reg.Update(jobID, func(j *Job) {
		j.Stages = append(j.Stages, rec)
	})
}

// recordFailure appends the failing stage record and terminates the job.
func (o *Orchestrator) recordFailure(jobID, stageName string, page int, res stage.Result, log *zap.Logger) {
	o.appendRecord(jobID, StageRecord{
		Stage:    stageName,
		Page:     page,
		Status:   res.Status,
		Code:     res.Code,
		Detail:   res.Detail,
		Duration: res.Duration,
	})
	o.failJob(jobID, stageName, page, res.Code, res.Detail)
	log.Warn("stage failed",
		zap.String("stage", stageName),
		zap.String("code", string(res.Code)),
		zap.String("status", string(res.Status)))
}

// failJob marks the job terminally failed.
func (o *Orchestrator) failJob(jobID, stageName string, page int, code stage.FailureCode, detail string) {
	_ = o.reg.Update(jobID, func(j *Job) {
		j.fail(stageName, page, code, detail)
	})
}

// recordArtifact forwards a stored artifact to the optional recorder.
func (o *Orchestrator) recordArtifact(ctx context.Context, fp, stageName string, page int, path string) {
	if o.recorder == nil {
		return
	}
	st, err := os.Stat(path)
	if err != nil {
		return
	}
	entry := ArtifactEntry{
		Fingerprint: fp,
		Stage:       stageName,
		Page:        page,
		Path:        path,
		Size:        st.Size(),
	}
	if err := o.recorder.Record(ctx, entry); err != nil {
		o.logger.Debug("artifact index record failed",
			zap.String("path", path),
			zap.Error(err))
	}
}
