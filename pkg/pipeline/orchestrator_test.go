package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/drawmill/pkg/stage"
	"github.com/3leaps/drawmill/pkg/store"
)

// scriptExtract writes <image-base>.txt for whatever page image it is
// handed, the way Tesseract names its outputs.
func scriptExtract() stage.ScriptFunc {
	return func(_ context.Context, inputPath, workDir string) stage.Result {
		base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		return stage.ScriptOK(base + ".txt")(context.Background(), inputPath, workDir)
	}
}

// scriptExtractFailPage fails one page and extracts the rest.
func scriptExtractFailPage(failPage int) stage.ScriptFunc {
	failName := stage.PageImageName(failPage)
	return func(ctx context.Context, inputPath, workDir string) stage.Result {
		if filepath.Base(inputPath) == failName {
			return stage.ScriptFail(stage.FailConversion, "simulated tool crash")(ctx, inputPath, workDir)
		}
		return scriptExtract()(ctx, inputPath, workDir)
	}
}

type testRig struct {
	orch    *Orchestrator
	store   *store.Store
	convert *stage.ScriptedRunner
	render  *stage.ScriptedRunner
	extract *stage.ScriptedRunner
}

func pageImages(n int) []string {
	names := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		names = append(names, stage.PageImageName(i))
	}
	return names
}

func newRig(t *testing.T, cfg Config, runners Runners) *testRig {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	reg, err := OpenRegistry(t.TempDir())
	require.NoError(t, err)

	if runners.Convert == nil {
		runners.Convert = stage.NewScriptedRunner("doc_to_pdf", 1, stage.ScriptOK(stage.PDFOutputName))
	}
	if runners.Render == nil {
		runners.Render = stage.NewScriptedRunner("pdf_to_image", 1, stage.ScriptOK(pageImages(3)...))
	}
	if runners.Extract == nil {
		runners.Extract = stage.NewScriptedRunner("image_to_text", 1, scriptExtract())
	}
	cfg.WorkRoot = t.TempDir()

	o := New(s, reg, runners, cfg, zap.NewNop())
	rig := &testRig{orch: o, store: s}
	rig.convert, _ = runners.Convert.(*stage.ScriptedRunner)
	rig.render, _ = runners.Render.(*stage.ScriptedRunner)
	rig.extract, _ = runners.Extract.(*stage.ScriptedRunner)
	return rig
}

func (r *testRig) start(t *testing.T) {
	t.Helper()
	r.orch.Start(context.Background())
	t.Cleanup(r.orch.Stop)
}

func (r *testRig) await(t *testing.T, jobID string) *Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := r.orch.Status(jobID)
		require.NoError(t, err)
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status", jobID)
	return nil
}

func TestPipelineSuccessThreePages(t *testing.T) {
	rig := newRig(t, Config{}, Runners{})
	rig.start(t)

	jobID, err := rig.orch.Submit(context.Background(), []byte("a three page conops"), "conops.docx")
	require.NoError(t, err)

	job := rig.await(t, jobID)
	require.Equal(t, JobSucceeded, job.Status)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.EndedAt)

	m, err := rig.orch.Result(jobID)
	require.NoError(t, err)
	assert.Equal(t, 3, m.PageCount)
	assert.NotEmpty(t, m.PDF.Path)
	require.Len(t, m.Pages, 3)
	for i, pa := range m.Pages {
		assert.Equal(t, i+1, pa.Page)
		assert.NotEmpty(t, pa.Image.Path)
		require.NotNil(t, pa.Text, "page %d text", i+1)
		assert.NotEmpty(t, pa.Text.Path)
	}

	assert.Equal(t, int64(1), rig.convert.Invocations())
	assert.Equal(t, int64(1), rig.render.Invocations())
	assert.Equal(t, int64(3), rig.extract.Invocations())
}

func TestResubmissionHitsPipelineCache(t *testing.T) {
	rig := newRig(t, Config{}, Runners{})
	rig.start(t)

	payload := []byte("identical document bytes")
	first, err := rig.orch.Submit(context.Background(), payload, "a.docx")
	require.NoError(t, err)
	rig.await(t, first)

	second, err := rig.orch.Submit(context.Background(), payload, "b.docx")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// The second job is terminal at submission: no queue trip, no
	// external-process invocations.
	job, err := rig.orch.Status(second)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, job.Status)

	m1, err := rig.orch.Result(first)
	require.NoError(t, err)
	m2, err := rig.orch.Result(second)
	require.NoError(t, err)
	assert.Equal(t, m1.PDF.Path, m2.PDF.Path)
	for i := range m1.Pages {
		assert.Equal(t, m1.Pages[i].Image.Path, m2.Pages[i].Image.Path)
		assert.Equal(t, m1.Pages[i].Text.Path, m2.Pages[i].Text.Path)
	}

	assert.Equal(t, int64(1), rig.convert.Invocations())
	assert.Equal(t, int64(1), rig.render.Invocations())
	assert.Equal(t, int64(3), rig.extract.Invocations())
}

func TestUnsupportedFormatFailsJob(t *testing.T) {
	rig := newRig(t, Config{}, Runners{
		Convert: stage.NewScriptedRunner("doc_to_pdf", 1,
			stage.ScriptFail(stage.FailUnsupportedFormat, `unrecognized input format ".xyz"`)),
	})
	rig.start(t)

	jobID, err := rig.orch.Submit(context.Background(), []byte("???"), "mystery.xyz")
	require.NoError(t, err)

	job := rig.await(t, jobID)
	require.Equal(t, JobFailed, job.Status)
	assert.Equal(t, stage.FailUnsupportedFormat, job.FailureCode)
	assert.Equal(t, "doc_to_pdf", job.FailureStage)

	_, err = rig.orch.Result(jobID)
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, stage.FailUnsupportedFormat, failed.Code)
	assert.Contains(t, failed.Detail, ".xyz")
}

func TestStageTimeoutFailsJob(t *testing.T) {
	rig := newRig(t, Config{}, Runners{
		Render: stage.NewScriptedRunner("pdf_to_image", 1,
			stage.ScriptFail(stage.FailTimeout, "wall-clock timeout exceeded")),
	})
	rig.start(t)

	jobID, err := rig.orch.Submit(context.Background(), []byte("slow render"), "slow.docx")
	require.NoError(t, err)

	job := rig.await(t, jobID)
	require.Equal(t, JobFailed, job.Status)
	assert.Equal(t, stage.FailTimeout, job.FailureCode)
	assert.Equal(t, "pdf_to_image", job.FailureStage)

	// The failing stage's record carries the timeout status.
	var found bool
	for _, rec := range job.Stages {
		if rec.Stage == "pdf_to_image" {
			assert.Equal(t, stage.StatusTimeout, rec.Status)
			found = true
		}
	}
	assert.True(t, found)
}

func TestPageFailureIsIsolated(t *testing.T) {
	rig := newRig(t, Config{}, Runners{
		Extract: stage.NewScriptedRunner("image_to_text", 1, scriptExtractFailPage(2)),
	})
	rig.start(t)

	jobID, err := rig.orch.Submit(context.Background(), []byte("page two crashes"), "c.docx")
	require.NoError(t, err)

	job := rig.await(t, jobID)
	require.Equal(t, JobSucceeded, job.Status)

	m, err := rig.orch.Result(jobID)
	require.NoError(t, err)
	require.Len(t, m.Pages, 3)

	assert.NotNil(t, m.Pages[0].Text)
	assert.Nil(t, m.Pages[1].Text)
	assert.Contains(t, m.Pages[1].TextError, "simulated tool crash")
	assert.NotNil(t, m.Pages[2].Text)

	// All three page images are still delivered.
	for _, pa := range m.Pages {
		assert.NotEmpty(t, pa.Image.Path)
	}
}

func TestConcurrentIdenticalSubmissionsConvertOnce(t *testing.T) {
	rig := newRig(t, Config{Workers: 1}, Runners{})
	rig.start(t)

	payload := []byte("same bytes submitted five times")
	ids := make([]string, 5)
	for i := range ids {
		id, err := rig.orch.Submit(context.Background(), payload, fmt.Sprintf("copy-%d.docx", i))
		require.NoError(t, err)
		ids[i] = id
	}

	for _, id := range ids {
		job := rig.await(t, id)
		assert.Equal(t, JobSucceeded, job.Status)
	}

	// Global serialization plus cache-check-before-run: one converter
	// execution total.
	assert.Equal(t, int64(1), rig.convert.Invocations())
	assert.Equal(t, int64(1), rig.render.Invocations())
}

func TestResumeSkipsCachedStages(t *testing.T) {
	// Conversion and rendering would fail loudly if invoked; their
	// outputs are pre-seeded as if a prior run crashed before OCR.
	rig := newRig(t, Config{}, Runners{
		Convert: stage.NewScriptedRunner("doc_to_pdf", 1,
			stage.ScriptFail(stage.FailConversion, "converter must not run")),
		Render: stage.NewScriptedRunner("pdf_to_image", 1,
			stage.ScriptFail(stage.FailConversion, "renderer must not run")),
	})

	payload := []byte("crashed halfway through")
	fp := store.Fingerprint(payload)
	convKey := store.StageKey{Name: "doc_to_pdf", Version: 1}
	renderKey := store.StageKey{Name: "pdf_to_image", Version: 1}

	_, err := rig.store.PutDerived(fp, convKey, stage.PDFOutputName, []byte("%PDF"))
	require.NoError(t, err)
	for i := 1; i <= 2; i++ {
		_, err = rig.store.PutDerived(fp, renderKey, stage.PageImageName(i), []byte("png"))
		require.NoError(t, err)
	}
	_, err = rig.store.PutDerivedJSON(fp, renderKey, "pages.json", pagesProbe{PageCount: 2})
	require.NoError(t, err)

	rig.start(t)
	jobID, err := rig.orch.Submit(context.Background(), payload, "resume.docx")
	require.NoError(t, err)

	job := rig.await(t, jobID)
	require.Equal(t, JobSucceeded, job.Status)

	assert.Equal(t, int64(0), rig.convert.Invocations())
	assert.Equal(t, int64(0), rig.render.Invocations())
	assert.Equal(t, int64(2), rig.extract.Invocations())

	m, err := rig.orch.Result(jobID)
	require.NoError(t, err)
	assert.Equal(t, 2, m.PageCount)
}

func TestCancelQueuedJob(t *testing.T) {
	// No workers started: the job stays queued.
	rig := newRig(t, Config{}, Runners{})

	jobID, err := rig.orch.Submit(context.Background(), []byte("never runs"), "q.docx")
	require.NoError(t, err)

	require.NoError(t, rig.orch.Cancel(jobID))

	job, err := rig.orch.Status(jobID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, stage.FailCancelled, job.FailureCode)

	// Cancelling a terminal job is a no-op.
	require.NoError(t, rig.orch.Cancel(jobID))
}

func TestCancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	blocking := stage.NewScriptedRunner("doc_to_pdf", 1,
		func(ctx context.Context, _ string, _ string) stage.Result {
			close(started)
			<-ctx.Done()
			return stage.Result{Status: stage.StatusFailed, Code: stage.FailCancelled, Detail: "invocation cancelled"}
		})
	rig := newRig(t, Config{}, Runners{Convert: blocking})
	rig.start(t)

	jobID, err := rig.orch.Submit(context.Background(), []byte("long conversion"), "r.docx")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("conversion never started")
	}
	require.NoError(t, rig.orch.Cancel(jobID))

	job := rig.await(t, jobID)
	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, stage.FailCancelled, job.FailureCode)
}

func TestSubmitRejectsOversizedDocument(t *testing.T) {
	rig := newRig(t, Config{MaxUploadBytes: 8}, Runners{})

	_, err := rig.orch.Submit(context.Background(), []byte("way more than eight bytes"), "big.docx")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSubmitReturnsBusyWhenQueueFull(t *testing.T) {
	// Depth-1 queue, no workers draining it.
	rig := newRig(t, Config{QueueDepth: 1}, Runners{})

	_, err := rig.orch.Submit(context.Background(), []byte("first"), "1.docx")
	require.NoError(t, err)

	_, err = rig.orch.Submit(context.Background(), []byte("second"), "2.docx")
	assert.ErrorIs(t, err, ErrBusy)

	// The backed-out submission leaves no registry residue.
	assert.Len(t, rig.orch.reg.List(), 1)
}

func TestStatusAndResultUnknownJob(t *testing.T) {
	rig := newRig(t, Config{}, Runners{})

	_, err := rig.orch.Status("no-such-job")
	assert.True(t, IsNotFound(err))
	_, err = rig.orch.Result("no-such-job")
	assert.True(t, IsNotFound(err))
}

func TestResultPendingBeforeCompletion(t *testing.T) {
	rig := newRig(t, Config{}, Runners{}) // workers never started

	jobID, err := rig.orch.Submit(context.Background(), []byte("still queued"), "p.docx")
	require.NoError(t, err)

	_, err = rig.orch.Result(jobID)
	assert.True(t, IsPending(err))
}

func TestRebuildRegistryFromArtifacts(t *testing.T) {
	rig := newRig(t, Config{}, Runners{})
	rig.start(t)

	jobID, err := rig.orch.Submit(context.Background(), []byte("rebuild me"), "x.docx")
	require.NoError(t, err)
	job := rig.await(t, jobID)
	require.Equal(t, JobSucceeded, job.Status)

	// Fresh registry over an empty root, same artifact store.
	reg2, err := OpenRegistry(t.TempDir())
	require.NoError(t, err)
	o2 := New(rig.store, reg2, Runners{
		Convert: stage.NewScriptedRunner("doc_to_pdf", 1, stage.ScriptOK(stage.PDFOutputName)),
		Render:  stage.NewScriptedRunner("pdf_to_image", 1, stage.ScriptOK(pageImages(3)...)),
		Extract: stage.NewScriptedRunner("image_to_text", 1, scriptExtract()),
	}, Config{WorkRoot: t.TempDir()}, zap.NewNop())

	created, err := o2.RebuildRegistry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	jobs := reg2.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, JobSucceeded, jobs[0].Status)
	assert.Equal(t, job.Fingerprint, jobs[0].Fingerprint)

	// Rebuilding again is a no-op.
	created, err = o2.RebuildRegistry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}
