package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/drawmill/pkg/pipeline"
)

// Pipeline is the subset of the orchestrator the runner needs.
type Pipeline interface {
	Submit(ctx context.Context, data []byte, filename string) (string, error)
	Status(jobID string) (*pipeline.Job, error)
}

// Submission records one accepted document.
type Submission struct {
	Path  string `json:"path"`
	JobID string `json:"job_id"`
}

// Failure records one rejected or failed document.
type Failure struct {
	Path  string `json:"path"`
	JobID string `json:"job_id,omitempty"`
	Err   string `json:"error"`
}

// Result summarizes one batch run.
type Result struct {
	Submitted []Submission `json:"submitted"`
	Failures  []Failure    `json:"failures,omitempty"`
}

// Runner submits a batch manifest's documents to the pipeline.
type Runner struct {
	pipe   Pipeline
	logger *zap.Logger

	// pollInterval controls terminal-status polling when submit.wait is
	// set. Tests shorten it.
	pollInterval time.Duration
}

func NewRunner(pipe Pipeline, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{pipe: pipe, logger: logger, pollInterval: 250 * time.Millisecond}
}

// Run expands the manifest's patterns and submits every matched document.
//
// With submit.continue_on_error (the default) a rejected document is
// recorded and the batch proceeds; otherwise the first rejection aborts the
// run. With submit.wait the call blocks until every accepted job reaches a
// terminal status, and failed jobs are moved to Failures.
func (r *Runner) Run(ctx context.Context, m *Manifest, manifestDir string) (*Result, error) {
	paths, err := Expand(m, manifestDir)
	if err != nil {
		return nil, err
	}
	r.logger.Info("batch expanded", zap.Int("documents", len(paths)))

	result := &Result{}
	for _, path := range paths {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		data, err := os.ReadFile(path)
		if err == nil {
			var jobID string
			jobID, err = r.pipe.Submit(ctx, data, filepath.Base(path))
			if err == nil {
				result.Submitted = append(result.Submitted, Submission{Path: path, JobID: jobID})
				r.logger.Debug("submitted", zap.String("path", path), zap.String("job_id", jobID))
				continue
			}
		}

		result.Failures = append(result.Failures, Failure{Path: path, Err: err.Error()})
		r.logger.Warn("submission failed", zap.String("path", path), zap.Error(err))
		if !m.Submit.ContinueOnErrorEnabled() {
			return result, fmt.Errorf("submit %s: %w", path, err)
		}
	}

	if m.Submit.Wait {
		if err := r.wait(ctx, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

// wait blocks until every submitted job is terminal, demoting failed jobs
// to Failures.
func (r *Runner) wait(ctx context.Context, result *Result) error {
	pending := result.Submitted
	result.Submitted = nil

	for _, sub := range pending {
		for {
			job, err := r.pipe.Status(sub.JobID)
			if err != nil {
				result.Failures = append(result.Failures, Failure{Path: sub.Path, JobID: sub.JobID, Err: err.Error()})
				break
			}
			if job.Status.Terminal() {
				if job.Status == pipeline.JobSucceeded {
					result.Submitted = append(result.Submitted, sub)
				} else {
					result.Failures = append(result.Failures, Failure{
						Path:  sub.Path,
						JobID: sub.JobID,
						Err:   job.FailureDetail,
					})
				}
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.pollInterval):
			}
		}
	}
	return nil
}
