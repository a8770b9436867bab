package pipeline

import (
	"time"

	"github.com/3leaps/drawmill/pkg/stage"
)

// JobStatus is the lifecycle status of a pipeline job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// StageRecord is the persisted outcome of one stage invocation for one job.
// Records are append-only; page-level stages produce one record per page.
type StageRecord struct {
	// Stage is the stage name (doc_to_pdf, pdf_to_image, image_to_text).
	Stage string `json:"stage"`

	// Page is the 1-based page number for page-level stages, 0 otherwise.
	Page int `json:"page,omitempty"`

	// Status is ok, failed, or timeout.
	Status stage.Status `json:"status"`

	// Code narrows failed results.
	Code stage.FailureCode `json:"code,omitempty"`

	// Artifact is the stored output path, when the stage produced one.
	Artifact string `json:"artifact,omitempty"`

	// Detail carries diagnostic output on failure, or "cached" when the
	// stage was skipped because its output was already stored.
	Detail string `json:"detail,omitempty"`

	// Duration is the invocation wall-clock time.
	Duration time.Duration `json:"duration"`
}

// Job is one pipeline execution for a document, tracked from submission to
// terminal status. Mutated only by the orchestrator; callers only ever see
// snapshots.
type Job struct {
	ID          string    `json:"job_id"`
	Fingerprint string    `json:"fingerprint"`
	Filename    string    `json:"filename,omitempty"`
	Status      JobStatus `json:"status"`

	// CurrentStage is the stage in flight while Status is running.
	CurrentStage string `json:"current_stage,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Stages is the append-only per-stage result history.
	Stages []StageRecord `json:"stages,omitempty"`

	// Failure fields are set iff Status is failed.
	FailureStage  string            `json:"failure_stage,omitempty"`
	FailurePage   int               `json:"failure_page,omitempty"`
	FailureCode   stage.FailureCode `json:"failure_code,omitempty"`
	FailureDetail string            `json:"failure_detail,omitempty"`
}

// clone returns a deep copy safe to hand outside the registry lock.
func (j *Job) clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		cp.EndedAt = &t
	}
	cp.Stages = make([]StageRecord, len(j.Stages))
	copy(cp.Stages, j.Stages)
	return &cp
}

// fail marks the job failed with the first failing stage's identity.
func (j *Job) fail(stageName string, page int, code stage.FailureCode, detail string) {
	now := time.Now().UTC()
	j.Status = JobFailed
	j.CurrentStage = ""
	j.EndedAt = &now
	j.FailureStage = stageName
	j.FailurePage = page
	j.FailureCode = code
	j.FailureDetail = detail
}

// succeed marks the job completed.
func (j *Job) succeed() {
	now := time.Now().UTC()
	j.Status = JobSucceeded
	j.CurrentStage = ""
	j.EndedAt = &now
}
