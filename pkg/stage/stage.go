// Package stage defines the uniform contract wrapped around each external
// conversion tool, plus the three concrete runners used by the pipeline:
// LibreOffice (document to PDF), Poppler pdftoppm (PDF to page images), and
// Tesseract (page image to text).
//
// Each runner wraps exactly one external process invocation. Arguments are
// always passed as a discrete vector; uploaded filenames or content are
// never interpolated into a shell-interpreted command line. Runners never
// retry; retry policy, if any, belongs to the orchestrator.
package stage

import (
	"context"
	"time"
)

// Status classifies the outcome of one stage invocation.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// FailureCode narrows a failed result for the error taxonomy.
type FailureCode string

const (
	// FailUnsupportedFormat means stage 1 cannot recognize the input.
	FailUnsupportedFormat FailureCode = "unsupported_format"

	// FailConversion means the external process exited abnormally.
	FailConversion FailureCode = "conversion_failed"

	// FailTimeout means the wall-clock budget was exceeded.
	FailTimeout FailureCode = "stage_timeout"

	// FailCorruptOutput means the process produced no output, or an
	// unreadable one, where one was expected.
	FailCorruptOutput FailureCode = "corrupt_output"

	// FailCancelled means the invocation was cancelled by the caller.
	FailCancelled FailureCode = "cancelled"
)

// Result is the outcome of one stage invocation.
//
// Result is immutable once returned; the orchestrator appends it to the
// job's stage history as-is.
type Result struct {
	// Stage is the runner name that produced this result.
	Stage string `json:"stage"`

	// Status is ok, failed, or timeout.
	Status Status `json:"status"`

	// Code narrows failed results. Empty when Status is ok.
	Code FailureCode `json:"code,omitempty"`

	// Outputs are the produced file paths inside the scratch directory,
	// in deterministic order. Empty unless Status is ok.
	Outputs []string `json:"outputs,omitempty"`

	// Detail carries the external tool's captured diagnostic output on
	// failure. Never a stack trace.
	Detail string `json:"detail,omitempty"`

	// Duration is the wall-clock time of the invocation.
	Duration time.Duration `json:"duration"`
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Runner wraps one external converter behind a uniform contract.
//
// Run invokes the tool on inputPath with workDir as a scratch directory the
// runner may freely populate. The caller owns workDir cleanup. timeout is a
// hard wall-clock budget; on expiry the process is forcibly terminated and
// the result is classified as timeout.
type Runner interface {
	// Name is the stable stage identity used in artifact paths and
	// job status reporting.
	Name() string

	// Version participates in derived-artifact cache keys. Bump it when
	// the invocation template or output contract changes.
	Version() int

	// Run executes the stage. Errors are reported through the Result
	// classification, not a Go error; Run only observes ctx for
	// cancellation.
	Run(ctx context.Context, inputPath, workDir string, timeout time.Duration) Result
}

// failure builds a failed Result with uniform fields.
func failure(name string, code FailureCode, detail string, d time.Duration) Result {
	status := StatusFailed
	if code == FailTimeout {
		status = StatusTimeout
	}
	return Result{
		Stage:    name,
		Status:   status,
		Code:     code,
		Detail:   detail,
		Duration: d,
	}
}
