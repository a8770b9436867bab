package pipeline

import (
	"errors"
	"fmt"

	"github.com/3leaps/drawmill/pkg/stage"
)

// Sentinel errors for pipeline operations.
var (
	// ErrNotFound indicates an unknown job identifier.
	ErrNotFound = errors.New("job not found")

	// ErrPending indicates the job has not reached a terminal status;
	// callers should retry later.
	ErrPending = errors.New("job still pending")

	// ErrBusy indicates the submission queue is full.
	ErrBusy = errors.New("pipeline queue is full")

	// ErrTooLarge indicates the submitted document exceeds the upload limit.
	ErrTooLarge = errors.New("document exceeds maximum upload size")
)

// FailedError reports a terminal job failure: the first failing stage and
// the external tool's captured diagnostic output.
type FailedError struct {
	Stage  string
	Page   int // 0 for whole-document stages
	Code   stage.FailureCode
	Detail string
}

// Error implements the error interface.
func (e *FailedError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("job failed at stage %s page %d (%s): %s", e.Stage, e.Page, e.Code, e.Detail)
	}
	return fmt.Sprintf("job failed at stage %s (%s): %s", e.Stage, e.Code, e.Detail)
}

// IsNotFound returns true if the error indicates an unknown job.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPending returns true if the error indicates a non-terminal job.
func IsPending(err error) bool {
	return errors.Is(err, ErrPending)
}
