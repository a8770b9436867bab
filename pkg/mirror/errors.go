package mirror

import (
	"errors"
	"fmt"
)

// Sentinel errors for mirror operations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the destination bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the destination service is unavailable.
	ErrUnavailable = errors.New("destination unavailable")

	// ErrThrottled indicates the request was rate limited by the destination.
	ErrThrottled = errors.New("request throttled")
)

// MirrorError wraps backend-specific errors with context.
type MirrorError struct {
	// Op is the operation that failed (e.g., "Put", "Head").
	Op string

	// Backend is the backend type (e.g., "s3").
	Backend BackendType

	// Key is the object key, if applicable.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *MirrorError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *MirrorError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
