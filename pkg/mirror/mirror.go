// Package mirror defines abstractions for replicating stored artifacts to a
// secondary location.
//
// Backends implement a minimal put/head surface. Authentication uses SDK
// default credential chains - backends should not implement custom auth
// logic.
package mirror

import (
	"context"
	"io"
	"time"
)

// Backend abstracts a mirror destination.
//
// Implementations should:
//   - Use SDK default credential chains where applicable
//   - Be safe for concurrent use
type Backend interface {
	// Put uploads an object under the given key.
	Put(ctx context.Context, key string, body io.Reader, contentLength int64) error

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Close releases any resources held by the backend.
	Close() error
}

// ObjectInfo contains metadata for a mirrored object.
type ObjectInfo struct {
	// Key is the full object key (path) at the destination.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag, when the destination provides one.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}

// BackendType identifies a mirror destination kind.
type BackendType string

const (
	// BackendS3 represents AWS S3 or S3-compatible storage.
	BackendS3 BackendType = "s3"

	// BackendFile represents a local or mounted filesystem path.
	BackendFile BackendType = "file"
)

// String returns the string representation of the backend type.
func (b BackendType) String() string {
	return string(b)
}
