// Package file implements the mirror backend for local or mounted
// filesystem destinations.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/drawmill/pkg/mirror"
)

// Backend implements mirror.Backend for local filesystem paths.
//
// Keys are treated as relative paths under BaseDir.
type Backend struct {
	baseDir string
}

var _ mirror.Backend = (*Backend)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Backend{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (b *Backend) Close() error { return nil }

func (b *Backend) Head(ctx context.Context, key string) (*mirror.ObjectInfo, error) {
	_ = ctx
	full, err := b.fullPath(key)
	if err != nil {
		return nil, b.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &mirror.MirrorError{Op: "Head", Backend: mirror.BackendFile, Key: key, Err: mirror.ErrNotFound}
		}
		return nil, b.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, &mirror.MirrorError{Op: "Head", Backend: mirror.BackendFile, Key: key, Err: mirror.ErrNotFound}
	}

	return &mirror.ObjectInfo{
		Key:          strings.TrimPrefix(key, "/"),
		Size:         st.Size(),
		LastModified: st.ModTime(),
	}, nil
}

func (b *Backend) Put(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_ = ctx
	_ = contentLength
	full, err := b.fullPath(key)
	if err != nil {
		return b.wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return b.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "drawmill-put-*")
	if err != nil {
		return b.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return b.wrapError("Put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return b.wrapError("Put", key, err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		return b.wrapError("Put", key, err)
	}
	return nil
}

func (b *Backend) fullPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	// A key must already be a clean relative path. Anything Clean would
	// rewrite (`..` segments, `.`, doubled separators) is rejected rather
	// than remapped under the base dir.
	clean := filepath.ToSlash(filepath.Clean(key))
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(clean)), nil
}

func (b *Backend) wrapError(op, key string, err error) error {
	wrapped := &mirror.MirrorError{Op: op, Backend: mirror.BackendFile, Key: key, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to mirror sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = mirror.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = mirror.ErrAccessDenied
	}
	return wrapped
}
