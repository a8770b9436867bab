package mirror

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/drawmill/pkg/store"
)

// Result summarizes one Sync run.
type Result struct {
	// Uploaded is the count of objects pushed to the destination.
	Uploaded int

	// Skipped is the count of objects already present with matching size.
	Skipped int

	// Bytes is the total size of uploaded objects.
	Bytes int64
}

// Syncer replicates a document's stored files to a mirror backend.
//
// Keys at the destination are the store-relative paths, so a mirrored tree
// has the same layout as the local store and can seed a replacement store
// directly.
type Syncer struct {
	store   *store.Store
	backend Backend
	logger  *zap.Logger
}

func NewSyncer(s *store.Store, b Backend, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{store: s, backend: b, logger: logger}
}

// Sync pushes the source document and every derived artifact for the given
// fingerprint. Objects already present at the destination with a matching
// size are skipped, so re-running after a partial failure only uploads the
// remainder.
func (sy *Syncer) Sync(ctx context.Context, fp string) (*Result, error) {
	result := &Result{}

	if err := sy.syncFile(ctx, sy.store.SourcePath(fp), result); err != nil {
		return result, err
	}

	artifactDir := sy.store.ArtifactDir(fp)
	if _, err := os.Stat(artifactDir); os.IsNotExist(err) {
		return result, nil
	}

	err := filepath.WalkDir(artifactDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".lock") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return sy.syncFile(ctx, path, result)
	})
	if err != nil {
		return result, err
	}

	sy.logger.Info("mirror sync complete",
		zap.String("fingerprint", fp),
		zap.Int("uploaded", result.Uploaded),
		zap.Int("skipped", result.Skipped),
		zap.Int64("bytes", result.Bytes))
	return result, nil
}

func (sy *Syncer) syncFile(ctx context.Context, path string, result *Result) error {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	key, err := sy.key(path)
	if err != nil {
		return err
	}

	info, err := sy.backend.Head(ctx, key)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if info != nil && info.Size == st.Size() {
		result.Skipped++
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := sy.backend.Put(ctx, key, f, st.Size()); err != nil {
		return err
	}
	result.Uploaded++
	result.Bytes += st.Size()
	sy.logger.Debug("mirrored object", zap.String("key", key), zap.Int64("size", st.Size()))
	return nil
}

// key converts a store path to a destination key: the store-relative path
// with forward slashes.
func (sy *Syncer) key(path string) (string, error) {
	rel, err := filepath.Rel(sy.store.Root(), path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
