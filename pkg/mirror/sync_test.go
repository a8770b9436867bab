package mirror_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/drawmill/pkg/mirror"
	mirrorfile "github.com/3leaps/drawmill/pkg/mirror/file"
	"github.com/3leaps/drawmill/pkg/store"
)

func seedStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)

	fp, err := s.Put([]byte("a source document"), store.KindSource)
	require.NoError(t, err)

	convKey := store.StageKey{Name: "doc_to_pdf", Version: 1}
	renderKey := store.StageKey{Name: "pdf_to_image", Version: 1}
	_, err = s.PutDerived(fp, convKey, "document.pdf", []byte("%PDF"))
	require.NoError(t, err)
	_, err = s.PutDerived(fp, renderKey, "page-0001.png", []byte("png bytes"))
	require.NoError(t, err)

	return s, fp
}

func TestSyncUploadsSourceAndArtifacts(t *testing.T) {
	s, fp := seedStore(t)

	dest := t.TempDir()
	backend, err := mirrorfile.New(mirrorfile.Config{BaseDir: dest})
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()

	sy := mirror.NewSyncer(s, backend, zap.NewNop())
	result, err := sy.Sync(context.Background(), fp)
	require.NoError(t, err)

	// Source + PDF + one page image.
	assert.Equal(t, 3, result.Uploaded)
	assert.Equal(t, 0, result.Skipped)
	assert.Positive(t, result.Bytes)

	// The mirrored tree has the same layout as the local store.
	shard := fp[:2]
	assert.FileExists(t, filepath.Join(dest, "sources", shard, fp))
	assert.FileExists(t, filepath.Join(dest, "artifacts", shard, fp, "doc_to_pdf@v1", "document.pdf"))
	assert.FileExists(t, filepath.Join(dest, "artifacts", shard, fp, "pdf_to_image@v1", "page-0001.png"))
}

func TestSyncIsIncremental(t *testing.T) {
	s, fp := seedStore(t)

	dest := t.TempDir()
	backend, err := mirrorfile.New(mirrorfile.Config{BaseDir: dest})
	require.NoError(t, err)

	sy := mirror.NewSyncer(s, backend, zap.NewNop())
	_, err = sy.Sync(context.Background(), fp)
	require.NoError(t, err)

	// Second run uploads nothing.
	result, err := sy.Sync(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Uploaded)
	assert.Equal(t, 3, result.Skipped)

	// A new artifact appears; only it is uploaded.
	ocrKey := store.StageKey{Name: "image_to_text", Version: 1}
	_, err = s.PutDerived(fp, ocrKey, "page-0001.txt", []byte("extracted text"))
	require.NoError(t, err)

	result, err = sy.Sync(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 3, result.Skipped)
}

func TestSyncSkipsLockFiles(t *testing.T) {
	s, fp := seedStore(t)

	// A leftover lock from a crashed writer must not be mirrored.
	lockPath := filepath.Join(s.ArtifactDir(fp), "doc_to_pdf@v1", "document.pdf.lock")
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))

	dest := t.TempDir()
	backend, err := mirrorfile.New(mirrorfile.Config{BaseDir: dest})
	require.NoError(t, err)

	sy := mirror.NewSyncer(s, backend, zap.NewNop())
	result, err := sy.Sync(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Uploaded)

	shard := fp[:2]
	assert.NoFileExists(t, filepath.Join(dest, "artifacts", shard, fp, "doc_to_pdf@v1", "document.pdf.lock"))
}

func TestSyncUnknownFingerprint(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)

	backend, err := mirrorfile.New(mirrorfile.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	sy := mirror.NewSyncer(s, backend, zap.NewNop())
	result, err := sy.Sync(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Uploaded)
}
