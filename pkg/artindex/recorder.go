package artindex

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/3leaps/drawmill/pkg/pipeline"
)

// Recorder adapts the index to the pipeline's artifact recording hook.
type Recorder struct {
	db *sql.DB
}

var _ pipeline.Recorder = (*Recorder)(nil)

// NewRecorder wraps an open, migrated index database.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) Record(ctx context.Context, entry pipeline.ArtifactEntry) error {
	return UpsertArtifact(ctx, r.db, ArtifactRow{
		Fingerprint: entry.Fingerprint,
		Stage:       entry.Stage,
		Page:        entry.Page,
		Name:        filepath.Base(entry.Path),
		Path:        entry.Path,
		SizeBytes:   entry.Size,
		RecordedAt:  time.Now().UTC(),
	})
}
