package artindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"
)

// StageStats aggregates the rows belonging to one stage.
type StageStats struct {
	Stage      string
	Artifacts  int64
	TotalBytes int64
}

// Summary provides aggregate statistics across the whole index.
type Summary struct {
	Documents  int64
	Artifacts  int64
	TotalBytes int64
	Stages     []StageStats
}

// GetSummary retrieves aggregate statistics for the artifact index.
func GetSummary(ctx context.Context, db *sql.DB) (*Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	summary := &Summary{}
	err := db.QueryRowContext(ctx,
		`SELECT
			COUNT(DISTINCT fingerprint) as documents,
			COUNT(*) as artifacts,
			COALESCE(SUM(size_bytes), 0) as total_size
		 FROM artifacts`).Scan(
		&summary.Documents, &summary.Artifacts, &summary.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("get index totals: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT stage, COUNT(*), COALESCE(SUM(size_bytes), 0)
		 FROM artifacts
		 GROUP BY stage
		 ORDER BY stage`)
	if err != nil {
		return nil, fmt.Errorf("get stage stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ss StageStats
		if err := rows.Scan(&ss.Stage, &ss.Artifacts, &ss.TotalBytes); err != nil {
			return nil, fmt.Errorf("scan stage stats: %w", err)
		}
		summary.Stages = append(summary.Stages, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage stats: %w", err)
	}

	return summary, nil
}

// SweepParams specifies parameters for an index sweep.
type SweepParams struct {
	// MaxAge removes rows recorded more than this long ago whose files no
	// longer exist. Zero sweeps missing files of any age.
	MaxAge time.Duration

	// DryRun reports what would be removed without removing it.
	DryRun bool
}

// SweepResult contains the results of a sweep.
type SweepResult struct {
	// RowsRemoved is the count of index rows deleted.
	RowsRemoved int64

	// Stale lists the rows whose backing files were missing.
	Stale []ArtifactRow
}

// Sweep removes index rows whose backing files have been deleted from the
// store. The filesystem is authoritative: a row without a file is stale
// bookkeeping, never the other way around.
func Sweep(ctx context.Context, db *sql.DB, params SweepParams) (*SweepResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cutoff := time.Time{}
	if params.MaxAge > 0 {
		cutoff = time.Now().UTC().Add(-params.MaxAge)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT fingerprint, stage, page, name, path, size_bytes, recorded_at
		 FROM artifacts
		 ORDER BY recorded_at`)
	if err != nil {
		return nil, fmt.Errorf("list for sweep: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := &SweepResult{}
	for rows.Next() {
		var row ArtifactRow
		var recordedAt string
		if err := rows.Scan(&row.Fingerprint, &row.Stage, &row.Page, &row.Name,
			&row.Path, &row.SizeBytes, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan for sweep: %w", err)
		}
		row.RecordedAt, err = parseDBTime(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}

		if params.MaxAge > 0 && row.RecordedAt.After(cutoff) {
			continue
		}
		if _, err := os.Stat(row.Path); err == nil {
			continue
		}
		result.Stale = append(result.Stale, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate for sweep: %w", err)
	}

	if params.DryRun {
		result.RowsRemoved = int64(len(result.Stale))
		return result, nil
	}

	for _, row := range result.Stale {
		res, err := db.ExecContext(ctx,
			`DELETE FROM artifacts
			 WHERE fingerprint = ? AND stage = ? AND page = ? AND name = ?`,
			row.Fingerprint, row.Stage, row.Page, row.Name)
		if err != nil {
			return result, fmt.Errorf("delete stale row %s: %w", row.Name, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			result.RowsRemoved += n
		}
	}

	return result, nil
}
