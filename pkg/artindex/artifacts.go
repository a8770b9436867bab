package artindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ArtifactRow represents a row in the artifacts table.
type ArtifactRow struct {
	Fingerprint string
	Stage       string
	Page        int
	Name        string
	Path        string
	SizeBytes   int64
	RecordedAt  time.Time
}

// UpsertArtifact inserts or updates an artifact row.
//
// Stages are deterministic, so a re-run of a cached stage overwrites the
// row in place rather than accumulating duplicates.
func UpsertArtifact(ctx context.Context, db *sql.DB, row ArtifactRow) error {
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO artifacts
		 (fingerprint, stage, page, name, path, size_bytes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint, stage, page, name) DO UPDATE SET
		   path = excluded.path,
		   size_bytes = excluded.size_bytes,
		   recorded_at = excluded.recorded_at`,
		row.Fingerprint, row.Stage, row.Page, row.Name,
		row.Path, row.SizeBytes, row.RecordedAt.UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("upsert artifact: %w", err)
	}

	return nil
}

// BatchUpsertArtifacts inserts or updates multiple rows in one transaction.
func BatchUpsertArtifacts(ctx context.Context, db *sql.DB, rows []ArtifactRow) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO artifacts
		 (fingerprint, stage, page, name, path, size_bytes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint, stage, page, name) DO UPDATE SET
		   path = excluded.path,
		   size_bytes = excluded.size_bytes,
		   recorded_at = excluded.recorded_at`)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.Fingerprint, row.Stage, row.Page, row.Name,
			row.Path, row.SizeBytes, row.RecordedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("exec upsert for %s: %w", row.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetArtifact retrieves a single row, or nil when absent.
func GetArtifact(ctx context.Context, db *sql.DB, fingerprint, stage string, page int, name string) (*ArtifactRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var row ArtifactRow
	var recordedAt string

	err := db.QueryRowContext(ctx,
		`SELECT fingerprint, stage, page, name, path, size_bytes, recorded_at
		 FROM artifacts
		 WHERE fingerprint = ? AND stage = ? AND page = ? AND name = ?`,
		fingerprint, stage, page, name).Scan(
		&row.Fingerprint, &row.Stage, &row.Page, &row.Name,
		&row.Path, &row.SizeBytes, &recordedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}

	row.RecordedAt, err = parseDBTime(recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parse recorded_at: %w", err)
	}

	return &row, nil
}

// ListArtifacts returns all rows for a document fingerprint, ordered by
// stage then page then name.
func ListArtifacts(ctx context.Context, db *sql.DB, fingerprint string) ([]ArtifactRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx,
		`SELECT fingerprint, stage, page, name, path, size_bytes, recorded_at
		 FROM artifacts
		 WHERE fingerprint = ?
		 ORDER BY stage, page, name`,
		fingerprint)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ArtifactRow
	for rows.Next() {
		var row ArtifactRow
		var recordedAt string
		if err := rows.Scan(&row.Fingerprint, &row.Stage, &row.Page, &row.Name,
			&row.Path, &row.SizeBytes, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		row.RecordedAt, err = parseDBTime(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}

	return out, nil
}

// CountArtifacts returns the number of rows, optionally limited to a stage.
// An empty stage counts everything.
func CountArtifacts(ctx context.Context, db *sql.DB, stage string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var count int64
	var err error
	if stage == "" {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&count)
	} else {
		err = db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM artifacts WHERE stage = ?`, stage).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}

	return count, nil
}

func parseDBTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time value %q", raw)
}
