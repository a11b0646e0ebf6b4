// Package storage keeps a small sqlite history of sync outcomes inside
// the mirror root.
package storage

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS mirror_entries (
  id              INTEGER PRIMARY KEY,
  dir             TEXT NOT NULL,
  bucket          TEXT NOT NULL,
  title           TEXT NOT NULL,
  page_url        TEXT,
  archive_present INTEGER NOT NULL DEFAULT 0 CHECK (archive_present IN (0,1)),
  artwork_count   INTEGER NOT NULL DEFAULT 0,
  last_failure    TEXT,
  run_id          INTEGER NOT NULL DEFAULT 0,
  first_seen_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  last_seen_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(dir)
);
CREATE INDEX IF NOT EXISTS idx_mirror_bucket ON mirror_entries(bucket);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// RecordEntry upserts the outcome of one entry, keyed by its mirror
// directory.
func (d *DB) RecordEntry(ctx context.Context, r Record) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO mirror_entries(dir, bucket, title, page_url, archive_present, artwork_count, last_failure, run_id)
VALUES(?,?,?,?,?,?,?,?)
ON CONFLICT(dir) DO UPDATE SET
  title           = excluded.title,
  page_url        = excluded.page_url,
  archive_present = excluded.archive_present,
  artwork_count   = excluded.artwork_count,
  last_failure    = excluded.last_failure,
  run_id          = excluded.run_id,
  last_seen_at    = CURRENT_TIMESTAMP`,
		r.Dir, r.Bucket, r.Title, nullIfEmpty(r.PageURL), boolToInt(r.ArchivePresent), r.ArtworkCount, nullIfEmpty(r.Failure), r.RunID)
	return err
}

// Stats aggregates the mirror contents per bucket.
func (d *DB) Stats(ctx context.Context) ([]BucketStats, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT bucket,
       COUNT(*),
       COALESCE(SUM(archive_present), 0),
       COALESCE(SUM(CASE WHEN last_failure IS NOT NULL THEN 1 ELSE 0 END), 0)
FROM mirror_entries
GROUP BY bucket
ORDER BY bucket`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []BucketStats
	for rows.Next() {
		var s BucketStats
		if err := rows.Scan(&s.Bucket, &s.Entries, &s.Archives, &s.Failed); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Failures lists entries whose last sync pass recorded an error, so a
// later run (or operator) knows what remains due.
func (d *DB) Failures(ctx context.Context) ([]FailureRow, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT title, dir, last_failure
FROM mirror_entries
WHERE last_failure IS NOT NULL
ORDER BY bucket, title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []FailureRow
	for rows.Next() {
		var f FailureRow
		if err := rows.Scan(&f.Title, &f.Dir, &f.Failure); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
