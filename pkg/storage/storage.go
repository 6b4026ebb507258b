package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the local SQLite store: apply checkpoints plus the apply audit log.
type DB struct {
	sql *sql.DB
}

var (
	_ ProgressStore = (*DB)(nil)
	_ AuditLog      = (*DB)(nil)
)

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS upload_progress (
  progress_key TEXT PRIMARY KEY,
  file_hash    TEXT NOT NULL,
  run_id       TEXT NOT NULL,
  data         TEXT NOT NULL,
  updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_progress_updated ON upload_progress(updated_at);
CREATE TABLE IF NOT EXISTS apply_log (
  id          INTEGER PRIMARY KEY,
  occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  run_id      TEXT NOT NULL,
  file_hash   TEXT NOT NULL,
  change_id   TEXT NOT NULL,
  listing_id  INTEGER NOT NULL DEFAULT 0,
  action      TEXT NOT NULL CHECK (action IN ('create','update','delete')),
  status      TEXT NOT NULL CHECK (status IN ('ok','failed')),
  error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_apply_log_run ON apply_log(run_id);
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

func (d *DB) LoadProgress(ctx context.Context, fileHash string) (*UploadProgress, error) {
	var data string
	err := d.sql.QueryRowContext(ctx, "SELECT data FROM upload_progress WHERE progress_key = ?", ProgressKey(fileHash)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p UploadProgress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", fileHash, err)
	}
	return &p, nil
}

func (d *DB) SaveProgress(ctx context.Context, p *UploadProgress) error {
	if p.FileHash == "" {
		return errors.New("checkpoint has no file hash")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, `INSERT INTO upload_progress(progress_key, file_hash, run_id, data, updated_at) VALUES(?,?,?,?,?)
ON CONFLICT(progress_key) DO UPDATE SET run_id = excluded.run_id, data = excluded.data, updated_at = excluded.updated_at`,
		ProgressKey(p.FileHash), p.FileHash, p.RunID, string(data), p.UpdatedAt.Unix())
	return err
}

func (d *DB) DeleteProgress(ctx context.Context, fileHash string) error {
	_, err := d.sql.ExecContext(ctx, "DELETE FROM upload_progress WHERE progress_key = ?", ProgressKey(fileHash))
	return err
}

// ListProgress returns all checkpoints, most recently updated first.
func (d *DB) ListProgress(ctx context.Context) ([]UploadProgress, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT data FROM upload_progress ORDER BY updated_at DESC, progress_key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UploadProgress
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p UploadProgress
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PruneProgress deletes checkpoints not updated within maxAge.
func (d *DB) PruneProgress(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := d.sql.ExecContext(ctx, "DELETE FROM upload_progress WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (d *DB) LogOutcomes(ctx context.Context, outcomes []Outcome) (err error) {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, o := range outcomes {
		at := o.OccurredAt
		if at.IsZero() {
			at = time.Now()
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO apply_log(occurred_at, run_id, file_hash, change_id, listing_id, action, status, error) VALUES(?,?,?,?,?,?,?,?)`,
			at.UTC().Format(timestampLayout), o.RunID, o.FileHash, o.ChangeID, o.ListingID, o.Action, o.Status, nullIfEmpty(o.Error))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRecentOutcomes returns the most recent N audited writes.
func (d *DB) ListRecentOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx, "SELECT occurred_at, run_id, file_hash, change_id, listing_id, action, status, error FROM apply_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes := []Outcome{}
	for rows.Next() {
		var (
			o           Outcome
			occurredStr string
			errNS       sql.NullString
		)
		if err := rows.Scan(&occurredStr, &o.RunID, &o.FileHash, &o.ChangeID, &o.ListingID, &o.Action, &o.Status, &errNS); err != nil {
			return nil, err
		}
		o.OccurredAt = parseTimestamp(occurredStr)
		o.Error = errNS.String
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

const timestampLayout = "2006-01-02 15:04:05"

// parseTimestamp reads SQLite CURRENT_TIMESTAMP text, falling back to RFC3339.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
