// Package progress keeps the per-output-directory run ledger used for resume
// and the plain-text error log.
package progress

import (
	"context"
	"crypto/md5"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Status is the terminal state of a source in the ledger.
type Status string

const (
	StatusRecorded Status = "recorded"
	StatusFailed   Status = "failed"
)

// Entry is the ledger row of one source file.
type Entry struct {
	SourcePath    string
	Hash          string
	Status        Status
	IdentityKind  string
	IdentityValue string
	ImagePath     string
	Stage         string
	Error         string
	RunID         string
	UpdatedAt     time.Time
}

// RunCounts summarizes a finished run.
type RunCounts struct {
	Total    int
	Recorded int
	Failed   int
	Skipped  int
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	root TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	total INTEGER NOT NULL DEFAULT 0,
	recorded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS items (
	source_path TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	status TEXT NOT NULL,
	identity_kind TEXT NOT NULL DEFAULT '',
	identity_value TEXT NOT NULL DEFAULT '',
	image_path TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	run_id TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
`

// Ledger records which sources a directory has already exported.
type Ledger struct {
	db   *sql.DB
	path string
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{db: db, path: path}, nil
}

// Path returns the database path.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// BeginRun registers a run.
func (l *Ledger) BeginRun(ctx context.Context, runID, root string) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO runs (id, root, started_at) VALUES (?, ?, ?)",
		runID, root, now())
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stores a run's final counts.
func (l *Ledger) FinishRun(ctx context.Context, runID string, c RunCounts) error {
	_, err := l.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, total = ?, recorded = ?, failed = ?, skipped = ? WHERE id = ?",
		now(), c.Total, c.Recorded, c.Failed, c.Skipped, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// QuickHash fingerprints a file by size and modification time.
func QuickHash(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	hashInput := fmt.Sprintf("%d_%d", info.Size(), info.ModTime().UnixNano())
	hash := md5.Sum([]byte(hashInput))
	return fmt.Sprintf("%x", hash[:8])
}

// IsRecorded reports whether sourcePath was exported before and has not
// changed since.
func (l *Ledger) IsRecorded(ctx context.Context, sourcePath string) (bool, error) {
	entry, ok, err := l.Get(ctx, sourcePath)
	if err != nil || !ok {
		return false, err
	}
	if entry.Status != StatusRecorded {
		return false, nil
	}
	return entry.Hash != "" && entry.Hash == QuickHash(sourcePath), nil
}

// MarkRecorded stores a successful export. The hash is taken now, after any
// write-back to the source.
func (l *Ledger) MarkRecorded(ctx context.Context, e Entry) error {
	e.Status = StatusRecorded
	e.Hash = QuickHash(e.SourcePath)
	e.Stage = ""
	e.Error = ""
	return l.upsert(ctx, e)
}

// MarkFailed stores a failure.
func (l *Ledger) MarkFailed(ctx context.Context, runID, sourcePath, stage, reason string) error {
	return l.upsert(ctx, Entry{
		SourcePath: sourcePath,
		Hash:       QuickHash(sourcePath),
		Status:     StatusFailed,
		Stage:      stage,
		Error:      reason,
		RunID:      runID,
	})
}

func (l *Ledger) upsert(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO items (source_path, hash, status, identity_kind, identity_value, image_path, stage, error, run_id, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source_path) DO UPDATE SET
	hash = excluded.hash,
	status = excluded.status,
	identity_kind = excluded.identity_kind,
	identity_value = excluded.identity_value,
	image_path = excluded.image_path,
	stage = excluded.stage,
	error = excluded.error,
	run_id = excluded.run_id,
	updated_at = excluded.updated_at`,
		e.SourcePath, e.Hash, string(e.Status), e.IdentityKind, e.IdentityValue,
		e.ImagePath, e.Stage, e.Error, e.RunID, now())
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	return nil
}

// Get returns the ledger entry of sourcePath.
func (l *Ledger) Get(ctx context.Context, sourcePath string) (Entry, bool, error) {
	var (
		e       Entry
		status  string
		updated string
	)
	err := l.db.QueryRowContext(ctx, `
SELECT source_path, hash, status, identity_kind, identity_value, image_path, stage, error, run_id, updated_at
FROM items WHERE source_path = ?`, sourcePath).Scan(
		&e.SourcePath, &e.Hash, &status, &e.IdentityKind, &e.IdentityValue,
		&e.ImagePath, &e.Stage, &e.Error, &e.RunID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read ledger: %w", err)
	}
	e.Status = Status(status)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return e, true, nil
}

// Stats returns the number of recorded and failed sources.
func (l *Ledger) Stats(ctx context.Context) (recorded, failed int, err error) {
	rows, err := l.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM items GROUP BY status")
	if err != nil {
		return 0, 0, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, fmt.Errorf("ledger stats: %w", err)
		}
		switch Status(status) {
		case StatusRecorded:
			recorded = n
		case StatusFailed:
			failed = n
		}
	}
	return recorded, failed, rows.Err()
}

// ClearFailed removes failed entries so they are retried.
func (l *Ledger) ClearFailed(ctx context.Context) (int, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM items WHERE status = ?", string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return int(n), nil
}
