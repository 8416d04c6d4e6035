// Package history keeps a SQLite journal of completed syncs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/savesync/internal/db"
	"github.com/openmined/savesync/internal/transfer"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_history (
    id TEXT PRIMARY KEY,
    workspace TEXT NOT NULL,
    cause TEXT NOT NULL,
    dry_run INTEGER NOT NULL,
    success INTEGER NOT NULL,
    files INTEGER NOT NULL,
    bytes INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    error TEXT NOT NULL,
    finished_at TEXT NOT NULL -- fixed width UTC, sorts as text
);

CREATE INDEX IF NOT EXISTS idx_history_workspace_finished ON sync_history(workspace, finished_at);
`

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var ErrNotOpen = errors.New("history journal not open")

// Entry is one completed sync.
type Entry struct {
	ID         string        `yaml:"id"`
	Workspace  string        `yaml:"workspace"`
	Trigger    string        `yaml:"trigger"`
	DryRun     bool          `yaml:"dryRun"`
	Success    bool          `yaml:"success"`
	Files      int64         `yaml:"files"`
	Bytes      int64         `yaml:"bytes"`
	Duration   time.Duration `yaml:"duration"`
	Error      string        `yaml:"error,omitempty"`
	FinishedAt time.Time     `yaml:"finishedAt"`
}

// NewEntry builds an entry from a sync result, finished now.
func NewEntry(workspace, trigger string, dryRun bool, res transfer.SyncResult) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Workspace:  workspace,
		Trigger:    trigger,
		DryRun:     dryRun,
		Success:    res.Success,
		Files:      res.FilesTransferred,
		Bytes:      res.BytesTransferred,
		Duration:   res.Duration,
		Error:      res.ErrorMessage(),
		FinishedAt: time.Now(),
	}
}

type row struct {
	ID         string `db:"id"`
	Workspace  string `db:"workspace"`
	Trigger    string `db:"cause"`
	DryRun     bool   `db:"dry_run"`
	Success    bool   `db:"success"`
	Files      int64  `db:"files"`
	Bytes      int64  `db:"bytes"`
	DurationMs int64  `db:"duration_ms"`
	Error      string `db:"error"`
	FinishedAt string `db:"finished_at"`
}

func (r row) entry() (Entry, error) {
	finished, err := time.Parse(timeLayout, r.FinishedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse finished_at of %s: %w", r.ID, err)
	}
	return Entry{
		ID:         r.ID,
		Workspace:  r.Workspace,
		Trigger:    r.Trigger,
		DryRun:     r.DryRun,
		Success:    r.Success,
		Files:      r.Files,
		Bytes:      r.Bytes,
		Duration:   time.Duration(r.DurationMs) * time.Millisecond,
		Error:      r.Error,
		FinishedAt: finished,
	}, nil
}

// Journal stores sync history.
type Journal struct {
	db     *sqlx.DB
	dbPath string
	mu     sync.RWMutex
}

func NewJournal(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

func (j *Journal) Open() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db != nil {
		return fmt.Errorf("history journal already open")
	}

	conn, err := db.NewSqliteDB(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open history journal: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return fmt.Errorf("init history schema: %w", err)
	}

	j.db = conn
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func (j *Journal) Record(ctx context.Context, e Entry) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.db == nil {
		return ErrNotOpen
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	_, err := j.db.NamedExecContext(ctx, `
		INSERT INTO sync_history (id, workspace, cause, dry_run, success, files, bytes, duration_ms, error, finished_at)
		VALUES (:id, :workspace, :cause, :dry_run, :success, :files, :bytes, :duration_ms, :error, :finished_at)`,
		row{
			ID:         e.ID,
			Workspace:  e.Workspace,
			Trigger:    e.Trigger,
			DryRun:     e.DryRun,
			Success:    e.Success,
			Files:      e.Files,
			Bytes:      e.Bytes,
			DurationMs: e.Duration.Milliseconds(),
			Error:      e.Error,
			FinishedAt: e.FinishedAt.UTC().Format(timeLayout),
		})
	if err != nil {
		return fmt.Errorf("record sync %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty workspace returns all workspaces.
func (j *Journal) Recent(ctx context.Context, workspace string, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.db == nil {
		return nil, ErrNotOpen
	}
	if limit <= 0 {
		limit = 20
	}

	var rows []row
	var err error
	if workspace == "" {
		err = j.db.SelectContext(ctx, &rows, `SELECT * FROM sync_history ORDER BY finished_at DESC LIMIT ?`, limit)
	} else {
		err = j.db.SelectContext(ctx, &rows, `SELECT * FROM sync_history WHERE workspace = ? ORDER BY finished_at DESC LIMIT ?`, workspace, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// LastSuccess returns the finish time of the latest successful, non dry-run sync.
// ok is false if there is none.
func (j *Journal) LastSuccess(ctx context.Context, workspace string) (t time.Time, ok bool, err error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.db == nil {
		return time.Time{}, false, ErrNotOpen
	}

	var finished string
	err = j.db.GetContext(ctx, &finished, `
		SELECT finished_at FROM sync_history
		WHERE workspace = ? AND success = 1 AND dry_run = 0
		ORDER BY finished_at DESC LIMIT 1`, workspace)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	} else if err != nil {
		return time.Time{}, false, fmt.Errorf("query last success: %w", err)
	}

	t, err = time.Parse(timeLayout, finished)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
