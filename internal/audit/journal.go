// Package audit keeps a local journal of confirmed removals so an operator
// can reconstruct what was taken out of a run, by whom and when, after the
// rows are gone from the source of record.
package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/nwfth/rm-unpick/internal/model"
)

const schema = `CREATE TABLE IF NOT EXISTS removals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_no INTEGER NOT NULL,
	row_num INTEGER NOT NULL,
	line_id INTEGER NOT NULL,
	item_key TEXT NOT NULL,
	batch_no TEXT NOT NULL,
	to_picked_qty REAL NOT NULL,
	user_logon TEXT NOT NULL,
	affected_count INTEGER NOT NULL,
	removed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_removals_run_no ON removals (run_no);`

// Entry is one journaled line removal.
type Entry struct {
	ID            int64     `db:"id"`
	RunNo         int       `db:"run_no"`
	RowNum        int       `db:"row_num"`
	LineID        int       `db:"line_id"`
	ItemKey       string    `db:"item_key"`
	BatchNo       string    `db:"batch_no"`
	ToPickedQty   float64   `db:"to_picked_qty"`
	UserLogon     string    `db:"user_logon"`
	AffectedCount int       `db:"affected_count"`
	RemovedAt     time.Time `db:"removed_at"`
}

// Journal persists removal entries to a local SQLite database.
type Journal struct {
	db  *sqlx.DB
	log *zap.Logger
}

// Open creates or opens the journal database at path and ensures the schema.
func Open(path string, log *zap.Logger) (*Journal, error) {
	if path == "" {
		return nil, errors.New("audit journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	return NewJournal(db, log), nil
}

// NewJournal wraps an existing database handle.
func NewJournal(db *sqlx.DB, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{db: db, log: log}
}

// Record journals one confirmed removal batch atomically.
func (j *Journal) Record(ctx context.Context, runNo int, removed []model.Line, affected int, userLogon string) error {
	if len(removed) == 0 {
		return nil
	}

	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, line := range removed {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO removals (run_no, row_num, line_id, item_key, batch_no, to_picked_qty, user_logon, affected_count, removed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runNo, line.RowNum, line.LineID, line.ItemKey, line.BatchNo,
			line.ToPickedPartialQty, userLogon, affected, now,
		); err != nil {
			return fmt.Errorf("insert journal entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	j.log.Debug("journaled removal", zap.Int("run_no", runNo), zap.Int("entries", len(removed)))
	return nil
}

// List returns the journaled removals for one run, newest first.
func (j *Journal) List(ctx context.Context, runNo int) ([]Entry, error) {
	var entries []Entry
	err := j.db.SelectContext(ctx, &entries,
		`SELECT id, run_no, row_num, line_id, item_key, batch_no, to_picked_qty, user_logon, affected_count, removed_at
		 FROM removals WHERE run_no = ? ORDER BY removed_at DESC, id DESC`, runNo)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	return entries, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
