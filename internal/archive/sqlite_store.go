// SPDX-License-Identifier: MIT

package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// SqliteStore is the durable archive backend backed by a single SQLite
// file in WAL mode.
type SqliteStore struct {
	db *sql.DB
}

// NewSqliteStore opens (or creates) the archive database at path and
// runs pending migrations.
func NewSqliteStore(path string) (*SqliteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite archive requires a path")
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}

	// Single-writer workload; a second connection only contends on WAL.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive db: %w", err)
	}

	s := &SqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate archive db: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS finalized_sessions (
			session_id        TEXT PRIMARY KEY,
			start_time        INTEGER NOT NULL,
			finalized_at      INTEGER NOT NULL,
			finalize_trigger  TEXT NOT NULL,
			images_processed  INTEGER NOT NULL,
			unique_categories TEXT NOT NULL,
			total_objects     INTEGER NOT NULL,
			over_budget       INTEGER NOT NULL,
			report_path       TEXT NOT NULL,
			report_written    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_finalized_at ON finalized_sessions(finalized_at);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	_, err = s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	if err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Put archives the entry. A session already archived is left untouched.
func (s *SqliteStore) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO finalized_sessions
			(session_id, start_time, finalized_at, finalize_trigger, images_processed,
			 unique_categories, total_objects, over_budget, report_path, report_written)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		e.SessionID,
		e.StartTime.UnixMilli(),
		e.FinalizedAt.UnixMilli(),
		e.Trigger,
		e.ImagesProcessed,
		strings.Join(e.UniqueCategories, ","),
		e.TotalObjects,
		boolToInt(e.OverBudget),
		e.ReportPath,
		boolToInt(e.ReportWritten),
	)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", e.SessionID, err)
	}
	return nil
}

// Get returns one archived session or ErrNotFound.
func (s *SqliteStore) Get(ctx context.Context, sessionID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, start_time, finalized_at, finalize_trigger, images_processed,
		       unique_categories, total_objects, over_budget, report_path, report_written
		FROM finalized_sessions WHERE session_id = ?`, sessionID)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load archived session %s: %w", sessionID, err)
	}
	return e, nil
}

// List returns all archived sessions, oldest finalization first.
func (s *SqliteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, start_time, finalized_at, finalize_trigger, images_processed,
		       unique_categories, total_objects, over_budget, report_path, report_written
		FROM finalized_sessions ORDER BY finalized_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("list archived sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archived session: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                      Entry
		startMs, finalizedMs   int64
		categories             string
		overBudget, repWritten int
	)
	err := row.Scan(
		&e.SessionID, &startMs, &finalizedMs, &e.Trigger, &e.ImagesProcessed,
		&categories, &e.TotalObjects, &overBudget, &e.ReportPath, &repWritten,
	)
	if err != nil {
		return nil, err
	}
	e.StartTime = time.UnixMilli(startMs).UTC()
	e.FinalizedAt = time.UnixMilli(finalizedMs).UTC()
	if categories != "" {
		e.UniqueCategories = strings.Split(categories, ",")
	}
	e.OverBudget = overBudget != 0
	e.ReportWritten = repWritten != 0
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
