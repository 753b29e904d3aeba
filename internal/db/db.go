package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DatabaseFileName is created under the configured data directory.
	DatabaseFileName = "jobs.db"

	schemaVersion = 2
)

// Store is the sole gateway to persistent state. All mutations funnel
// through it; multi-row writes run inside explicit transactions guarded by
// a single writer lock.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so shared helpers can run
// inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Open opens or creates jobs.db under dataDir, enables foreign key
// enforcement and runs schema migrations.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, DatabaseFileName)
	// _busy_timeout retries transiently locked statements instead of
	// surfacing SQLITE_BUSY to callers.
	handle, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)

	s := &Store{db: handle, path: path}
	if err := s.runMigrations(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to run schema migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the on-disk location of the database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) runMigrations() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}

	for _, stmt := range createTableStatements {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	if _, err := tx.Exec(seedStatuses); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to seed statuses: %w", err)
	}

	if err := ensureSchemaVersion(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}

func ensureSchemaVersion(tx *sql.Tx) error {
	var version int
	err := tx.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	switch {
	case version == schemaVersion:
		return nil
	case version > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	case version == 1:
		if err := migrateV1ToV2(tx); err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported database schema version %d", version)
	}
}

// migrateV1ToV2 upgrades the original minimal schema: the statuses, plates
// and filaments tables were created above, so only the jobs columns and the
// status_id back-fill remain. Re-running the column adds on an already
// upgraded database is harmless.
func migrateV1ToV2(tx *sql.Tx) error {
	alters := []string{
		"ALTER TABLE jobs ADD COLUMN status_id INTEGER",
		"ALTER TABLE jobs ADD COLUMN thumbnail_path TEXT",
		"ALTER TABLE jobs ADD COLUMN metadata TEXT",
		"ALTER TABLE jobs ADD COLUMN started_at TEXT",
		"ALTER TABLE jobs ADD COLUMN completed_at TEXT",
	}
	for _, stmt := range alters {
		if err := execAllowDuplicateColumn(tx, stmt); err != nil {
			return err
		}
	}

	backfill := `
		UPDATE jobs SET status_id = (SELECT id FROM statuses WHERE statuses.name = jobs.status)
		WHERE status_id IS NULL AND status IS NOT NULL
	`
	if _, err := tx.Exec(backfill); err != nil {
		return fmt.Errorf("failed to back-fill job statuses: %w", err)
	}
	return nil
}

func execAllowDuplicateColumn(tx *sql.Tx, stmt string) error {
	if _, err := tx.Exec(stmt); err != nil {
		if strings.Contains(err.Error(), "duplicate column name") {
			return nil
		}
		return fmt.Errorf("failed to alter jobs table: %w", err)
	}
	return nil
}

var createTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS statuses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		is_completed INTEGER NOT NULL DEFAULT 0,
		is_terminal INTEGER NOT NULL DEFAULT 0,
		created_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS printers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		host TEXT NOT NULL,
		created_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		status_id INTEGER,
		status TEXT,
		printer_id INTEGER,
		file_path TEXT,
		thumbnail_path TEXT,
		metadata TEXT,
		created_at TEXT,
		updated_at TEXT,
		started_at TEXT,
		completed_at TEXT,
		FOREIGN KEY(status_id) REFERENCES statuses(id),
		FOREIGN KEY(printer_id) REFERENCES printers(id)
	)`,
	`CREATE TABLE IF NOT EXISTS plates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL,
		plate_index INTEGER NOT NULL,
		name TEXT,
		status_id INTEGER,
		FOREIGN KEY(job_id) REFERENCES jobs(id) ON DELETE CASCADE,
		FOREIGN KEY(status_id) REFERENCES statuses(id),
		UNIQUE(job_id, plate_index)
	)`,
	`CREATE TABLE IF NOT EXISTS filaments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL,
		plate_id INTEGER,
		slot INTEGER,
		material TEXT,
		color_hex TEXT,
		brand TEXT,
		metadata TEXT,
		FOREIGN KEY(job_id) REFERENCES jobs(id) ON DELETE CASCADE,
		FOREIGN KEY(plate_id) REFERENCES plates(id) ON DELETE SET NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
}

const seedStatuses = `
	INSERT OR IGNORE INTO statuses (name, is_completed, is_terminal, created_at) VALUES
	('queued', 0, 0, datetime('now')),
	('running', 0, 0, datetime('now')),
	('printing', 0, 0, datetime('now')),
	('completed', 1, 1, datetime('now')),
	('failed', 0, 1, datetime('now')),
	('cancelled', 0, 1, datetime('now'))
`
