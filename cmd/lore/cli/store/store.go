// Package store is the single source of truth on the local machine. It owns
// the SQLite schema, applies forward-only migrations at open time, and keeps
// the FTS index coherent with the messages table.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/varalys/lore/cmd/lore/cli/paths"
)

const currentSchemaVersion = 2

// ErrAmbiguousPrefix is returned when an id or SHA prefix matches more than
// one row.
var ErrAmbiguousPrefix = errors.New("prefix is ambiguous")

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database. A Store is safe for concurrent use; the
// database serializes writes and WAL permits concurrent readers.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// OpenDefault opens the database at its standard location under ~/.lore.
func OpenDefault() (*Store, error) {
	path, err := paths.DatabasePath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		version = 0
	}

	if version >= currentSchemaVersion {
		return nil
	}
	slog.Debug("migrating schema", "from", version, "to", currentSchemaVersion)

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}
	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			if missingFTS5(err) {
				return fmt.Errorf("migration v%d: %w (this binary lacks FTS5; rebuild with -tags sqlite_fts5)", i+1, err)
			}
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
	}
	return nil
}

// missingFTS5 recognizes the driver error from a build without the
// sqlite_fts5 tag, the one build mistake every user would otherwise have to
// diagnose from a bare "no such module".
func missingFTS5(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such module: fts5")
}

// migrateV1 creates the core schema.
func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	INSERT INTO schema_version (version) VALUES (1);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		tool TEXT NOT NULL,
		tool_version TEXT,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		model TEXT,
		working_directory TEXT NOT NULL,
		git_branch TEXT,
		source_path TEXT,
		message_count INTEGER NOT NULL DEFAULT 0,
		machine_id TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_working_directory ON sessions(working_directory);
	CREATE INDEX IF NOT EXISTS idx_sessions_source_path ON sessions(source_path);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		parent_id TEXT,
		idx INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		model TEXT,
		git_branch TEXT,
		cwd TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, idx);

	CREATE TABLE IF NOT EXISTS session_links (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		link_type TEXT NOT NULL,
		commit_sha TEXT,
		branch TEXT,
		remote TEXT,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		confidence REAL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_session_links_session_id ON session_links(session_id);
	CREATE INDEX IF NOT EXISTS idx_session_links_commit_sha ON session_links(commit_sha);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		label TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (session_id, label),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tags_session_id ON tags(session_id);
	CREATE INDEX IF NOT EXISTS idx_tags_label ON tags(label);

	CREATE TABLE IF NOT EXISTS summaries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS annotations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_annotations_session_id ON annotations(session_id);

	CREATE TABLE IF NOT EXISTS machines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		session_id TEXT PRIMARY KEY,
		synced_at TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`)
	return err
}

// migrateV2 adds the FTS index over message text. The index is maintained
// explicitly by the store, not by triggers, so rebuild detection stays a
// simple count comparison.
func migrateV2(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		message_id UNINDEXED,
		session_id UNINDEXED,
		content,
		tokenize = 'porter unicode61'
	);
	INSERT INTO schema_version (version) VALUES (2);
	`)
	return err
}

// timeFormat is how timestamps are stored. The fraction is fixed-width:
// RFC3339Nano trims trailing zeros, so "…:03Z" would sort after "…:03.5Z"
// and break the lexicographic ordering the date-range queries rely on.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	// Rows written by other implementations may trim or omit the fraction;
	// RFC3339Nano parses all of these.
	return time.Parse(time.RFC3339Nano, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
