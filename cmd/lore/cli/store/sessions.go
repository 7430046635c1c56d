package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

// UpsertSession inserts the session, or on id conflict updates only
// ended_at and message_count. Sessions otherwise never mutate after import.
func (s *Store) UpsertSession(sess *model.Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, tool, tool_version, started_at, ended_at, model,
			working_directory, git_branch, source_path, message_count, machine_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			message_count = excluded.message_count`,
		sess.ID.String(), sess.Tool, nullString(sess.ToolVersion),
		formatTime(sess.StartedAt), formatTimePtr(sess.EndedAt), nullString(sess.Model),
		sess.WorkingDirectory, nullString(sess.GitBranch), nullString(sess.SourcePath),
		sess.MessageCount, nullString(sess.MachineID))
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession returns the session with the given id, or ErrNotFound.
func (s *Store) GetSession(id uuid.UUID) (*model.Session, error) {
	row := s.db.QueryRow(sessionSelect+" WHERE id = ?", id.String())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// SessionExistsBySource reports whether any session was imported from the
// given source path. The import pipeline uses this as its idempotency check.
func (s *Store) SessionExistsBySource(sourcePath string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE source_path = ?", sourcePath).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking source path: %w", err)
	}
	return n > 0, nil
}

// ListSessions returns up to limit sessions newest-first. A non-empty
// workingDirPrefix restricts results to sessions whose working directory
// starts with it.
func (s *Store) ListSessions(limit int, workingDirPrefix string) ([]model.Session, error) {
	query := sessionSelect
	var args []any
	if workingDirPrefix != "" {
		query += " WHERE working_directory LIKE ? || '%'"
		args = append(args, workingDirPrefix)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	return s.querySessions(query, args...)
}

// SessionsActiveBetween returns sessions whose activity overlaps the
// [start, end] window, newest-first. A session with no end time counts as
// still active. A non-empty workingDirPrefix restricts results the same way
// ListSessions does. The auto-linker uses this to find commit candidates.
func (s *Store) SessionsActiveBetween(start, end time.Time, workingDirPrefix string) ([]model.Session, error) {
	query := sessionSelect + " WHERE started_at <= ? AND (ended_at IS NULL OR ended_at >= ?)"
	args := []any{formatTime(end), formatTime(start)}
	if workingDirPrefix != "" {
		query += " AND working_directory LIKE ? || '%'"
		args = append(args, workingDirPrefix)
	}
	query += " ORDER BY started_at DESC"

	return s.querySessions(query, args...)
}

// ListSessionsWithTag returns up to limit sessions carrying the label,
// newest-first.
func (s *Store) ListSessionsWithTag(label string, limit int) ([]model.Session, error) {
	query := sessionSelect + `
		WHERE id IN (SELECT session_id FROM tags WHERE label = ?)
		ORDER BY started_at DESC LIMIT ?`
	return s.querySessions(query, label, limit)
}

// FindSessionByIDPrefix resolves a (possibly partial) session id. It returns
// ErrNotFound when nothing matches and ErrAmbiguousPrefix when more than one
// session does.
func (s *Store) FindSessionByIDPrefix(prefix string) (*model.Session, error) {
	sessions, err := s.querySessions(sessionSelect+" WHERE id LIKE ? || '%' LIMIT 2", prefix)
	if err != nil {
		return nil, err
	}
	switch len(sessions) {
	case 0:
		return nil, fmt.Errorf("session %q: %w", prefix, ErrNotFound)
	case 1:
		return &sessions[0], nil
	default:
		return nil, fmt.Errorf("session id prefix %q: %w", prefix, ErrAmbiguousPrefix)
	}
}

// DeleteSession removes a session and everything attached to it in one
// transaction: messages, FTS rows, links, tags, summary, annotations and
// sync state.
func (s *Store) DeleteSession(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages_fts WHERE session_id = ?", id.String()); err != nil {
		return fmt.Errorf("deleting search rows: %w", err)
	}
	res, err := tx.Exec("DELETE FROM sessions WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// DeleteSessionsOlderThan removes all sessions that started before cutoff
// and returns how many were deleted.
func (s *Store) DeleteSessionsOlderThan(cutoff time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning prune: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM messages_fts WHERE session_id IN
			(SELECT id FROM sessions WHERE started_at < ?)`,
		formatTime(cutoff)); err != nil {
		return 0, fmt.Errorf("pruning search rows: %w", err)
	}
	res, err := tx.Exec("DELETE FROM sessions WHERE started_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

const sessionSelect = `
	SELECT id, tool, tool_version, started_at, ended_at, model,
		working_directory, git_branch, source_path, message_count, machine_id
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var sess model.Session
	var id, startedAt string
	var toolVersion, endedAt, modelName sql.NullString
	var gitBranch, sourcePath, machineID sql.NullString
	err := row.Scan(&id, &sess.Tool, &toolVersion, &startedAt, &endedAt, &modelName,
		&sess.WorkingDirectory, &gitBranch, &sourcePath, &sess.MessageCount, &machineID)
	if err != nil {
		return nil, err
	}

	sess.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing session id %q: %w", id, err)
	}
	sess.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		sess.EndedAt = &t
	}
	sess.ToolVersion = toolVersion.String
	sess.Model = modelName.String
	sess.GitBranch = gitBranch.String
	sess.SourcePath = sourcePath.String
	sess.MachineID = machineID.String
	return &sess, nil
}

func (s *Store) querySessions(query string, args ...any) ([]model.Session, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}
