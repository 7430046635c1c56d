package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

// InsertMessage writes one message, idempotently on id. On first insert it
// also writes the FTS row when the message has searchable text.
func (s *Store) InsertMessage(m *model.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessageTx(tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMessageTx(tx *sql.Tx, m *model.Message) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("encoding message content: %w", err)
	}

	var parentID any
	if m.ParentID != nil {
		parentID = m.ParentID.String()
	}

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO messages
			(id, session_id, parent_id, idx, timestamp, role, content, model, git_branch, cwd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.SessionID.String(), parentID, m.Index,
		formatTime(m.Timestamp), string(m.Role), string(content),
		nullString(m.Model), nullString(m.GitBranch), nullString(m.CWD))
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", m.ID, err)
	}

	// Only first inserts feed the index; re-imports of the same id must not
	// duplicate FTS rows.
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if text := m.Content.PlainText(); text != "" {
		if _, err := tx.Exec(`
			INSERT INTO messages_fts (message_id, session_id, content) VALUES (?, ?, ?)`,
			m.ID.String(), m.SessionID.String(), text); err != nil {
			return fmt.Errorf("indexing message %s: %w", m.ID, err)
		}
	}
	return nil
}

// GetMessages returns all messages of a session ordered by index.
func (s *Store) GetMessages(sessionID uuid.UUID) ([]model.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, parent_id, idx, timestamp, role, content, model, git_branch, cwd
		FROM messages WHERE session_id = ? ORDER BY idx`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// ImportSessionWithMessages writes a session and its messages in a single
// transaction. When serverTime is non-nil the session is also marked synced
// at that time, so pulled sessions never show up as unsynced. A failure at
// any point rolls back the whole import.
func (s *Store) ImportSessionWithMessages(sess *model.Session, messages []model.Message, serverTime *time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning import: %w", err)
	}
	defer tx.Rollback()

	var endedAt any
	if sess.EndedAt != nil {
		endedAt = formatTime(*sess.EndedAt)
	}
	if _, err := tx.Exec(`
		INSERT INTO sessions (id, tool, tool_version, started_at, ended_at, model,
			working_directory, git_branch, source_path, message_count, machine_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			message_count = excluded.message_count`,
		sess.ID.String(), sess.Tool, nullString(sess.ToolVersion),
		formatTime(sess.StartedAt), endedAt, nullString(sess.Model),
		sess.WorkingDirectory, nullString(sess.GitBranch), nullString(sess.SourcePath),
		sess.MessageCount, nullString(sess.MachineID)); err != nil {
		return fmt.Errorf("upserting session %s: %w", sess.ID, err)
	}

	for i := range messages {
		if err := insertMessageTx(tx, &messages[i]); err != nil {
			return err
		}
	}

	if serverTime != nil {
		if _, err := tx.Exec(`
			INSERT INTO sync_status (session_id, synced_at) VALUES (?, ?)
			ON CONFLICT(session_id) DO UPDATE SET synced_at = excluded.synced_at`,
			sess.ID.String(), formatTime(*serverTime)); err != nil {
			return fmt.Errorf("recording sync status: %w", err)
		}
	}
	return tx.Commit()
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var m model.Message
	var id, sessionID, timestamp, role, content string
	var parentID, modelName, gitBranch, cwd sql.NullString

	err := row.Scan(&id, &sessionID, &parentID, &m.Index, &timestamp, &role,
		&content, &modelName, &gitBranch, &cwd)
	if err != nil {
		return nil, err
	}

	m.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing message id %q: %w", id, err)
	}
	m.SessionID, err = uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("parsing session id %q: %w", sessionID, err)
	}
	if parentID.Valid {
		p, err := uuid.Parse(parentID.String)
		if err != nil {
			return nil, fmt.Errorf("parsing parent id %q: %w", parentID.String, err)
		}
		m.ParentID = &p
	}
	m.Timestamp, err = parseTime(timestamp)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	m.Role = model.Role(role)
	if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
		return nil, fmt.Errorf("decoding content of message %s: %w", id, err)
	}
	m.Model = modelName.String
	m.GitBranch = gitBranch.String
	m.CWD = cwd.String
	return &m, nil
}
