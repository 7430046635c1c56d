package store

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

// SearchMessages runs an FTS5 MATCH over message text, relevance-ranked,
// with optional session-level filters applied via a join.
func (s *Store) SearchMessages(query string, opts model.SearchOptions) ([]model.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	sql := `
		SELECT m.id, m.session_id, m.idx, m.timestamp, m.role,
			snippet(messages_fts, 2, '>>', '<<', '...', 20),
			s.working_directory, s.tool, s.git_branch
		FROM messages_fts f
		JOIN messages m ON m.id = f.message_id
		JOIN sessions s ON s.id = m.session_id
		WHERE messages_fts MATCH ?`
	args := []any{query}

	if opts.RepoPrefix != "" {
		sql += " AND s.working_directory LIKE ? || '%'"
		args = append(args, opts.RepoPrefix)
	}
	if opts.Tool != "" {
		sql += " AND s.tool = ?"
		args = append(args, opts.Tool)
	}
	if opts.Role != "" {
		sql += " AND m.role = ?"
		args = append(args, string(opts.Role))
	}
	if opts.Since != nil {
		sql += " AND m.timestamp >= ?"
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		sql += " AND m.timestamp <= ?"
		args = append(args, formatTime(*opts.Until))
	}
	sql += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		var msgID, sessID, timestamp, role string
		var gitBranch nullableString
		if err := rows.Scan(&msgID, &sessID, &r.MessageIndex, &timestamp, &role,
			&r.Snippet, &r.WorkingDirectory, &r.Tool, &gitBranch); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if r.MessageID, err = uuid.Parse(msgID); err != nil {
			return nil, fmt.Errorf("parsing message id: %w", err)
		}
		if r.SessionID, err = uuid.Parse(sessID); err != nil {
			return nil, fmt.Errorf("parsing session id: %w", err)
		}
		if r.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		r.Role = model.Role(role)
		r.GitBranch = string(gitBranch)
		results = append(results, r)
	}
	return results, rows.Err()
}

// SearchIndexNeedsRebuild reports whether indexed messages exist with no FTS
// rows at all. That state means the database predates the index (or the
// index was dropped) and a rebuild is required before searching.
func (s *Store) SearchIndexNeedsRebuild() (bool, error) {
	var messages, indexed int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&messages); err != nil {
		return false, fmt.Errorf("counting messages: %w", err)
	}
	if messages == 0 {
		return false, nil
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM messages_fts").Scan(&indexed); err != nil {
		return false, fmt.Errorf("counting index rows: %w", err)
	}
	return indexed == 0, nil
}

// EnsureSearchIndex rebuilds the FTS index when it is missing its rows.
// Search entry points call this once per process so a database that predates
// the index starts returning results again instead of silently matching
// nothing.
func (s *Store) EnsureSearchIndex() error {
	rebuild, err := s.SearchIndexNeedsRebuild()
	if err != nil {
		return err
	}
	if !rebuild {
		return nil
	}
	slog.Info("search index out of sync, rebuilding")
	return s.RebuildSearchIndex()
}

// RebuildSearchIndex clears and refills the FTS index from the messages
// table in one transaction. Safe to run at any time; the result is the same
// no matter how stale the index was.
func (s *Store) RebuildSearchIndex() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages_fts"); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}

	rows, err := tx.Query("SELECT id, session_id, content FROM messages")
	if err != nil {
		return fmt.Errorf("reading messages: %w", err)
	}
	type ftsRow struct {
		messageID, sessionID, text string
	}
	var pending []ftsRow
	for rows.Next() {
		var id, sessionID, content string
		if err := rows.Scan(&id, &sessionID, &content); err != nil {
			rows.Close()
			return fmt.Errorf("scanning message: %w", err)
		}
		var mc model.MessageContent
		if err := mc.UnmarshalJSON([]byte(content)); err != nil {
			continue
		}
		if text := mc.PlainText(); text != "" {
			pending = append(pending, ftsRow{id, sessionID, text})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range pending {
		if _, err := tx.Exec(
			"INSERT INTO messages_fts (message_id, session_id, content) VALUES (?, ?, ?)",
			r.messageID, r.sessionID, r.text); err != nil {
			return fmt.Errorf("indexing message %s: %w", r.messageID, err)
		}
	}
	return tx.Commit()
}

// nullableString scans NULL as "".
type nullableString string

func (n *nullableString) Scan(v any) error {
	switch s := v.(type) {
	case nil:
		*n = ""
	case string:
		*n = nullableString(s)
	case []byte:
		*n = nullableString(s)
	default:
		return fmt.Errorf("unexpected type %T", v)
	}
	return nil
}
