package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

// AddTag labels a session. Tagging twice with the same label is a no-op.
func (s *Store) AddTag(sessionID uuid.UUID, label string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO tags (id, session_id, label, created_at)
		VALUES (?, ?, ?, ?)`,
		uuid.NewString(), sessionID.String(), label, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("adding tag: %w", err)
	}
	return nil
}

// RemoveTag deletes one label from a session. Returns ErrNotFound when the
// session did not carry the label.
func (s *Store) RemoveTag(sessionID uuid.UUID, label string) error {
	res, err := s.db.Exec(
		"DELETE FROM tags WHERE session_id = ? AND label = ?",
		sessionID.String(), label)
	if err != nil {
		return fmt.Errorf("removing tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tag %q: %w", label, ErrNotFound)
	}
	return nil
}

// GetTags returns a session's labels in creation order.
func (s *Store) GetTags(sessionID uuid.UUID) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT label FROM tags WHERE session_id = ? ORDER BY created_at",
		sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// ListTagLabels returns every distinct label with its session count.
func (s *Store) ListTagLabels() (map[string]int, error) {
	rows, err := s.db.Query("SELECT label, COUNT(*) FROM tags GROUP BY label")
	if err != nil {
		return nil, fmt.Errorf("querying labels: %w", err)
	}
	defer rows.Close()

	labels := make(map[string]int)
	for rows.Next() {
		var l string
		var n int
		if err := rows.Scan(&l, &n); err != nil {
			return nil, err
		}
		labels[l] = n
	}
	return labels, rows.Err()
}

// UpsertSummary stores the session's summary, replacing any previous one.
// Each session has at most one summary.
func (s *Store) UpsertSummary(sessionID uuid.UUID, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO summaries (id, session_id, content, generated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			content = excluded.content,
			generated_at = excluded.generated_at`,
		uuid.NewString(), sessionID.String(), content, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	return nil
}

// GetSummary returns the session's summary, or ErrNotFound.
func (s *Store) GetSummary(sessionID uuid.UUID) (*model.Summary, error) {
	var sum model.Summary
	var id, generatedAt string
	err := s.db.QueryRow(
		"SELECT id, content, generated_at FROM summaries WHERE session_id = ?",
		sessionID.String()).Scan(&id, &sum.Content, &generatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	if sum.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing summary id: %w", err)
	}
	if sum.GeneratedAt, err = parseTime(generatedAt); err != nil {
		return nil, fmt.Errorf("parsing generated_at: %w", err)
	}
	sum.SessionID = sessionID
	return &sum, nil
}

// AddAnnotation appends a note to a session.
func (s *Store) AddAnnotation(sessionID uuid.UUID, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO annotations (id, session_id, content, created_at)
		VALUES (?, ?, ?, ?)`,
		uuid.NewString(), sessionID.String(), content, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("adding annotation: %w", err)
	}
	return nil
}

// GetAnnotations returns a session's notes in creation order.
func (s *Store) GetAnnotations(sessionID uuid.UUID) ([]model.Annotation, error) {
	rows, err := s.db.Query(
		"SELECT id, content, created_at FROM annotations WHERE session_id = ? ORDER BY created_at",
		sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("querying annotations: %w", err)
	}
	defer rows.Close()

	var notes []model.Annotation
	for rows.Next() {
		var a model.Annotation
		var id, createdAt string
		if err := rows.Scan(&id, &a.Content, &createdAt); err != nil {
			return nil, err
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing annotation id: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		a.SessionID = sessionID
		notes = append(notes, a)
	}
	return notes, rows.Err()
}
