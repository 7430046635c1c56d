package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

// GetUnsyncedSessions returns sessions with no sync record, oldest-first,
// so pushes upload history in roughly chronological order.
func (s *Store) GetUnsyncedSessions() ([]model.Session, error) {
	return s.querySessions(sessionSelect + `
		WHERE id NOT IN (SELECT session_id FROM sync_status)
		ORDER BY started_at`)
}

// MarkSessionsSynced records serverTime as the sync time for all given
// sessions in one transaction. Either every session is marked or none is.
func (s *Store) MarkSessionsSynced(ids []uuid.UUID, serverTime time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning sync update: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.Exec(`
			INSERT INTO sync_status (session_id, synced_at) VALUES (?, ?)
			ON CONFLICT(session_id) DO UPDATE SET synced_at = excluded.synced_at`,
			id.String(), formatTime(serverTime)); err != nil {
			return fmt.Errorf("marking session %s synced: %w", id, err)
		}
	}
	return tx.Commit()
}

// ClearSyncStatus forgets all sync bookkeeping, so every session is pushed
// again on the next sync.
func (s *Store) ClearSyncStatus() (int, error) {
	res, err := s.db.Exec("DELETE FROM sync_status")
	if err != nil {
		return 0, fmt.Errorf("clearing sync status: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearSyncStatusForSessions forgets sync bookkeeping for specific sessions.
func (s *Store) ClearSyncStatusForSessions(ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning sync reset: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, id := range ids {
		res, err := tx.Exec("DELETE FROM sync_status WHERE session_id = ?", id.String())
		if err != nil {
			return 0, fmt.Errorf("resetting session %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return int(total), tx.Commit()
}

// LastSyncTime returns the most recent recorded sync time, or nil when
// nothing has ever synced. Pull uses it as the since cursor.
func (s *Store) LastSyncTime() (*time.Time, error) {
	var synced sql.NullString
	err := s.db.QueryRow("SELECT MAX(synced_at) FROM sync_status").Scan(&synced)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !synced.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last sync time: %w", err)
	}
	t, err := parseTime(synced.String)
	if err != nil {
		return nil, fmt.Errorf("parsing last sync time: %w", err)
	}
	return &t, nil
}

// UpsertMachine records or renames a machine.
func (s *Store) UpsertMachine(id, name string) error {
	_, err := s.db.Exec(`
		INSERT INTO machines (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`, id, name)
	if err != nil {
		return fmt.Errorf("saving machine: %w", err)
	}
	return nil
}

// MachineName resolves a machine id to its display name, falling back to a
// truncated id when the machine was never named.
func (s *Store) MachineName(id string) (string, error) {
	var name string
	err := s.db.QueryRow("SELECT name FROM machines WHERE id = ?", id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		if len(id) > 8 {
			return id[:8], nil
		}
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("querying machine: %w", err)
	}
	return name, nil
}

// ListMachines returns all known machines.
func (s *Store) ListMachines() ([]model.Machine, error) {
	rows, err := s.db.Query("SELECT id, name, created_at FROM machines ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("querying machines: %w", err)
	}
	defer rows.Close()

	var machines []model.Machine
	for rows.Next() {
		var m model.Machine
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Name, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			// datetime('now') default rows use a space separator.
			if t, err2 := time.Parse("2006-01-02 15:04:05", createdAt); err2 == nil {
				m.CreatedAt = t
			}
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}
