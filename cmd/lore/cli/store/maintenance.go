package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Stats summarizes the database contents for `lore db stats` and doctor.
type Stats struct {
	SessionCount    int            `json:"session_count"`
	MessageCount    int            `json:"message_count"`
	LinkCount       int            `json:"link_count"`
	SyncedCount     int            `json:"synced_count"`
	EarliestSession *time.Time     `json:"earliest_session,omitempty"`
	LatestSession   *time.Time     `json:"latest_session,omitempty"`
	SessionsByTool  map[string]int `json:"sessions_by_tool"`
	DatabaseBytes   int64          `json:"database_bytes"`
}

// Stats collects row counts, the session date range and a by-tool breakdown.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{SessionsByTool: make(map[string]int)}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM sessions", &st.SessionCount},
		{"SELECT COUNT(*) FROM messages", &st.MessageCount},
		{"SELECT COUNT(*) FROM session_links", &st.LinkCount},
		{"SELECT COUNT(*) FROM sync_status", &st.SyncedCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("collecting stats: %w", err)
		}
	}

	var earliest, latest sql.NullString
	if err := s.db.QueryRow("SELECT MIN(started_at), MAX(started_at) FROM sessions").Scan(&earliest, &latest); err != nil {
		return nil, fmt.Errorf("collecting date range: %w", err)
	}
	if earliest.Valid {
		if t, err := parseTime(earliest.String); err == nil {
			st.EarliestSession = &t
		}
	}
	if latest.Valid {
		if t, err := parseTime(latest.String); err == nil {
			st.LatestSession = &t
		}
	}

	rows, err := s.db.Query("SELECT tool, COUNT(*) FROM sessions GROUP BY tool")
	if err != nil {
		return nil, fmt.Errorf("collecting tool breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tool string
		var n int
		if err := rows.Scan(&tool, &n); err != nil {
			return nil, err
		}
		st.SessionsByTool[tool] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err == nil {
			st.DatabaseBytes = pageCount * pageSize
		}
	}
	return st, nil
}

// Vacuum compacts the database file.
func (s *Store) Vacuum() error {
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuuming database: %w", err)
	}
	return nil
}

// DayCount is one day's session tally for a tool, for `lore insights`.
type DayCount struct {
	Day   string `json:"day"`
	Tool  string `json:"tool"`
	Count int    `json:"count"`
}

// SessionsPerDay aggregates session starts by day and tool since cutoff.
func (s *Store) SessionsPerDay(since time.Time) ([]DayCount, error) {
	rows, err := s.db.Query(`
		SELECT date(started_at), tool, COUNT(*)
		FROM sessions WHERE started_at >= ?
		GROUP BY date(started_at), tool
		ORDER BY date(started_at)`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("collecting insights: %w", err)
	}
	defer rows.Close()

	var days []DayCount
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Day, &d.Tool, &d.Count); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
