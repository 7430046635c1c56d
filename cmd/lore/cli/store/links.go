package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

// minSHAPrefixLen is the shortest commit SHA prefix accepted by lookups.
const minSHAPrefixLen = 4

// InsertLink writes a session link.
func (s *Store) InsertLink(link *model.SessionLink) error {
	_, err := s.db.Exec(`
		INSERT INTO session_links
			(id, session_id, link_type, commit_sha, branch, remote, created_at, created_by, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID.String(), link.SessionID.String(), string(link.LinkType),
		nullString(link.CommitSHA), nullString(link.Branch), nullString(link.Remote),
		formatTime(link.CreatedAt), string(link.CreatedBy), link.Confidence)
	if err != nil {
		return fmt.Errorf("inserting link: %w", err)
	}
	return nil
}

// LinkExists reports whether the session already has a link to the commit.
// The auto-linker calls this before every insert.
func (s *Store) LinkExists(sessionID uuid.UUID, commitSHA string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM session_links WHERE session_id = ? AND commit_sha = ?",
		sessionID.String(), commitSHA).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking link: %w", err)
	}
	return n > 0, nil
}

// GetLinksBySession returns all links for a session, newest-first.
func (s *Store) GetLinksBySession(sessionID uuid.UUID) ([]model.SessionLink, error) {
	return s.queryLinks(linkSelect+" WHERE session_id = ? ORDER BY created_at DESC", sessionID.String())
}

// GetLinksByCommit returns all links whose commit SHA starts with the given
// prefix. The prefix must be at least 4 characters.
func (s *Store) GetLinksByCommit(shaPrefix string) ([]model.SessionLink, error) {
	if len(shaPrefix) < minSHAPrefixLen {
		return nil, fmt.Errorf("commit prefix %q too short (need at least %d characters)", shaPrefix, minSHAPrefixLen)
	}
	return s.queryLinks(linkSelect+" WHERE commit_sha LIKE ? || '%' ORDER BY created_at DESC", shaPrefix)
}

// DeleteLinkBySessionAndCommit removes links from one session to commits
// matching the prefix and returns how many were removed.
func (s *Store) DeleteLinkBySessionAndCommit(sessionID uuid.UUID, shaPrefix string) (int, error) {
	if len(shaPrefix) < minSHAPrefixLen {
		return 0, fmt.Errorf("commit prefix %q too short (need at least %d characters)", shaPrefix, minSHAPrefixLen)
	}
	res, err := s.db.Exec(
		"DELETE FROM session_links WHERE session_id = ? AND commit_sha LIKE ? || '%'",
		sessionID.String(), shaPrefix)
	if err != nil {
		return 0, fmt.Errorf("deleting link: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteLinksBySession removes all links for a session and returns the count.
func (s *Store) DeleteLinksBySession(sessionID uuid.UUID) (int, error) {
	res, err := s.db.Exec("DELETE FROM session_links WHERE session_id = ?", sessionID.String())
	if err != nil {
		return 0, fmt.Errorf("deleting links: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const linkSelect = `
	SELECT id, session_id, link_type, commit_sha, branch, remote, created_at, created_by, confidence
	FROM session_links`

func (s *Store) queryLinks(query string, args ...any) ([]model.SessionLink, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	var links []model.SessionLink
	for rows.Next() {
		var l model.SessionLink
		var id, sessionID, linkType, createdAt, createdBy string
		var commitSHA, branch, remote sql.NullString
		var confidence sql.NullFloat64

		if err := rows.Scan(&id, &sessionID, &linkType, &commitSHA, &branch,
			&remote, &createdAt, &createdBy, &confidence); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing link id: %w", err)
		}
		if l.SessionID, err = uuid.Parse(sessionID); err != nil {
			return nil, fmt.Errorf("parsing session id: %w", err)
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		l.LinkType = model.LinkType(linkType)
		l.CreatedBy = model.LinkCreator(createdBy)
		l.CommitSHA = commitSHA.String
		l.Branch = branch.String
		l.Remote = remote.String
		if confidence.Valid {
			c := confidence.Float64
			l.Confidence = &c
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
