// Package gemini captures Gemini CLI sessions, stored as single JSON files
// at ~/.gemini/tmp/<project-hash>/chats/session-*.json.
package gemini

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/paths"
	"github.com/varalys/lore/cmd/lore/cli/watcher"
)

const watcherName = "gemini"

func init() {
	watcher.Register(watcherName, func() watcher.Watcher { return &Watcher{} })
}

// Watcher parses Gemini CLI session files.
type Watcher struct{}

func (w *Watcher) Info() watcher.Info {
	return watcher.Info{
		Name:         watcherName,
		Description:  "Gemini CLI chat sessions",
		DefaultPaths: []string{baseDir()},
	}
}

func (w *Watcher) IsAvailable() bool {
	info, err := os.Stat(baseDir())
	return err == nil && info.IsDir()
}

func (w *Watcher) FindSources() ([]string, error) {
	entries, err := os.ReadDir(baseDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading gemini directory: %w", err)
	}

	var sources []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		chats := filepath.Join(baseDir(), entry.Name(), "chats")
		files, err := os.ReadDir(chats)
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			if !f.IsDir() && strings.HasPrefix(name, "session-") && strings.HasSuffix(name, ".json") {
				sources = append(sources, filepath.Join(chats, name))
			}
		}
	}
	return sources, nil
}

func (w *Watcher) WatchPaths() []string {
	return []string{baseDir()}
}

func baseDir() string {
	return filepath.Join(paths.HomeDir(), ".gemini", "tmp")
}

type rawSession struct {
	SessionID   string       `json:"sessionId"`
	StartTime   string       `json:"startTime"`
	LastUpdated string       `json:"lastUpdated"`
	Messages    []rawMessage `json:"messages"`
}

type rawMessage struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Content   string `json:"content"`
}

func (w *Watcher) ParseSource(path string) ([]watcher.ParsedSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing session JSON: %w", err)
	}

	var startTime, lastUpdated *time.Time
	if t, ok := watcher.ParseTimestampRFC3339(raw.StartTime); ok {
		startTime = &t
	}
	if t, ok := watcher.ParseTimestampRFC3339(raw.LastUpdated); ok {
		lastUpdated = &t
	}

	sessionID := raw.SessionID
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	sessionUUID := model.DeriveUUID(sessionID)

	// The working directory is not recorded in the session file; the
	// project hash directory name is opaque.
	var msgs []model.Message
	for _, m := range raw.Messages {
		role, ok := parseGeminiRole(m.Type)
		if !ok {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}

		var ts *time.Time
		if t, ok := watcher.ParseTimestampRFC3339(m.Timestamp); ok {
			ts = &t
		} else {
			ts = startTime
		}
		id := m.ID
		if id == "" {
			id = fmt.Sprintf("%s/%d", sessionID, len(msgs))
		}
		msgs = append(msgs, model.Message{
			ID:        model.DeriveUUID(id),
			SessionID: sessionUUID,
			Index:     len(msgs),
			Timestamp: watcher.FallbackTimestamp(ts, time.Time{}),
			Role:      role,
			Content:   model.TextContent(m.Content),
		})
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	startedAt := msgs[0].Timestamp
	if startTime != nil {
		startedAt = *startTime
	}
	endedAt := msgs[len(msgs)-1].Timestamp
	if lastUpdated != nil {
		endedAt = *lastUpdated
	}

	sess := model.Session{
		ID:               sessionUUID,
		Tool:             watcherName,
		StartedAt:        startedAt,
		EndedAt:          &endedAt,
		WorkingDirectory: ".",
		SourcePath:       path,
		MessageCount:     len(msgs),
	}
	return []watcher.ParsedSession{{Session: sess, Messages: msgs}}, nil
}

// parseGeminiRole maps Gemini's message types onto canonical roles. The
// assistant role is called "gemini" in the files.
func parseGeminiRole(t string) (model.Role, bool) {
	if t == "gemini" {
		return model.RoleAssistant, true
	}
	return model.ParseRole(t)
}
