// Package opencode captures OpenCode sessions. OpenCode splits a session
// across many files under ~/.local/share/opencode/storage/: session metadata
// in session/<project>/ses_*.json, each message in message/<session-id>/,
// and each content part in part/<message-id>/. The watcher joins them back
// together: messages ordered by timestamp, parts ordered by part id.
package opencode

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/paths"
	"github.com/varalys/lore/cmd/lore/cli/watcher"
)

const watcherName = "opencode"

func init() {
	watcher.Register(watcherName, func() watcher.Watcher { return &Watcher{} })
}

// Watcher parses OpenCode multi-file session storage.
type Watcher struct{}

func (w *Watcher) Info() watcher.Info {
	return watcher.Info{
		Name:         watcherName,
		Description:  "OpenCode terminal agent sessions",
		DefaultPaths: []string{storageDir()},
	}
}

func (w *Watcher) IsAvailable() bool {
	info, err := os.Stat(filepath.Join(storageDir(), "session"))
	return err == nil && info.IsDir()
}

func (w *Watcher) FindSources() ([]string, error) {
	sessionDir := filepath.Join(storageDir(), "session")
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session directory: %w", err)
	}

	var sources []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		project := filepath.Join(sessionDir, entry.Name())
		files, err := os.ReadDir(project)
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			if !f.IsDir() && strings.HasPrefix(name, "ses_") && strings.HasSuffix(name, ".json") {
				sources = append(sources, filepath.Join(project, name))
			}
		}
	}
	return sources, nil
}

func (w *Watcher) WatchPaths() []string {
	return []string{filepath.Join(storageDir(), "session")}
}

func storageDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "opencode", "storage")
	}
	return filepath.Join(paths.HomeDir(), ".local", "share", "opencode", "storage")
}

type rawSession struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	Directory string `json:"directory"`
	Time      *struct {
		Created int64  `json:"created"`
		Updated *int64 `json:"updated"`
	} `json:"time"`
}

type rawMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	ModelID string `json:"modelID"`
	Model   *struct {
		ModelID string `json:"modelID"`
	} `json:"model"`
	Time *struct {
		Created int64 `json:"created"`
	} `json:"time"`
}

type rawPart struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Text  string `json:"text"`
	Tool  string `json:"tool"`
	State *struct {
		Status string `json:"status"`
	} `json:"state"`
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

	// storage/session/<project>/<file>.json -> storage/
	storage := filepath.Dir(filepath.Dir(filepath.Dir(path)))

	var createdAt, updatedAt *time.Time
	if raw.Time != nil {
		if t, ok := watcher.ParseTimestampMillis(raw.Time.Created); ok {
			createdAt = &t
		}
		if raw.Time.Updated != nil {
			if t, ok := watcher.ParseTimestampMillis(*raw.Time.Updated); ok {
				updatedAt = &t
			}
		}
	}

	parsed, err := loadMessages(storage, raw.ID)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, nil
	}

	sessionUUID := model.DeriveUUID(raw.ID)
	startedAt := watcher.FallbackTimestamp(createdAt, parsed[0].timestamp)
	endedAt := watcher.FallbackTimestamp(updatedAt, parsed[len(parsed)-1].timestamp)

	var modelName string
	for _, m := range parsed {
		if m.role == model.RoleAssistant && m.model != "" {
			modelName = m.model
			break
		}
	}
	workingDirectory := raw.Directory
	if workingDirectory == "" {
		workingDirectory = "."
	}

	sess := model.Session{
		ID:               sessionUUID,
		Tool:             watcherName,
		ToolVersion:      raw.Version,
		StartedAt:        startedAt,
		EndedAt:          &endedAt,
		Model:            modelName,
		WorkingDirectory: workingDirectory,
		SourcePath:       path,
		MessageCount:     len(parsed),
	}

	msgs := make([]model.Message, len(parsed))
	for i, m := range parsed {
		msgs[i] = model.Message{
			ID:        model.DeriveUUID(m.id),
			SessionID: sessionUUID,
			Index:     i,
			Timestamp: m.timestamp,
			Role:      m.role,
			Content:   model.TextContent(m.content),
			Model:     m.model,
			CWD:       workingDirectory,
		}
	}
	return []watcher.ParsedSession{{Session: sess, Messages: msgs}}, nil
}

type parsedMessage struct {
	id        string
	timestamp time.Time
	role      model.Role
	content   string
	model     string
}

func loadMessages(storage, sessionID string) ([]parsedMessage, error) {
	messageDir := filepath.Join(storage, "message", sessionID)
	entries, err := os.ReadDir(messageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading message directory: %w", err)
	}

	var msgs []parsedMessage
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "msg_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		m, err := parseMessageFile(filepath.Join(messageDir, name), storage)
		if err != nil {
			slog.Debug("skipping bad message file", "file", name, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].timestamp.Before(msgs[j].timestamp) })

	// Drop empty messages after part assembly.
	kept := msgs[:0]
	for _, m := range msgs {
		if strings.TrimSpace(m.content) != "" {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

func parseMessageFile(path, storage string) (parsedMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return parsedMessage{}, err
	}
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return parsedMessage{}, err
	}

	role, ok := model.ParseRole(raw.Role)
	if !ok {
		// Skipped, not coerced: a mislabeled message is worse than a
		// missing one.
		return parsedMessage{}, fmt.Errorf("unknown role %q", raw.Role)
	}
	var ts *time.Time
	if raw.Time != nil {
		if t, tok := watcher.ParseTimestampMillis(raw.Time.Created); tok {
			ts = &t
		}
	}
	modelName := raw.ModelID
	if modelName == "" && raw.Model != nil {
		modelName = raw.Model.ModelID
	}

	content, err := loadParts(storage, raw.ID)
	if err != nil {
		return parsedMessage{}, err
	}
	return parsedMessage{
		id:        raw.ID,
		timestamp: watcher.FallbackTimestamp(ts, time.Time{}),
		role:      role,
		content:   content,
		model:     modelName,
	}, nil
}

// loadParts joins a message's content parts in part-id order. Tool parts
// collapse to a short marker; other part types are ignored.
func loadParts(storage, messageID string) (string, error) {
	partDir := filepath.Join(storage, "part", messageID)
	entries, err := os.ReadDir(partDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading part directory: %w", err)
	}

	type part struct {
		id   string
		text string
	}
	var parts []part
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "prt_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(partDir, name))
		if err != nil {
			continue
		}
		var raw rawPart
		if err := json.Unmarshal(data, &raw); err != nil {
			slog.Debug("skipping bad part file", "file", name, "error", err)
			continue
		}

		var text string
		switch raw.Type {
		case "text":
			text = raw.Text
		case "tool":
			tool := raw.Tool
			if tool == "" {
				tool = "unknown"
			}
			status := "unknown"
			if raw.State != nil && raw.State.Status != "" {
				status = raw.State.Status
			}
			text = fmt.Sprintf("[tool: %s (%s)]", tool, status)
		default:
			continue
		}
		parts = append(parts, part{id: raw.ID, text: text})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].id < parts[j].id })

	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		texts = append(texts, p.text)
	}
	return strings.Join(texts, "\n"), nil
}
