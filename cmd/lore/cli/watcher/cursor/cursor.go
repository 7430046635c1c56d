// Package cursor captures Cursor AI chat history. Cursor keeps per-workspace
// SQLite databases (state.vscdb) whose ItemTable holds chat JSON under keys
// matching 'workbench.panel.aichat%'. The JSON shape drifts between Cursor
// versions, so every field is optional.
package cursor

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/paths"
	"github.com/varalys/lore/cmd/lore/cli/watcher"
)

const watcherName = "cursor"

func init() {
	watcher.Register(watcherName, func() watcher.Watcher { return &Watcher{} })
}

// Watcher parses Cursor workspace databases.
type Watcher struct{}

func (w *Watcher) Info() watcher.Info {
	return watcher.Info{
		Name:         watcherName,
		Description:  "Cursor editor AI chat history",
		DefaultPaths: []string{storageDir()},
	}
}

func (w *Watcher) IsAvailable() bool {
	info, err := os.Stat(storageDir())
	return err == nil && info.IsDir()
}

func (w *Watcher) FindSources() ([]string, error) {
	entries, err := os.ReadDir(storageDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading workspace storage: %w", err)
	}

	var sources []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		db := filepath.Join(storageDir(), entry.Name(), "state.vscdb")
		if info, err := os.Stat(db); err == nil && !info.IsDir() {
			sources = append(sources, db)
		}
	}
	return sources, nil
}

func (w *Watcher) WatchPaths() []string {
	return []string{storageDir()}
}

func storageDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(paths.HomeDir(), "Library", "Application Support", "Cursor", "User", "workspaceStorage")
	case "windows":
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "Cursor", "User", "workspaceStorage")
		}
	}
	if cfg, err := os.UserConfigDir(); err == nil {
		return filepath.Join(cfg, "Cursor", "User", "workspaceStorage")
	}
	return filepath.Join(paths.HomeDir(), ".config", "Cursor", "User", "workspaceStorage")
}

type rawConversation struct {
	ID            string       `json:"id"`
	Messages      []rawMessage `json:"messages"`
	CreatedAt     *int64       `json:"createdAt"`
	UpdatedAt     *int64       `json:"updatedAt"`
	WorkspacePath string       `json:"workspacePath"`
}

type rawMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp *int64 `json:"timestamp"`
	CreatedAt *int64 `json:"createdAt"`
}

func (w *Watcher) ParseSource(path string) ([]watcher.ParsedSession, error) {
	// Read-only so a running Cursor instance is never disturbed.
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=2000")
	if err != nil {
		return nil, fmt.Errorf("opening cursor database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT key, value FROM ItemTable WHERE key LIKE 'workbench.panel.aichat%'")
	if err != nil {
		return nil, fmt.Errorf("querying chat data: %w", err)
	}
	defer rows.Close()

	var sessions []watcher.ParsedSession
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		ps, ok := parseConversation(value, path)
		if !ok {
			slog.Debug("skipping non-conversation entry", "source", path, "key", key)
			continue
		}
		sessions = append(sessions, ps)
	}
	return sessions, rows.Err()
}

// parseConversation decodes one ItemTable value. Some Cursor versions store
// a single conversation object, others an array; both are accepted.
func parseConversation(value, sourcePath string) (watcher.ParsedSession, bool) {
	var conv rawConversation
	if err := json.Unmarshal([]byte(value), &conv); err != nil {
		var convs []rawConversation
		if err := json.Unmarshal([]byte(value), &convs); err != nil || len(convs) == 0 {
			return watcher.ParsedSession{}, false
		}
		conv = convs[0]
	}
	if len(conv.Messages) == 0 {
		return watcher.ParsedSession{}, false
	}

	sessionID := conv.ID
	if sessionID == "" {
		sessionID = fmt.Sprintf("cursor:%s", sourcePath)
	}
	sessionUUID := model.DeriveUUID(sessionID)

	startedAt := conversationStart(&conv)
	var endedAt *time.Time
	if conv.UpdatedAt != nil {
		if t, ok := watcher.ParseTimestampMillis(*conv.UpdatedAt); ok {
			endedAt = &t
		}
	}
	if endedAt == nil {
		if last := conv.Messages[len(conv.Messages)-1]; last.Timestamp != nil || last.CreatedAt != nil {
			if t, ok := messageTime(last); ok {
				endedAt = &t
			}
		}
	}

	workingDirectory := conv.WorkspacePath
	if workingDirectory == "" {
		workingDirectory = "."
	}

	var msgs []model.Message
	for _, m := range conv.Messages {
		role, ok := model.ParseRole(m.Role)
		if !ok || m.Content == "" {
			continue
		}
		ts := startedAt
		if t, ok := messageTime(m); ok {
			ts = t
		}
		id := m.ID
		if id == "" {
			id = fmt.Sprintf("%s/%d", sessionID, len(msgs))
		}
		msgs = append(msgs, model.Message{
			ID:        model.DeriveUUID(id),
			SessionID: sessionUUID,
			Index:     len(msgs),
			Timestamp: ts,
			Role:      role,
			Content:   model.TextContent(m.Content),
		})
	}
	if len(msgs) == 0 {
		return watcher.ParsedSession{}, false
	}

	sess := model.Session{
		ID:               sessionUUID,
		Tool:             watcherName,
		StartedAt:        startedAt,
		EndedAt:          endedAt,
		WorkingDirectory: workingDirectory,
		SourcePath:       sourcePath,
		MessageCount:     len(msgs),
	}
	return watcher.ParsedSession{Session: sess, Messages: msgs}, true
}

func conversationStart(conv *rawConversation) time.Time {
	if conv.CreatedAt != nil {
		if t, ok := watcher.ParseTimestampMillis(*conv.CreatedAt); ok {
			return t
		}
	}
	if len(conv.Messages) > 0 {
		if t, ok := messageTime(conv.Messages[0]); ok {
			return t
		}
	}
	return time.Now().UTC()
}

func messageTime(m rawMessage) (time.Time, bool) {
	if m.Timestamp != nil {
		if t, ok := watcher.ParseTimestampMillis(*m.Timestamp); ok {
			return t, true
		}
	}
	if m.CreatedAt != nil {
		if t, ok := watcher.ParseTimestampMillis(*m.CreatedAt); ok {
			return t, true
		}
	}
	return time.Time{}, false
}
