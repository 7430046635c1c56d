// Package vscodeext is a generic watcher for VS Code extensions that use
// the Cline-style task layout: one directory per task under the extension's
// globalStorage, holding api_conversation_history.json and optionally
// task_metadata.json. Cline, Roo Code and Kilo Code all share this format;
// concrete tools are thin Config records, not separate parsers.
package vscodeext

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

const historyFileName = "api_conversation_history.json"

// Config identifies one concrete extension.
type Config struct {
	// Name is the watcher/tool identifier (e.g. "cline").
	Name string
	// Description is the one-line human-readable description.
	Description string
	// ExtensionID is the VS Code extension id (e.g. "saoudrizwan.claude-dev").
	ExtensionID string
}

// Watcher parses Cline-style task directories for one extension.
type Watcher struct {
	config Config
}

// New returns a watcher for the given extension.
func New(config Config) *Watcher {
	return &Watcher{config: config}
}

func (w *Watcher) tasksDir() string {
	return filepath.Join(paths.VSCodeGlobalStorage(), w.config.ExtensionID, "tasks")
}

func (w *Watcher) Info() watcher.Info {
	return watcher.Info{
		Name:         w.config.Name,
		Description:  w.config.Description,
		DefaultPaths: []string{w.tasksDir()},
	}
}

func (w *Watcher) IsAvailable() bool {
	info, err := os.Stat(w.tasksDir())
	return err == nil && info.IsDir()
}

func (w *Watcher) FindSources() ([]string, error) {
	entries, err := os.ReadDir(w.tasksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading tasks directory: %w", err)
	}

	var sources []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		history := filepath.Join(w.tasksDir(), entry.Name(), historyFileName)
		if info, err := os.Stat(history); err == nil && !info.IsDir() {
			sources = append(sources, history)
		}
	}
	return sources, nil
}

func (w *Watcher) WatchPaths() []string {
	return []string{w.tasksDir()}
}

type rawAPIMessage struct {
	Role    string     `json:"role"`
	Content rawContent `json:"content"`
	TS      *int64     `json:"ts"`
}

// rawContent is either a plain string or an array of content blocks; only
// text blocks contribute to the captured message.
type rawContent struct {
	text string
}

func (c *rawContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.text = s
		return nil
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	c.text = strings.Join(parts, "\n")
	return nil
}

type rawMetadata struct {
	TS  json.RawMessage `json:"ts"`
	Dir string          `json:"dir"`
}

func (w *Watcher) ParseSource(path string) ([]watcher.ParsedSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading conversation history: %w", err)
	}
	var rawMessages []rawAPIMessage
	if err := json.Unmarshal(data, &rawMessages); err != nil {
		return nil, fmt.Errorf("parsing conversation JSON: %w", err)
	}
	if len(rawMessages) == 0 {
		return nil, nil
	}

	taskDir := filepath.Dir(path)
	taskID := filepath.Base(taskDir)
	sessionUUID := model.DeriveUUID(fmt.Sprintf("%s:%s", w.config.Name, taskID))

	meta := readMetadata(taskDir)

	startedAt := sessionStart(rawMessages, meta)
	var endedAt *time.Time
	if last := rawMessages[len(rawMessages)-1]; last.TS != nil {
		if t, ok := watcher.ParseTimestampMillis(*last.TS); ok {
			endedAt = &t
		}
	}

	workingDirectory := meta.Dir
	if workingDirectory == "" {
		workingDirectory = "."
	}

	var msgs []model.Message
	current := startedAt
	for _, m := range rawMessages {
		role, ok := model.ParseRole(m.Role)
		if !ok {
			continue
		}
		text := m.Content.text
		if strings.TrimSpace(text) == "" {
			continue
		}

		ts := current
		if m.TS != nil {
			if t, ok := watcher.ParseTimestampMillis(*m.TS); ok {
				ts = t
			}
		}
		msgs = append(msgs, model.Message{
			ID:        model.DeriveUUID(fmt.Sprintf("%s:%s/%d", w.config.Name, taskID, len(msgs))),
			SessionID: sessionUUID,
			Index:     len(msgs),
			Timestamp: ts,
			Role:      role,
			Content:   model.TextContent(text),
			CWD:       workingDirectory,
		})
		current = current.Add(30 * time.Second)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	sess := model.Session{
		ID:               sessionUUID,
		Tool:             w.config.Name,
		StartedAt:        startedAt,
		EndedAt:          endedAt,
		WorkingDirectory: workingDirectory,
		SourcePath:       path,
		MessageCount:     len(msgs),
	}
	return []watcher.ParsedSession{{Session: sess, Messages: msgs}}, nil
}

func readMetadata(taskDir string) rawMetadata {
	var meta rawMetadata
	data, err := os.ReadFile(filepath.Join(taskDir, "task_metadata.json"))
	if err != nil {
		return meta
	}
	_ = json.Unmarshal(data, &meta)
	return meta
}

// sessionStart prefers the first message timestamp, then the metadata
// timestamp (which may be millis or RFC3339), then now.
func sessionStart(rawMessages []rawAPIMessage, meta rawMetadata) time.Time {
	if first := rawMessages[0]; first.TS != nil {
		if t, ok := watcher.ParseTimestampMillis(*first.TS); ok {
			return t
		}
	}
	if len(meta.TS) > 0 {
		var ms int64
		if err := json.Unmarshal(meta.TS, &ms); err == nil {
			if t, ok := watcher.ParseTimestampMillis(ms); ok {
				return t
			}
		}
		var s string
		if err := json.Unmarshal(meta.TS, &s); err == nil {
			if t, ok := watcher.ParseTimestampRFC3339(s); ok {
				return t
			}
		}
	}
	return time.Now().UTC()
}
