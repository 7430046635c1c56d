// Package codex captures OpenAI Codex CLI sessions. Codex writes JSONL
// rollout files under ~/.codex/sessions/YYYY/MM/DD/, mixing session_meta
// and response_item events in one stream.
package codex

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/paths"
	"github.com/varalys/lore/cmd/lore/cli/watcher"
)

const watcherName = "codex"

func init() {
	watcher.Register(watcherName, func() watcher.Watcher { return &Watcher{} })
}

// Watcher parses Codex CLI rollout files.
type Watcher struct{}

func (w *Watcher) Info() watcher.Info {
	return watcher.Info{
		Name:         watcherName,
		Description:  "OpenAI Codex CLI session rollouts",
		DefaultPaths: []string{sessionsDir()},
	}
}

func (w *Watcher) IsAvailable() bool {
	info, err := os.Stat(sessionsDir())
	return err == nil && info.IsDir()
}

func (w *Watcher) FindSources() ([]string, error) {
	root := sessionsDir()
	var sources []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable subtrees are skipped
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			sources = append(sources, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning sessions directory: %w", err)
	}
	return sources, nil
}

func (w *Watcher) WatchPaths() []string {
	return []string{sessionsDir()}
}

func sessionsDir() string {
	return filepath.Join(paths.HomeDir(), ".codex", "sessions")
}

type rawEntry struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type rawSessionMeta struct {
	ID            string `json:"id"`
	CWD           string `json:"cwd"`
	CLIVersion    string `json:"cli_version"`
	ModelProvider string `json:"model_provider"`
	Git           *struct {
		Branch string `json:"branch"`
	} `json:"git"`
}

type rawResponseItem struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (w *Watcher) ParseSource(path string) ([]watcher.ParsedSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rollout file: %w", err)
	}
	defer f.Close()

	var (
		sessionID     string
		cliVersion    string
		cwd           string
		gitBranch     string
		modelProvider string
	)
	type parsedMessage struct {
		timestamp *time.Time
		role      model.Role
		text      string
	}
	var msgs []parsedMessage

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry rawEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Debug("skipping unparseable line", "source", path, "line", lineNum, "error", err)
			continue
		}

		switch entry.Type {
		case "session_meta":
			var meta rawSessionMeta
			if err := json.Unmarshal(entry.Payload, &meta); err != nil {
				slog.Debug("skipping bad session_meta", "source", path, "line", lineNum, "error", err)
				continue
			}
			if sessionID == "" {
				sessionID = meta.ID
			}
			if cliVersion == "" {
				cliVersion = meta.CLIVersion
			}
			if cwd == "" {
				cwd = meta.CWD
			}
			if modelProvider == "" {
				modelProvider = meta.ModelProvider
			}
			if gitBranch == "" && meta.Git != nil {
				gitBranch = meta.Git.Branch
			}
		case "response_item":
			var item rawResponseItem
			if err := json.Unmarshal(entry.Payload, &item); err != nil {
				slog.Debug("skipping bad response_item", "source", path, "line", lineNum, "error", err)
				continue
			}
			if item.Type != "message" {
				continue
			}
			role, ok := model.ParseRole(item.Role)
			if !ok {
				continue
			}

			var parts []string
			for _, c := range item.Content {
				if (c.Type == "input_text" || c.Type == "text" || c.Type == "output_text") && c.Text != "" {
					parts = append(parts, c.Text)
				}
			}
			text := strings.Join(parts, "\n")
			if strings.TrimSpace(text) == "" {
				continue
			}

			var ts *time.Time
			if t, ok := watcher.ParseTimestampRFC3339(entry.Timestamp); ok {
				ts = &t
			}
			msgs = append(msgs, parsedMessage{timestamp: ts, role: role, text: text})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading rollout file: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if cwd == "" {
		cwd = "."
	}

	sessionUUID := model.DeriveUUID(sessionID)
	startedAt := watcher.FallbackTimestamp(msgs[0].timestamp, time.Time{})
	endedAt := watcher.FallbackTimestamp(msgs[len(msgs)-1].timestamp, startedAt)

	sess := model.Session{
		ID:               sessionUUID,
		Tool:             watcherName,
		ToolVersion:      cliVersion,
		StartedAt:        startedAt,
		EndedAt:          &endedAt,
		Model:            modelProvider,
		WorkingDirectory: cwd,
		GitBranch:        gitBranch,
		SourcePath:       path,
		MessageCount:     len(msgs),
	}

	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = model.Message{
			ID:        model.DeriveUUID(fmt.Sprintf("%s/%d", sessionID, i)),
			SessionID: sessionUUID,
			Index:     i,
			Timestamp: watcher.FallbackTimestamp(m.timestamp, startedAt),
			Role:      m.role,
			Content:   model.TextContent(m.text),
			Model:     modelProvider,
			GitBranch: gitBranch,
			CWD:       cwd,
		}
	}
	return []watcher.ParsedSession{{Session: sess, Messages: out}}, nil
}
