// Package amp captures Amp CLI threads, stored as single JSON files at
// ~/.local/share/amp/threads/T-*.json.
package amp

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

const watcherName = "amp"

func init() {
	watcher.Register(watcherName, func() watcher.Watcher { return &Watcher{} })
}

// Watcher parses Amp thread files.
type Watcher struct{}

func (w *Watcher) Info() watcher.Info {
	return watcher.Info{
		Name:         watcherName,
		Description:  "Amp CLI threads (Sourcegraph)",
		DefaultPaths: []string{threadsDir()},
	}
}

func (w *Watcher) IsAvailable() bool {
	info, err := os.Stat(threadsDir())
	return err == nil && info.IsDir()
}

func (w *Watcher) FindSources() ([]string, error) {
	entries, err := os.ReadDir(threadsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading threads directory: %w", err)
	}

	var sources []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "T-") && strings.HasSuffix(name, ".json") {
			sources = append(sources, filepath.Join(threadsDir(), name))
		}
	}
	return sources, nil
}

func (w *Watcher) WatchPaths() []string {
	return []string{threadsDir()}
}

func threadsDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "amp", "threads")
	}
	return filepath.Join(paths.HomeDir(), ".local", "share", "amp", "threads")
}

type rawThread struct {
	ID       string       `json:"id"`
	Created  int64        `json:"created"`
	Messages []rawMessage `json:"messages"`
	Env      *struct {
		Initial *struct {
			Trees []struct {
				URI        string `json:"uri"`
				Repository *struct {
					Ref string `json:"ref"`
				} `json:"repository"`
			} `json:"trees"`
		} `json:"initial"`
	} `json:"env"`
}

type rawMessage struct {
	Role    string `json:"role"`
	Content []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"content"`
	Meta *struct {
		SentAt *int64 `json:"sentAt"`
	} `json:"meta"`
	Usage *struct {
		Model string `json:"model"`
	} `json:"usage"`
}

func (w *Watcher) ParseSource(path string) ([]watcher.ParsedSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading thread file: %w", err)
	}
	var raw rawThread
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing thread JSON: %w", err)
	}

	sessionID := strings.TrimPrefix(raw.ID, "T-")
	sessionUUID := model.DeriveUUID(sessionID)

	var createdAt *time.Time
	if t, ok := watcher.ParseTimestampMillis(raw.Created); ok {
		createdAt = &t
	}

	workingDirectory := "."
	gitBranch := ""
	if raw.Env != nil && raw.Env.Initial != nil && len(raw.Env.Initial.Trees) > 0 {
		tree := raw.Env.Initial.Trees[0]
		if uri, found := strings.CutPrefix(tree.URI, "file://"); found {
			workingDirectory = uri
		}
		if tree.Repository != nil {
			gitBranch = strings.TrimPrefix(tree.Repository.Ref, "refs/heads/")
		}
	}

	var modelName string
	var msgs []model.Message
	for _, m := range raw.Messages {
		role, ok := model.ParseRole(m.Role)
		if !ok {
			continue
		}

		var blocks []model.ContentBlock
		var textParts []string
		hasThinking := false
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				textParts = append(textParts, b.Text)
				blocks = append(blocks, model.TextBlock(b.Text))
			case "thinking":
				hasThinking = true
				blocks = append(blocks, model.ThinkingBlock(b.Thinking))
			}
		}
		if len(textParts) == 0 && !hasThinking {
			continue
		}
		if modelName == "" && role == model.RoleAssistant && m.Usage != nil {
			modelName = m.Usage.Model
		}

		var content model.MessageContent
		if hasThinking || len(blocks) > 1 {
			content = model.BlockContent(blocks)
		} else {
			content = model.TextContent(strings.Join(textParts, "\n"))
		}

		ts := createdAt
		if m.Meta != nil && m.Meta.SentAt != nil {
			if t, ok := watcher.ParseTimestampMillis(*m.Meta.SentAt); ok {
				ts = &t
			}
		}
		msgModel := ""
		if m.Usage != nil {
			msgModel = m.Usage.Model
		}
		msgs = append(msgs, model.Message{
			ID:        model.DeriveUUID(fmt.Sprintf("%s/%d", sessionID, len(msgs))),
			SessionID: sessionUUID,
			Index:     len(msgs),
			Timestamp: watcher.FallbackTimestamp(ts, time.Time{}),
			Role:      role,
			Content:   content,
			Model:     msgModel,
			GitBranch: gitBranch,
			CWD:       workingDirectory,
		})
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	startedAt := msgs[0].Timestamp
	if createdAt != nil {
		startedAt = *createdAt
	}
	endedAt := msgs[len(msgs)-1].Timestamp

	sess := model.Session{
		ID:               sessionUUID,
		Tool:             watcherName,
		StartedAt:        startedAt,
		EndedAt:          &endedAt,
		Model:            modelName,
		WorkingDirectory: workingDirectory,
		GitBranch:        gitBranch,
		SourcePath:       path,
		MessageCount:     len(msgs),
	}
	return []watcher.ParsedSession{{Session: sess, Messages: msgs}}, nil
}
