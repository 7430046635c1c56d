// Package claudecode captures Claude Code transcripts. Claude Code writes
// one JSONL file per session under ~/.claude/projects/<sanitized-path>/,
// one event per line.
package claudecode

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/paths"
	"github.com/varalys/lore/cmd/lore/cli/watcher"
)

const watcherName = "claude-code"

func init() {
	watcher.Register(watcherName, func() watcher.Watcher { return &Watcher{} })
}

// Watcher parses Claude Code JSONL session files.
type Watcher struct{}

func (w *Watcher) Info() watcher.Info {
	return watcher.Info{
		Name:         watcherName,
		Description:  "Claude Code CLI session transcripts",
		DefaultPaths: []string{filepath.Join(projectsDir(), "*", "*.jsonl")},
	}
}

func (w *Watcher) IsAvailable() bool {
	info, err := os.Stat(projectsDir())
	return err == nil && info.IsDir()
}

func (w *Watcher) FindSources() ([]string, error) {
	var sources []string
	entries, err := os.ReadDir(projectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading projects directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		project := filepath.Join(projectsDir(), entry.Name())
		files, err := os.ReadDir(project)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".jsonl") {
				sources = append(sources, filepath.Join(project, f.Name()))
			}
		}
	}
	return sources, nil
}

func (w *Watcher) WatchPaths() []string {
	return []string{projectsDir()}
}

func projectsDir() string {
	return filepath.Join(paths.HomeDir(), ".claude", "projects")
}

// rawLine is one JSONL event. Only user/assistant events carry messages;
// other types (file-history-snapshot, summaries) are skipped.
type rawLine struct {
	Type        string      `json:"type"`
	SessionID   string      `json:"sessionId"`
	UUID        string      `json:"uuid"`
	ParentUUID  *string     `json:"parentUuid"`
	Timestamp   string      `json:"timestamp"`
	CWD         string      `json:"cwd"`
	GitBranch   string      `json:"gitBranch"`
	Version     string      `json:"version"`
	IsSidechain bool        `json:"isSidechain"`
	Message     *rawMessage `json:"message"`
}

type rawMessage struct {
	Role    string               `json:"role"`
	Model   string               `json:"model"`
	Content model.MessageContent `json:"content"`
}

func (w *Watcher) ParseSource(path string) ([]watcher.ParsedSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening session file: %w", err)
	}
	defer f.Close()

	var (
		msgs        []parsedMessage
		sessionID   string
		toolVersion string
		cwd         string
		gitBranch   string
		modelName   string
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw rawLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			slog.Debug("skipping unparseable line", "source", path, "line", lineNum, "error", err)
			continue
		}
		if raw.Type != "user" && raw.Type != "assistant" {
			continue
		}
		// Sidechain (subagent) events live in their own files anyway.
		if raw.IsSidechain {
			continue
		}

		if sessionID == "" {
			sessionID = raw.SessionID
		}
		if toolVersion == "" {
			toolVersion = raw.Version
		}
		if cwd == "" {
			cwd = raw.CWD
		}
		if gitBranch == "" {
			gitBranch = raw.GitBranch
		}
		if raw.Message == nil {
			continue
		}
		role, ok := model.ParseRole(raw.Message.Role)
		if !ok {
			continue
		}
		if modelName == "" && role == model.RoleAssistant {
			modelName = raw.Message.Model
		}
		if raw.Message.Content.IsEmpty() {
			continue
		}

		var ts *time.Time
		if t, ok := watcher.ParseTimestampRFC3339(raw.Timestamp); ok {
			ts = &t
		}
		msgs = append(msgs, parsedMessage{
			uuid:       raw.UUID,
			parentUUID: raw.ParentUUID,
			timestamp:  ts,
			role:       role,
			content:    raw.Message.Content,
			model:      raw.Message.Model,
			gitBranch:  raw.GitBranch,
			cwd:        raw.CWD,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
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

	return []watcher.ParsedSession{assemble(sessionID, toolVersion, cwd, gitBranch, modelName, path, msgs)}, nil
}

type parsedMessage struct {
	uuid       string
	parentUUID *string
	timestamp  *time.Time
	role       model.Role
	content    model.MessageContent
	model      string
	gitBranch  string
	cwd        string
}

func assemble(sessionID, toolVersion, cwd, gitBranch, modelName, sourcePath string, msgs []parsedMessage) watcher.ParsedSession {
	sessionUUID := model.DeriveUUID(sessionID)

	startedAt := watcher.FallbackTimestamp(msgs[0].timestamp, time.Time{})
	endedAt := watcher.FallbackTimestamp(msgs[len(msgs)-1].timestamp, startedAt)

	sess := model.Session{
		ID:               sessionUUID,
		Tool:             watcherName,
		ToolVersion:      toolVersion,
		StartedAt:        startedAt,
		EndedAt:          &endedAt,
		Model:            modelName,
		WorkingDirectory: cwd,
		GitBranch:        gitBranch,
		SourcePath:       sourcePath,
		MessageCount:     len(msgs),
	}

	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		msg := model.Message{
			ID:        model.DeriveUUID(m.uuid),
			SessionID: sessionUUID,
			Index:     i,
			Timestamp: watcher.FallbackTimestamp(m.timestamp, startedAt),
			Role:      m.role,
			Content:   m.content,
			Model:     m.model,
			GitBranch: m.gitBranch,
			CWD:       m.cwd,
		}
		if m.parentUUID != nil && *m.parentUUID != "" {
			p := model.DeriveUUID(*m.parentUUID)
			msg.ParentID = &p
		}
		out[i] = msg
	}
	return watcher.ParsedSession{Session: sess, Messages: out}
}
