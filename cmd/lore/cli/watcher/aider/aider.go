// Package aider captures Aider chat history. Aider appends markdown to
// .aider.chat.history.md in the project directory: #### headings are user
// turns, blockquotes are tool output, plain text is the assistant.
package aider

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/paths"
	"github.com/varalys/lore/cmd/lore/cli/watcher"
)

const (
	watcherName = "aider"
	historyName = ".aider.chat.history.md"
)

// projectDirNames are common places for checkouts under the home directory.
// Aider history can live in any project, so discovery is best effort.
var projectDirNames = []string{"projects", "code", "src", "dev", "workspace", "repos"}

func init() {
	watcher.Register(watcherName, func() watcher.Watcher { return &Watcher{} })
}

// Watcher parses Aider markdown chat history files.
type Watcher struct{}

func (w *Watcher) Info() watcher.Info {
	return watcher.Info{
		Name:         watcherName,
		Description:  "Aider markdown chat history",
		DefaultPaths: []string{filepath.Join(paths.HomeDir(), historyName)},
	}
}

func (w *Watcher) IsAvailable() bool {
	// Aider leaves history next to projects, not in a fixed directory;
	// presence is decided by whether discovery finds anything.
	sources, err := w.FindSources()
	return err == nil && len(sources) > 0
}

func (w *Watcher) FindSources() ([]string, error) {
	home := paths.HomeDir()
	var sources []string

	if p := filepath.Join(home, historyName); fileExists(p) {
		sources = append(sources, p)
	}
	for _, dirName := range projectDirNames {
		dir := filepath.Join(home, dirName)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || watcher.SkipDir(entry.Name()) {
				continue
			}
			if p := filepath.Join(dir, entry.Name(), historyName); fileExists(p) {
				sources = append(sources, p)
			}
		}
	}
	return sources, nil
}

func (w *Watcher) WatchPaths() []string {
	var dirs []string
	sources, _ := w.FindSources()
	for _, s := range sources {
		dirs = append(dirs, filepath.Dir(s))
	}
	return dirs
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (w *Watcher) ParseSource(path string) ([]watcher.ParsedSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	parsed := parseHistory(string(data))
	if len(parsed) == 0 {
		return nil, nil
	}

	workingDirectory := filepath.Dir(path)
	sess := newSession(path, workingDirectory, len(parsed))

	msgs := make([]model.Message, len(parsed))
	// The file carries no timestamps; space messages evenly inside the
	// estimated session span.
	current := sess.StartedAt
	for i, pm := range parsed {
		msgs[i] = model.Message{
			ID:        model.DeriveUUID(fmt.Sprintf("%s#%d", path, i)),
			SessionID: sess.ID,
			Index:     i,
			Timestamp: current,
			Role:      pm.role,
			Content:   model.TextContent(pm.content),
			CWD:       workingDirectory,
		}
		current = current.Add(30 * time.Second)
	}
	return []watcher.ParsedSession{{Session: sess, Messages: msgs}}, nil
}

type parsedMessage struct {
	role    model.Role
	content string
}

// parseHistory walks the markdown line by line. The states are: no current
// message, accumulating a user turn, accumulating an assistant turn, and
// accumulating tool output inside an assistant turn.
func parseHistory(content string) []parsedMessage {
	var (
		messages     []parsedMessage
		role         model.Role
		hasRole      bool
		current      strings.Builder
		inToolOutput bool
	)

	flush := func() {
		if hasRole && strings.TrimSpace(current.String()) != "" {
			messages = append(messages, parsedMessage{role: role, content: strings.TrimSpace(current.String())})
		}
		current.Reset()
	}
	appendLine := func(s string) {
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(s)
	}

	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "#### "):
			flush()
			role, hasRole = model.RoleUser, true
			current.WriteString(strings.TrimPrefix(line, "#### "))
			inToolOutput = false

		case strings.HasPrefix(line, "> ") || line == ">":
			// Tool output belongs to the assistant turn. A pending user
			// turn ends here.
			if hasRole && role == model.RoleUser && strings.TrimSpace(current.String()) != "" {
				flush()
				role = model.RoleAssistant
			} else if !hasRole {
				role, hasRole = model.RoleAssistant, true
			}
			inToolOutput = true
			appendLine(strings.TrimPrefix(strings.TrimPrefix(line, "> "), ">"))

		case strings.TrimSpace(line) == "":
			if inToolOutput {
				inToolOutput = false
				if current.Len() > 0 {
					current.WriteByte('\n')
				}
			} else if hasRole && role == model.RoleUser && strings.TrimSpace(current.String()) != "" {
				// Blank line ends the user turn; what follows is the answer.
				flush()
				role = model.RoleAssistant
			} else if hasRole && role == model.RoleAssistant {
				if current.Len() > 0 {
					current.WriteByte('\n')
				}
			}

		default:
			if !hasRole {
				// Orphan content before any heading reads as assistant.
				role, hasRole = model.RoleAssistant, true
			} else if role == model.RoleUser && strings.TrimSpace(current.String()) != "" {
				// Plain text directly after user input is the response.
				flush()
				role = model.RoleAssistant
			}
			appendLine(line)
		}
	}
	flush()
	return messages
}

func newSession(path, workingDirectory string, messageCount int) model.Session {
	// No timestamps in the file: the modification time closes the session
	// and the start is estimated from the turn count.
	endedAt := time.Now().UTC()
	if info, err := os.Stat(path); err == nil {
		endedAt = info.ModTime().UTC()
	}
	startedAt := endedAt.Add(-time.Duration(messageCount) * 2 * time.Minute)

	return model.Session{
		ID:               model.DeriveUUID("aider:" + path),
		Tool:             watcherName,
		StartedAt:        startedAt,
		EndedAt:          &endedAt,
		WorkingDirectory: workingDirectory,
		SourcePath:       path,
		MessageCount:     messageCount,
	}
}
