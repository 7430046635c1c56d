// Package summarize generates natural-language summaries of captured
// sessions through a pluggable LLM provider.
package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/varalys/lore/cmd/lore/cli/config"
	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

// Generator produces a summary from condensed session content.
type Generator interface {
	Generate(ctx context.Context, input Input) (string, error)
}

// Input is the condensed session content handed to a Generator.
type Input struct {
	Transcript []Entry

	// FilesTouched are the files the session modified, relative to the
	// session's working directory.
	FilesTouched []string
}

// ErrNoContent is returned when a session has nothing to summarize.
var ErrNoContent = errors.New("session has no content to summarize")

// New returns the Generator configured in cfg. An empty provider selects
// the claude CLI.
func New(cfg config.SummaryConfig) (Generator, error) { //nolint:ireturn
	switch cfg.Provider {
	case "", "claude":
		return &ClaudeGenerator{Model: cfg.Model, APIKey: cfg.APIKey}, nil
	default:
		return nil, fmt.Errorf("unknown summary provider %q", cfg.Provider)
	}
}

// Session summarizes one stored session and persists the result. The
// returned string is the summary text as saved.
func Session(ctx context.Context, st *store.Store, sess *model.Session, gen Generator) (string, error) {
	messages, err := st.GetMessages(sess.ID)
	if err != nil {
		return "", fmt.Errorf("loading messages: %w", err)
	}

	entries := Condense(messages)
	if len(entries) == 0 {
		return "", ErrNoContent
	}

	input := Input{
		Transcript:   entries,
		FilesTouched: model.ExtractSessionFiles(messages, sess.WorkingDirectory),
	}

	summary, err := gen.Generate(ctx, input)
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", errors.New("provider returned an empty summary")
	}

	if err := st.UpsertSummary(sess.ID, summary); err != nil {
		return "", err
	}
	return summary, nil
}

// EntryType discriminates condensed transcript entries.
type EntryType string

const (
	EntryTypeUser      EntryType = "user"
	EntryTypeAssistant EntryType = "assistant"
	EntryTypeTool      EntryType = "tool"
)

// Entry is one item of the condensed transcript.
type Entry struct {
	Type EntryType

	// Content is the text for user and assistant entries.
	Content string

	// ToolName and ToolDetail describe a tool call entry.
	ToolName   string
	ToolDetail string
}

// maxEntryRunes bounds a single entry so one giant paste cannot blow the
// prompt past the provider's context window.
const maxEntryRunes = 4000

// minimalDetailTools lists tools whose inputs are verbose; only the
// essential identifier is kept for them.
var minimalDetailTools = map[string]bool{
	"Read":     true,
	"WebFetch": true,
}

// Condense flattens session messages into prompt-sized entries. Thinking
// blocks and system messages are dropped; tool calls keep the name plus a
// one-line detail.
func Condense(messages []model.Message) []Entry {
	var entries []Entry

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleUser:
			if text := strings.TrimSpace(msg.Content.PlainText()); text != "" {
				entries = append(entries, Entry{Type: EntryTypeUser, Content: clip(text)})
			}
		case model.RoleAssistant:
			entries = append(entries, condenseAssistant(msg.Content)...)
		case model.RoleSystem:
		}
	}

	return entries
}

func condenseAssistant(content model.MessageContent) []Entry {
	if content.Blocks == nil {
		if text := strings.TrimSpace(content.Text); text != "" {
			return []Entry{{Type: EntryTypeAssistant, Content: clip(text)}}
		}
		return nil
	}

	var entries []Entry
	for _, block := range content.Blocks {
		switch block.Type {
		case model.BlockText:
			if text := strings.TrimSpace(block.Text); text != "" {
				entries = append(entries, Entry{Type: EntryTypeAssistant, Content: clip(text)})
			}
		case model.BlockToolUse:
			entries = append(entries, Entry{
				Type:       EntryTypeTool,
				ToolName:   block.Name,
				ToolDetail: toolDetail(block.Name, block.Input),
			})
		case model.BlockThinking, model.BlockToolResult, model.BlockUnknown:
		}
	}
	return entries
}

// toolInput covers the input fields shared across tools; parsing is
// best-effort since every tool shapes its input differently.
type toolInput struct {
	Description string `json:"description"`
	Command     string `json:"command"`
	FilePath    string `json:"file_path"`
	Path        string `json:"path"`
	Pattern     string `json:"pattern"`
	URL         string `json:"url"`
}

func toolDetail(toolName string, raw json.RawMessage) string {
	var input toolInput
	_ = json.Unmarshal(raw, &input) //nolint:errcheck

	if minimalDetailTools[toolName] {
		if input.FilePath != "" {
			return input.FilePath
		}
		return input.URL
	}

	switch {
	case input.Description != "":
		return input.Description
	case input.Command != "":
		return clip(input.Command)
	case input.FilePath != "":
		return input.FilePath
	case input.Path != "":
		return input.Path
	default:
		return input.Pattern
	}
}

func clip(s string) string {
	runes := []rune(s)
	if len(runes) <= maxEntryRunes {
		return s
	}
	return string(runes[:maxEntryRunes]) + " [truncated]"
}

// FormatTranscript renders an Input as the text handed to the LLM:
//
//	[User] prompt
//
//	[Assistant] response
//
//	[Tool] Name: detail
func FormatTranscript(input Input) string {
	var sb strings.Builder

	for i, entry := range input.Transcript {
		if i > 0 {
			sb.WriteString("\n")
		}

		switch entry.Type {
		case EntryTypeUser:
			sb.WriteString("[User] ")
			sb.WriteString(entry.Content)
			sb.WriteString("\n")
		case EntryTypeAssistant:
			sb.WriteString("[Assistant] ")
			sb.WriteString(entry.Content)
			sb.WriteString("\n")
		case EntryTypeTool:
			sb.WriteString("[Tool] ")
			sb.WriteString(entry.ToolName)
			if entry.ToolDetail != "" {
				sb.WriteString(": ")
				sb.WriteString(entry.ToolDetail)
			}
			sb.WriteString("\n")
		}
	}

	if len(input.FilesTouched) > 0 {
		sb.WriteString("\n[Files Modified]\n")
		for _, file := range input.FilesTouched {
			fmt.Fprintf(&sb, "- %s\n", file)
		}
	}

	return sb.String()
}
