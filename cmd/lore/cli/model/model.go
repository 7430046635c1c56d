// Package model defines the tool-neutral session and message records that
// every watcher produces and the store persists. The model is intentionally
// narrow: if a watcher cannot express its tool's transcript in these types,
// the transcript is not worth capturing.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is one complete human-AI collaboration captured from a tool.
type Session struct {
	ID uuid.UUID `json:"id"`

	// Tool is the identifier of the originating watcher (e.g. "claude-code").
	Tool        string `json:"tool"`
	ToolVersion string `json:"tool_version,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Model is the primary AI model used (it may change mid-session).
	Model string `json:"model,omitempty"`

	WorkingDirectory string `json:"working_directory"`
	GitBranch        string `json:"git_branch,omitempty"`

	// SourcePath is the original file or database path. Imports use it as
	// the idempotency key: a source path already in the store is skipped.
	SourcePath string `json:"source_path,omitempty"`

	MessageCount int `json:"message_count"`

	// MachineID identifies the machine that captured the session. Stamped
	// at ingest time; preserved across cloud sync.
	MachineID string `json:"machine_id,omitempty"`
}

// Message is a single turn in a session. Messages are immutable once
// written; re-import relies on id-level deduplication, not content diffing.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`

	// Index is the 0-based position within the session and defines order.
	Index int `json:"index"`

	Timestamp time.Time      `json:"timestamp"`
	Role      Role           `json:"role"`
	Content   MessageContent `json:"content"`

	Model     string `json:"model,omitempty"`
	GitBranch string `json:"git_branch,omitempty"`
	CWD       string `json:"cwd,omitempty"`
}

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole maps role strings used across tools onto the canonical roles.
// "human" is an alias some tools use for user turns. Unrecognized roles
// return false; callers skip those messages rather than coerce them.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(s) {
	case "user", "human":
		return RoleUser, true
	case "assistant":
		return RoleAssistant, true
	case "system":
		return RoleSystem, true
	default:
		return "", false
	}
}

// MessageContent is either plain text or an ordered list of content blocks.
// It serializes as a bare JSON string or a JSON array of tagged blocks.
type MessageContent struct {
	// Text holds simple text content when Blocks is nil.
	Text string

	// Blocks holds structured content. When non-nil it takes precedence
	// over Text.
	Blocks []ContentBlock
}

// TextContent returns a MessageContent holding plain text.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// BlockContent returns a MessageContent holding structured blocks.
func BlockContent(blocks []ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// IsEmpty reports whether the content carries neither text nor blocks.
func (c MessageContent) IsEmpty() bool {
	if c.Blocks == nil {
		return strings.TrimSpace(c.Text) == ""
	}
	return len(c.Blocks) == 0
}

// PlainText returns the searchable text of the content: the text itself for
// simple content, or all text blocks joined by newlines for block content.
// Thinking, tool-use and tool-result blocks are excluded; this is the view
// indexed by FTS and fed to summaries.
func (c MessageContent) PlainText() string {
	if c.Blocks == nil {
		return c.Text
	}
	var parts []string
	for _, b := range c.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Summary returns a single-line display projection truncated to maxLen runes.
// Tool activity is retained as bracketed markers; thinking is dropped.
func (c MessageContent) Summary(maxLen int) string {
	var text string
	if c.Blocks == nil {
		text = c.Text
	} else {
		var parts []string
		for _, b := range c.Blocks {
			switch b.Type {
			case BlockText:
				parts = append(parts, b.Text)
			case BlockToolUse:
				parts = append(parts, fmt.Sprintf("[tool: %s]", b.Name))
			case BlockToolResult:
				r := []rune(b.Content)
				if len(r) > 50 {
					r = r[:50]
				}
				parts = append(parts, fmt.Sprintf("[result: %s...]", string(r)))
			}
		}
		text = strings.Join(parts, " ")
	}
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// MarshalJSON writes simple content as a JSON string and block content as a
// JSON array, matching the wire format tools like Claude Code use.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either form. Anything that is neither a string nor
// an array of blocks round-trips as text so stored rows never fail to load.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return fmt.Errorf("parsing content blocks: %w", err)
		}
		c.Blocks = blocks
		c.Text = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Tolerate non-string scalars from drifted schemas.
		c.Text = strings.Trim(trimmed, `"`)
		c.Blocks = nil
		return nil
	}
	c.Text = s
	c.Blocks = nil
	return nil
}

// BlockType discriminates content blocks on the wire.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	// BlockUnknown preserves unrecognized block types so they round-trip
	// instead of erroring.
	BlockUnknown BlockType = "unknown"
)

// ContentBlock is one typed element of structured message content.
// Exactly the fields for its type are populated.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text content (BlockText) or reasoning (BlockThinking).
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// Tool call fields (BlockToolUse).
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result fields (BlockToolResult).
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Raw preserves the original JSON for BlockUnknown.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps unknown block types instead of failing the message.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias ContentBlock
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("parsing content block: %w", err)
	}
	*b = ContentBlock(a)
	switch b.Type {
	case BlockText, BlockThinking, BlockToolUse, BlockToolResult:
	default:
		b.Raw = append(json.RawMessage(nil), data...)
		b.Type = BlockUnknown
	}
	return nil
}

// MarshalJSON writes unknown blocks back out verbatim.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	if b.Type == BlockUnknown && len(b.Raw) > 0 {
		return b.Raw, nil
	}
	type alias ContentBlock
	return json.Marshal(alias(b))
}

// TextBlock is a convenience constructor.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ThinkingBlock is a convenience constructor.
func ThinkingBlock(thinking string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Thinking: thinking}
}

// ToolUseBlock is a convenience constructor.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock is a convenience constructor.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// LinkType classifies a session's association with git history.
type LinkType string

const (
	LinkCommit LinkType = "commit"
	LinkBranch LinkType = "branch"
	LinkPR     LinkType = "pr"
	LinkManual LinkType = "manual"
)

// LinkCreator records how a session link came to exist.
type LinkCreator string

const (
	// LinkedByAuto marks links inserted by the commit linker heuristics.
	LinkedByAuto LinkCreator = "auto"
	// LinkedByUser marks links created explicitly via the CLI.
	LinkedByUser LinkCreator = "user"
)

// SessionLink associates a session with a git object, usually a commit.
// Links are created and removed but never mutated.
type SessionLink struct {
	ID        uuid.UUID   `json:"id"`
	SessionID uuid.UUID   `json:"session_id"`
	LinkType  LinkType    `json:"link_type"`
	CommitSHA string      `json:"commit_sha,omitempty"`
	Branch    string      `json:"branch,omitempty"`
	Remote    string      `json:"remote,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	CreatedBy LinkCreator `json:"created_by"`

	// Confidence in [0,1] for auto-links; nil for user links.
	Confidence *float64 `json:"confidence,omitempty"`
}

// Tag is a label applied to a session. The same label may be applied to
// many sessions.
type Tag struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is the singleton generated description of a session.
type Summary struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Annotation is a user note attached to a session. Annotations form an
// ordered list per session.
type Annotation struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Machine maps a machine UUID to a friendly name for sync displays.
type Machine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult is one FTS match with enough session context to display.
type SearchResult struct {
	SessionID        uuid.UUID `json:"session_id"`
	MessageID        uuid.UUID `json:"message_id"`
	Role             Role      `json:"role"`
	Snippet          string    `json:"snippet"`
	Timestamp        time.Time `json:"timestamp"`
	WorkingDirectory string    `json:"working_directory"`
	Tool             string    `json:"tool"`
	GitBranch        string    `json:"git_branch,omitempty"`
	MessageIndex     int       `json:"message_index"`
}

// SearchOptions narrows a search. Zero values mean "no filter".
type SearchOptions struct {
	Limit      int
	Tool       string
	Role       Role
	RepoPrefix string
	Since      *time.Time
	Until      *time.Time
}
