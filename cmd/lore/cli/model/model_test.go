package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
		ok    bool
	}{
		{"user", RoleUser, true},
		{"human", RoleUser, true},
		{"Human", RoleUser, true},
		{"assistant", RoleAssistant, true},
		{"ASSISTANT", RoleAssistant, true},
		{"system", RoleSystem, true},
		{"tool", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.input)
		assert.Equal(t, tt.ok, ok, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestMessageContentTextRoundTrip(t *testing.T) {
	c := TextContent("hello world")

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `"hello world"`, string(data))

	var back MessageContent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "hello world", back.Text)
	assert.Nil(t, back.Blocks)
}

func TestMessageContentBlocksRoundTrip(t *testing.T) {
	c := BlockContent([]ContentBlock{
		TextBlock("let me check"),
		ToolUseBlock("tu_1", "Read", json.RawMessage(`{"file_path":"/tmp/a.go"}`)),
		ToolResultBlock("tu_1", "package main", false),
	})

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var back MessageContent
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Blocks, 3)
	assert.Equal(t, BlockText, back.Blocks[0].Type)
	assert.Equal(t, "let me check", back.Blocks[0].Text)
	assert.Equal(t, BlockToolUse, back.Blocks[1].Type)
	assert.Equal(t, "Read", back.Blocks[1].Name)
	assert.Equal(t, BlockToolResult, back.Blocks[2].Type)
	assert.Equal(t, "tu_1", back.Blocks[2].ToolUseID)
}

func TestMessageContentUnknownBlockRoundTrip(t *testing.T) {
	raw := `[{"type":"image","source":{"media_type":"image/png","data":"aGk="}}]`

	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.Len(t, c.Blocks, 1)
	assert.Equal(t, BlockUnknown, c.Blocks[0].Type)

	// Re-marshaling must emit the original block verbatim.
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(data))
}

func TestMessageContentPlainText(t *testing.T) {
	c := BlockContent([]ContentBlock{
		ThinkingBlock("hmm"),
		TextBlock("first"),
		ToolUseBlock("tu_1", "Bash", json.RawMessage(`{"command":"ls"}`)),
		TextBlock("second"),
	})
	assert.Equal(t, "first\nsecond", c.PlainText())

	assert.Equal(t, "just text", TextContent("just text").PlainText())
}

func TestMessageContentSummaryTruncates(t *testing.T) {
	long := strings.Repeat("a", 100)
	s := TextContent(long).Summary(20)
	assert.Len(t, s, 20)
	assert.True(t, strings.HasSuffix(s, "..."))

	short := TextContent("short").Summary(20)
	assert.Equal(t, "short", short)
}

func TestMessageContentSummaryCollapsesWhitespace(t *testing.T) {
	s := TextContent("line one\n\n  line two\ttabbed").Summary(100)
	assert.Equal(t, "line one line two tabbed", s)
}

func TestMessageContentSummaryToolMarkers(t *testing.T) {
	c := BlockContent([]ContentBlock{
		ToolUseBlock("tu_1", "Edit", json.RawMessage(`{}`)),
		ToolResultBlock("tu_1", "ok", false),
	})
	s := c.Summary(200)
	assert.Contains(t, s, "[tool: Edit]")
	assert.Contains(t, s, "[result: ok...]")
}

func TestMessageContentIsEmpty(t *testing.T) {
	assert.True(t, TextContent("").IsEmpty())
	assert.True(t, TextContent("   \n").IsEmpty())
	assert.False(t, TextContent("x").IsEmpty())
	assert.True(t, BlockContent([]ContentBlock{}).IsEmpty())
	assert.False(t, BlockContent([]ContentBlock{TextBlock("x")}).IsEmpty())
}

func TestMessageJSONRoundTrip(t *testing.T) {
	m := Message{
		ID:        DeriveUUID("msg_1"),
		SessionID: DeriveUUID("ses_1"),
		Index:     3,
		Role:      RoleAssistant,
		Content:   TextContent("done"),
		Model:     "sonnet",
		GitBranch: "main",
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m.ID, back.ID)
	assert.Equal(t, m.Index, back.Index)
	assert.Equal(t, RoleAssistant, back.Role)
	assert.Equal(t, "done", back.Content.Text)
	assert.Nil(t, back.ParentID)
}
