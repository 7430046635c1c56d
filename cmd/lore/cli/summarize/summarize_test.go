package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/lore/cmd/lore/cli/config"
	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

type staticGenerator struct {
	summary string
	err     error
	got     Input
}

func (g *staticGenerator) Generate(_ context.Context, input Input) (string, error) {
	g.got = input
	return g.summary, g.err
}

func TestCondenseMixedContent(t *testing.T) {
	messages := []model.Message{
		{Role: model.RoleUser, Content: model.TextContent("Add a retry loop")},
		{Role: model.RoleAssistant, Content: model.BlockContent([]model.ContentBlock{
			model.ThinkingBlock("let me think"),
			model.TextBlock("Adding it now."),
			model.ToolUseBlock("tu1", "Edit", json.RawMessage(`{"file_path":"retry.go"}`)),
			model.ToolResultBlock("tu1", "ok", false),
		})},
		{Role: model.RoleSystem, Content: model.TextContent("internal banner")},
		{Role: model.RoleUser, Content: model.TextContent("   ")},
	}

	entries := Condense(messages)
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Type: EntryTypeUser, Content: "Add a retry loop"}, entries[0])
	assert.Equal(t, Entry{Type: EntryTypeAssistant, Content: "Adding it now."}, entries[1])
	assert.Equal(t, Entry{Type: EntryTypeTool, ToolName: "Edit", ToolDetail: "retry.go"}, entries[2])
}

func TestCondenseClipsLongEntries(t *testing.T) {
	long := strings.Repeat("x", maxEntryRunes+100)
	entries := Condense([]model.Message{
		{Role: model.RoleUser, Content: model.TextContent(long)},
	})
	require.Len(t, entries, 1)
	assert.Len(t, []rune(entries[0].Content), maxEntryRunes+len([]rune(" [truncated]")))
	assert.True(t, strings.HasSuffix(entries[0].Content, " [truncated]"))
}

func TestToolDetail(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input string
		want  string
	}{
		{"read shows path only", "Read", `{"file_path":"/a/b.go","limit":100}`, "/a/b.go"},
		{"webfetch shows url only", "WebFetch", `{"url":"https://example.com","prompt":"long prompt"}`, "https://example.com"},
		{"description wins", "Bash", `{"description":"run tests","command":"go test ./..."}`, "run tests"},
		{"command fallback", "Bash", `{"command":"ls -la"}`, "ls -la"},
		{"grep pattern", "Grep", `{"pattern":"TODO"}`, "TODO"},
		{"bad input", "Edit", `not json`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toolDetail(tt.tool, json.RawMessage(tt.input)))
		})
	}
}

func TestFormatTranscript(t *testing.T) {
	input := Input{
		Transcript: []Entry{
			{Type: EntryTypeUser, Content: "Hello"},
			{Type: EntryTypeAssistant, Content: "Hi there"},
			{Type: EntryTypeTool, ToolName: "Read", ToolDetail: "/file.go"},
			{Type: EntryTypeTool, ToolName: "TaskList"},
		},
		FilesTouched: []string{"file1.go", "file2.go"},
	}

	want := `[User] Hello

[Assistant] Hi there

[Tool] Read: /file.go

[Tool] TaskList

[Files Modified]
- file1.go
- file2.go
`
	assert.Equal(t, want, FormatTranscript(input))
}

func TestFormatTranscriptEmpty(t *testing.T) {
	assert.Empty(t, FormatTranscript(Input{}))
}

func seedSession(t *testing.T, st *store.Store) *model.Session {
	t.Helper()
	sess := &model.Session{
		ID:               model.DeriveUUID("summarize-test"),
		Tool:             "claude-code",
		StartedAt:        time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		WorkingDirectory: "/work/proj",
		MessageCount:     2,
	}
	require.NoError(t, st.UpsertSession(sess))
	msgs := []model.Message{
		{
			ID: model.DeriveUUID("summarize-m0"), SessionID: sess.ID, Index: 0,
			Timestamp: sess.StartedAt, Role: model.RoleUser,
			Content: model.TextContent("Fix the flaky watcher test"),
		},
		{
			ID: model.DeriveUUID("summarize-m1"), SessionID: sess.ID, Index: 1,
			Timestamp: sess.StartedAt.Add(time.Minute), Role: model.RoleAssistant,
			Content: model.BlockContent([]model.ContentBlock{
				model.TextBlock("Done, the race was in setup."),
				model.ToolUseBlock("tu1", "Edit", json.RawMessage(`{"file_path":"/work/proj/watch_test.go"}`)),
			}),
		},
	}
	for i := range msgs {
		require.NoError(t, st.InsertMessage(&msgs[i]))
	}
	return sess
}

func TestSessionPersistsSummary(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	sess := seedSession(t, st)
	gen := &staticGenerator{summary: "  Fixed a race in the watcher test setup.  "}

	text, err := Session(context.Background(), st, sess, gen)
	require.NoError(t, err)
	assert.Equal(t, "Fixed a race in the watcher test setup.", text)

	saved, err := st.GetSummary(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, text, saved.Content)

	assert.Contains(t, gen.got.FilesTouched, "watch_test.go")
	require.Len(t, gen.got.Transcript, 3)
}

func TestSessionEmptyContent(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	sess := &model.Session{
		ID:               model.DeriveUUID("summarize-empty"),
		Tool:             "aider",
		StartedAt:        time.Now().UTC(),
		WorkingDirectory: "/work",
	}
	require.NoError(t, st.UpsertSession(sess))

	_, err = Session(context.Background(), st, sess, &staticGenerator{summary: "x"})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestSessionProviderErrors(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	sess := seedSession(t, st)

	_, err = Session(context.Background(), st, sess, &staticGenerator{err: errors.New("rate limited")})
	require.ErrorContains(t, err, "rate limited")

	_, err = Session(context.Background(), st, sess, &staticGenerator{summary: "   "})
	require.ErrorContains(t, err, "empty summary")

	_, err = st.GetSummary(sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewSelectsProvider(t *testing.T) {
	gen, err := New(config.SummaryConfig{})
	require.NoError(t, err)
	assert.IsType(t, &ClaudeGenerator{}, gen)

	gen, err = New(config.SummaryConfig{Provider: "claude", Model: "opus"})
	require.NoError(t, err)
	assert.Equal(t, "opus", gen.(*ClaudeGenerator).Model)

	_, err = New(config.SummaryConfig{Provider: "cohere"})
	assert.ErrorContains(t, err, "unknown summary provider")
}

func TestClaudeGeneratorParsesCLIOutput(t *testing.T) {
	gen := &ClaudeGenerator{
		CommandRunner: func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
			response := `{"result":"The session fixed the retry loop."}`
			return exec.CommandContext(ctx, "sh", "-c", "cat >/dev/null; printf '%s' '"+response+"'")
		},
	}

	text, err := gen.Generate(context.Background(), Input{
		Transcript: []Entry{{Type: EntryTypeUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "The session fixed the retry loop.", text)
}

func TestClaudeGeneratorCommandFailure(t *testing.T) {
	gen := &ClaudeGenerator{
		CommandRunner: func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "sh", "-c", "cat >/dev/null; echo boom >&2; exit 3")
		},
	}

	_, err := gen.Generate(context.Background(), Input{})
	require.ErrorContains(t, err, "exit 3")
	assert.ErrorContains(t, err, "boom")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "plain text", stripFences("plain text"))
	assert.Equal(t, "fenced", stripFences("```\nfenced\n```"))
	assert.Equal(t, "fenced", stripFences("```markdown\nfenced\n```"))
}
