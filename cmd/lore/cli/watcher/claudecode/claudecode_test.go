package claudecode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

func writeSessionFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sessionFixture = `{"type":"user","sessionId":"abc-123","uuid":"u1","parentUuid":null,"timestamp":"2024-06-01T10:00:00.000Z","cwd":"/home/dev/project","gitBranch":"feature/auth","version":"1.0.30","message":{"role":"user","content":"Fix the login bug"}}
{"type":"assistant","sessionId":"abc-123","uuid":"a1","parentUuid":"u1","timestamp":"2024-06-01T10:00:45.000Z","cwd":"/home/dev/project","gitBranch":"feature/auth","version":"1.0.30","message":{"role":"assistant","model":"claude-sonnet-4","content":[{"type":"text","text":"The token check in auth.go is inverted."}]}}
`

func TestParseSourceTranscript(t *testing.T) {
	path := writeSessionFile(t, "abc-123.jsonl", sessionFixture)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	sess := parsed[0].Session
	assert.Equal(t, "claude-code", sess.Tool)
	assert.Equal(t, "1.0.30", sess.ToolVersion)
	assert.Equal(t, "claude-sonnet-4", sess.Model)
	assert.Equal(t, "/home/dev/project", sess.WorkingDirectory)
	assert.Equal(t, "feature/auth", sess.GitBranch)
	assert.Equal(t, model.DeriveUUID("abc-123"), sess.ID)

	msgs := parsed[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Fix the login bug", msgs[0].Content.PlainText())
	assert.Nil(t, msgs[0].ParentID)

	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].ParentID)
	assert.Equal(t, msgs[0].ID, *msgs[1].ParentID)
}

func TestParseSourceSkipsNonMessageEvents(t *testing.T) {
	content := `{"type":"file-history-snapshot","sessionId":"abc"}
{"type":"summary","summary":"a summary line"}
{"type":"user","sessionId":"abc","uuid":"u1","timestamp":"2024-06-01T10:00:00Z","cwd":"/p","message":{"role":"user","content":"hello"}}
`
	path := writeSessionFile(t, "abc.jsonl", content)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Len(t, parsed[0].Messages, 1)
}

func TestParseSourceSkipsSidechains(t *testing.T) {
	content := `{"type":"user","sessionId":"abc","uuid":"u1","isSidechain":true,"timestamp":"2024-06-01T10:00:00Z","message":{"role":"user","content":"subagent prompt"}}
{"type":"user","sessionId":"abc","uuid":"u2","timestamp":"2024-06-01T10:01:00Z","message":{"role":"user","content":"main prompt"}}
`
	path := writeSessionFile(t, "abc.jsonl", content)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.Len(t, parsed[0].Messages, 1)
	assert.Equal(t, "main prompt", parsed[0].Messages[0].Content.PlainText())
}

func TestParseSourceSkipsBadLines(t *testing.T) {
	content := `garbage line
{"type":"user","sessionId":"abc","uuid":"u1","timestamp":"2024-06-01T10:00:00Z","message":{"role":"user","content":"survives"}}
`
	path := writeSessionFile(t, "abc.jsonl", content)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Len(t, parsed[0].Messages, 1)
}

func TestParseSourceBlockContent(t *testing.T) {
	content := `{"type":"assistant","sessionId":"abc","uuid":"a1","timestamp":"2024-06-01T10:00:00Z","message":{"role":"assistant","model":"claude-sonnet-4","content":[{"type":"thinking","thinking":"considering options"},{"type":"text","text":"Use a mutex."},{"type":"tool_use","id":"t1","name":"Edit","input":{"file_path":"main.go"}}]}}
`
	path := writeSessionFile(t, "abc.jsonl", content)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	msg := parsed[0].Messages[0]
	assert.Equal(t, "Use a mutex.", msg.Content.PlainText())
	assert.Len(t, msg.Content.Blocks, 3)
}

func TestParseSourceFilenameFallbackID(t *testing.T) {
	content := `{"type":"user","uuid":"u1","timestamp":"2024-06-01T10:00:00Z","message":{"role":"user","content":"no session id"}}
`
	path := writeSessionFile(t, "fallback-session.jsonl", content)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, model.DeriveUUID("fallback-session"), parsed[0].Session.ID)
	assert.Equal(t, ".", parsed[0].Session.WorkingDirectory)
}

func TestParseSourceEmptyFile(t *testing.T) {
	path := writeSessionFile(t, "empty.jsonl", "")

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseSourceSequentialIndexes(t *testing.T) {
	path := writeSessionFile(t, "abc-123.jsonl", sessionFixture)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)

	for i, m := range parsed[0].Messages {
		assert.Equal(t, i, m.Index)
	}
}
