package aider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

func writeHistory(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, historyName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseSourceSimpleExchange(t *testing.T) {
	path := writeHistory(t, "#### Please add a README\n\nI'll create a README file for you.\n")

	w := &Watcher{}
	parsed, err := w.ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	ps := parsed[0]
	assert.Equal(t, "aider", ps.Session.Tool)
	assert.Equal(t, filepath.Dir(path), ps.Session.WorkingDirectory)
	assert.Equal(t, path, ps.Session.SourcePath)

	require.Len(t, ps.Messages, 2)
	assert.Equal(t, model.RoleUser, ps.Messages[0].Role)
	assert.Equal(t, "Please add a README", ps.Messages[0].Content.PlainText())
	assert.Equal(t, model.RoleAssistant, ps.Messages[1].Role)
	assert.Equal(t, "I'll create a README file for you.", ps.Messages[1].Content.PlainText())
}

func TestParseSourceMultipleTurns(t *testing.T) {
	content := `#### Fix the login bug

Looking at auth.go, the issue is the token check.

#### Now add a test for it

Added a regression test in auth_test.go.
`
	path := writeHistory(t, content)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	msgs := parsed[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, model.RoleUser, msgs[2].Role)
	assert.Equal(t, model.RoleAssistant, msgs[3].Role)
	assert.Equal(t, "Now add a test for it", msgs[2].Content.PlainText())
}

func TestParseSourceToolOutput(t *testing.T) {
	content := `#### Run the tests

> pytest tests/
> 3 passed

All tests pass.
`
	path := writeHistory(t, content)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	msgs := parsed[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Content.PlainText(), "pytest tests/")
	assert.Contains(t, msgs[1].Content.PlainText(), "All tests pass.")
}

func TestParseSourceMultilineUserTurn(t *testing.T) {
	content := "#### Refactor the parser\n#### to use a state machine\n\nDone.\n"
	path := writeHistory(t, content)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)

	msgs := parsed[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "Refactor the parser", msgs[0].Content.PlainText())
	assert.Equal(t, "to use a state machine", msgs[1].Content.PlainText())
}

func TestParseSourceOrphanContent(t *testing.T) {
	path := writeHistory(t, "Session resumed from earlier.\n")

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	msgs := parsed[0].Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
}

func TestParseSourceEmptyFile(t *testing.T) {
	path := writeHistory(t, "")

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseSourceDeterministicIDs(t *testing.T) {
	path := writeHistory(t, "#### Hello\n\nHi there.\n")

	first, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	second, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)

	assert.Equal(t, first[0].Session.ID, second[0].Session.ID)
	assert.Equal(t, first[0].Messages[0].ID, second[0].Messages[0].ID)
}

func TestParseSourceTimestampsOrdered(t *testing.T) {
	path := writeHistory(t, "#### One\n\nTwo.\n\n#### Three\n\nFour.\n")

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)

	msgs := parsed[0].Messages
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].Timestamp.After(msgs[i-1].Timestamp))
	}
	sess := parsed[0].Session
	require.NotNil(t, sess.EndedAt)
	assert.True(t, sess.StartedAt.Before(*sess.EndedAt))
}
