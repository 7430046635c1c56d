package cursor

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

// writeWorkspaceDB builds a state.vscdb fixture with the given ItemTable rows.
func writeWorkspaceDB(t *testing.T, rows map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.vscdb")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE ItemTable (key TEXT PRIMARY KEY, value TEXT)")
	require.NoError(t, err)
	for key, value := range rows {
		_, err = db.Exec("INSERT INTO ItemTable (key, value) VALUES (?, ?)", key, value)
		require.NoError(t, err)
	}
	return path
}

const conversationJSON = `{
  "id": "conv-1",
  "createdAt": 1717236000000,
  "updatedAt": 1717236300000,
  "workspacePath": "/home/dev/project",
  "messages": [
    {"id": "m1", "role": "user", "content": "Explain this stack trace", "timestamp": 1717236010000},
    {"id": "m2", "role": "assistant", "content": "The panic comes from a nil map write.", "timestamp": 1717236060000}
  ]
}`

func TestParseSourceConversation(t *testing.T) {
	path := writeWorkspaceDB(t, map[string]string{
		"workbench.panel.aichat.view.aichat.chatdata": conversationJSON,
	})

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	sess := parsed[0].Session
	assert.Equal(t, "cursor", sess.Tool)
	assert.Equal(t, model.DeriveUUID("conv-1"), sess.ID)
	assert.Equal(t, "/home/dev/project", sess.WorkingDirectory)
	assert.Equal(t, path, sess.SourcePath)
	require.NotNil(t, sess.EndedAt)

	msgs := parsed[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Explain this stack trace", msgs[0].Content.PlainText())
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestParseSourceArrayValue(t *testing.T) {
	path := writeWorkspaceDB(t, map[string]string{
		"workbench.panel.aichat.history": "[" + conversationJSON + "]",
	})

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Len(t, parsed[0].Messages, 2)
}

func TestParseSourceSkipsNonConversationEntries(t *testing.T) {
	path := writeWorkspaceDB(t, map[string]string{
		"workbench.panel.aichat.settings": `{"fontSize": 14}`,
		"workbench.panel.aichat.chatdata": conversationJSON,
	})

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	assert.Len(t, parsed, 1)
}

func TestParseSourceIgnoresOtherKeys(t *testing.T) {
	path := writeWorkspaceDB(t, map[string]string{
		"workbench.sidebar.state": conversationJSON,
	})

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseSourceMissingIDFallsBack(t *testing.T) {
	conv := `{
  "messages": [
    {"role": "user", "content": "hello", "createdAt": 1717236010000}
  ]
}`
	path := writeWorkspaceDB(t, map[string]string{
		"workbench.panel.aichat.chatdata": conv,
	})

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, model.DeriveUUID("cursor:"+path), parsed[0].Session.ID)
	assert.Equal(t, ".", parsed[0].Session.WorkingDirectory)
}

func TestParseSourceEmptyDatabase(t *testing.T) {
	path := writeWorkspaceDB(t, nil)

	parsed, err := (&Watcher{}).ParseSource(path)
	require.NoError(t, err)
	assert.Empty(t, parsed)
}
