package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

func TestSearchMessagesRanksAndSnippets(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("claude-code", time.Now().Add(-time.Hour))
	require.NoError(t, s.UpsertSession(sess))
	for _, m := range testMessages(sess.ID, sess.StartedAt,
		"how do I fix the race condition in the watcher",
		"the race condition comes from the unguarded map") {
		require.NoError(t, s.InsertMessage(&m))
	}

	results, err := s.SearchMessages("race condition", model.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Snippet, ">>")
	assert.Equal(t, sess.ID, results[0].SessionID)
	assert.Equal(t, "claude-code", results[0].Tool)
}

func TestSearchMessagesPorterStemming(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("codex", time.Now().Add(-time.Hour))
	require.NoError(t, s.UpsertSession(sess))
	for _, m := range testMessages(sess.ID, sess.StartedAt, "refactoring the parser modules") {
		require.NoError(t, s.InsertMessage(&m))
	}

	results, err := s.SearchMessages("refactor", model.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchMessagesFilters(t *testing.T) {
	s := openTestStore(t)

	a := testSession("claude-code", time.Now().Add(-2*time.Hour))
	b := testSession("aider", time.Now().Add(-time.Hour))
	b.WorkingDirectory = "/other/repo"
	require.NoError(t, s.UpsertSession(a))
	require.NoError(t, s.UpsertSession(b))
	for _, m := range testMessages(a.ID, a.StartedAt, "deploy script question", "deploy answer") {
		require.NoError(t, s.InsertMessage(&m))
	}
	for _, m := range testMessages(b.ID, b.StartedAt, "deploy pipeline note") {
		require.NoError(t, s.InsertMessage(&m))
	}

	byTool, err := s.SearchMessages("deploy", model.SearchOptions{Tool: "aider"})
	require.NoError(t, err)
	require.Len(t, byTool, 1)
	assert.Equal(t, b.ID, byTool[0].SessionID)

	byRepo, err := s.SearchMessages("deploy", model.SearchOptions{RepoPrefix: "/home/dev"})
	require.NoError(t, err)
	assert.Len(t, byRepo, 2)

	byRole, err := s.SearchMessages("deploy", model.SearchOptions{Role: model.RoleAssistant})
	require.NoError(t, err)
	require.Len(t, byRole, 1)
	assert.Equal(t, model.RoleAssistant, byRole[0].Role)

	since := a.StartedAt.Add(30 * time.Minute)
	bySince, err := s.SearchMessages("deploy", model.SearchOptions{Since: &since})
	require.NoError(t, err)
	require.Len(t, bySince, 1)
	assert.Equal(t, b.ID, bySince[0].SessionID)
}

func TestSearchExcludesToolNoise(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("claude-code", time.Now().Add(-time.Hour))
	require.NoError(t, s.UpsertSession(sess))

	msg := testMessages(sess.ID, sess.StartedAt, "placeholder")[0]
	msg.Content = model.BlockContent([]model.ContentBlock{
		model.ThinkingBlock("secretword pondering"),
		model.TextBlock("visible text"),
	})
	require.NoError(t, s.InsertMessage(&msg))

	hidden, err := s.SearchMessages("secretword", model.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hidden)

	visible, err := s.SearchMessages("visible", model.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestRebuildSearchIndex(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("claude-code", time.Now().Add(-time.Hour))
	require.NoError(t, s.UpsertSession(sess))
	for _, m := range testMessages(sess.ID, sess.StartedAt, "indexed content here") {
		require.NoError(t, s.InsertMessage(&m))
	}

	// Simulate an index dropped by an upgrade.
	_, err := s.db.Exec("DELETE FROM messages_fts")
	require.NoError(t, err)

	needs, err := s.SearchIndexNeedsRebuild()
	require.NoError(t, err)
	assert.True(t, needs)

	require.NoError(t, s.RebuildSearchIndex())

	needs, err = s.SearchIndexNeedsRebuild()
	require.NoError(t, err)
	assert.False(t, needs)

	results, err := s.SearchMessages("indexed", model.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// Rebuild is idempotent.
	require.NoError(t, s.RebuildSearchIndex())
	results, err = s.SearchMessages("indexed", model.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestEnsureSearchIndexRebuildsWhenEmpty(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("claude-code", time.Now().Add(-time.Hour))
	require.NoError(t, s.UpsertSession(sess))
	for _, m := range testMessages(sess.ID, sess.StartedAt, "tokenizer question") {
		require.NoError(t, s.InsertMessage(&m))
	}

	// A database from before the index has messages but no FTS rows.
	_, err := s.db.Exec("DELETE FROM messages_fts")
	require.NoError(t, err)

	results, err := s.SearchMessages("tokenizer", model.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, s.EnsureSearchIndex())

	results, err = s.SearchMessages("tokenizer", model.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// Coherent index: ensure is a no-op.
	require.NoError(t, s.EnsureSearchIndex())
}

func TestSearchIndexNeedsRebuildEmptyDatabase(t *testing.T) {
	s := openTestStore(t)
	needs, err := s.SearchIndexNeedsRebuild()
	require.NoError(t, err)
	assert.False(t, needs)
}
