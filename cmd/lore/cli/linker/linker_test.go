package linker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// initRepo creates a git repository with one initial commit so HEAD exists.
func initRepo(t *testing.T) (string, *git.Worktree) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	commitFile(t, wt, dir, "README.md", "# project\n", "initial commit",
		time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	return dir, wt
}

func commitFile(t *testing.T, wt *git.Worktree, dir, name, content, msg string, when time.Time) plumbing.Hash {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	_, err := wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Dev", Email: "dev@example.com", When: when},
	})
	require.NoError(t, err)
	return hash
}

// seedSession writes a session whose assistant edited the given file shortly
// before endedAt.
func seedSession(t *testing.T, st *store.Store, dir, file string, endedAt time.Time) model.Session {
	t.Helper()
	started := endedAt.Add(-10 * time.Minute)
	sess := model.Session{
		ID:               model.DeriveUUID("linker-test:" + dir + file),
		Tool:             "claude-code",
		StartedAt:        started,
		EndedAt:          &endedAt,
		WorkingDirectory: dir,
		GitBranch:        "master",
		SourcePath:       filepath.Join(dir, "transcript.jsonl"),
		MessageCount:     2,
	}
	input, err := json.Marshal(map[string]string{"file_path": filepath.Join(dir, file)})
	require.NoError(t, err)
	msgs := []model.Message{
		{
			ID:        model.DeriveUUID(sess.ID.String() + "/0"),
			SessionID: sess.ID,
			Index:     0,
			Timestamp: started,
			Role:      model.RoleUser,
			Content:   model.TextContent(fmt.Sprintf("Please update %s with the new greeting", file)),
		},
		{
			ID:        model.DeriveUUID(sess.ID.String() + "/1"),
			SessionID: sess.ID,
			Index:     1,
			Timestamp: started.Add(time.Minute),
			Role:      model.RoleAssistant,
			Content: model.BlockContent([]model.ContentBlock{
				model.TextBlock(fmt.Sprintf("Editing %s now.", file)),
				model.ToolUseBlock("tu1", "Edit", input),
			}),
		},
	}
	require.NoError(t, st.ImportSessionWithMessages(&sess, msgs, nil))
	return sess
}

func TestManualLinkAndUnlink(t *testing.T) {
	st := openTestStore(t)
	dir, wt := initRepo(t)
	hash := commitFile(t, wt, dir, "main.go", "package main\n", "add main",
		time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))

	sess := seedSession(t, st, dir, "main.go", time.Date(2024, 6, 1, 9, 55, 0, 0, time.UTC))

	link, err := Link(st, dir, sess.ID.String()[:8], hash.String()[:8])
	require.NoError(t, err)
	assert.Equal(t, hash.String(), link.CommitSHA)
	assert.Equal(t, model.LinkedByUser, link.CreatedBy)
	assert.Nil(t, link.Confidence)

	// Linking the same pair again fails instead of duplicating.
	_, err = Link(st, dir, sess.ID.String()[:8], hash.String())
	assert.ErrorIs(t, err, ErrAlreadyLinked)

	n, err := Unlink(st, sess.ID.String()[:8], hash.String()[:8])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = Unlink(st, sess.ID.String()[:8], hash.String()[:8])
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnlinkWholeSession(t *testing.T) {
	st := openTestStore(t)
	dir, wt := initRepo(t)
	first := commitFile(t, wt, dir, "main.go", "package main\n", "add main",
		time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	second := commitFile(t, wt, dir, "util.go", "package main\n", "add util",
		time.Date(2024, 6, 1, 10, 5, 0, 0, time.UTC))

	sess := seedSession(t, st, dir, "main.go", time.Date(2024, 6, 1, 9, 55, 0, 0, time.UTC))
	_, err := Link(st, dir, sess.ID.String()[:8], first.String())
	require.NoError(t, err)
	_, err = Link(st, dir, sess.ID.String()[:8], second.String())
	require.NoError(t, err)

	// No commit prefix: every link the session has goes.
	n, err := Unlink(st, sess.ID.String()[:8], "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	links, err := st.GetLinksBySession(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	_, err = Unlink(st, sess.ID.String()[:8], "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAutoLinkScoresAndLinks(t *testing.T) {
	st := openTestStore(t)
	dir, wt := initRepo(t)

	commitTime := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	hash := commitFile(t, wt, dir, "main.go", "package main\n", "add main", commitTime)

	sess := seedSession(t, st, dir, "main.go", commitTime.Add(-2*time.Minute))

	result, err := AutoLink(st, dir, hash.String(), AutoLinkOptions{})
	require.NoError(t, err)
	require.Len(t, result.Linked, 1)
	assert.Equal(t, sess.ID, result.Linked[0].Session.ID)

	// Branch match, full file overlap and a 2-minute gap add up high.
	assert.Greater(t, result.Linked[0].Confidence, 0.8)
	assert.LessOrEqual(t, result.Linked[0].Confidence, 1.0)

	links, err := st.GetLinksBySession(sess.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, model.LinkedByAuto, links[0].CreatedBy)
	require.NotNil(t, links[0].Confidence)
}

func TestAutoLinkIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	dir, wt := initRepo(t)

	commitTime := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	hash := commitFile(t, wt, dir, "main.go", "package main\n", "add main", commitTime)
	seedSession(t, st, dir, "main.go", commitTime.Add(-2*time.Minute))

	first, err := AutoLink(st, dir, hash.String(), AutoLinkOptions{})
	require.NoError(t, err)
	require.Len(t, first.Linked, 1)

	second, err := AutoLink(st, dir, hash.String(), AutoLinkOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.Linked)
	assert.Equal(t, 1, second.Skipped)

	links, err := st.GetLinksBySession(first.Linked[0].Session.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestAutoLinkIgnoresSessionsOutsideWindow(t *testing.T) {
	st := openTestStore(t)
	dir, wt := initRepo(t)

	commitTime := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	hash := commitFile(t, wt, dir, "main.go", "package main\n", "add main", commitTime)

	// Ended two hours before the commit: outside the default window.
	seedSession(t, st, dir, "main.go", commitTime.Add(-2*time.Hour))

	result, err := AutoLink(st, dir, hash.String(), AutoLinkOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Linked)
}

func TestAutoLinkIgnoresOtherWorkingDirectories(t *testing.T) {
	st := openTestStore(t)
	dir, wt := initRepo(t)

	commitTime := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	hash := commitFile(t, wt, dir, "main.go", "package main\n", "add main", commitTime)

	seedSession(t, st, t.TempDir(), "main.go", commitTime.Add(-2*time.Minute))

	result, err := AutoLink(st, dir, hash.String(), AutoLinkOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Linked)
}

func TestAutoLinkDryRun(t *testing.T) {
	st := openTestStore(t)
	dir, wt := initRepo(t)

	commitTime := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	hash := commitFile(t, wt, dir, "main.go", "package main\n", "add main", commitTime)
	sess := seedSession(t, st, dir, "main.go", commitTime.Add(-2*time.Minute))

	result, err := AutoLink(st, dir, hash.String(), AutoLinkOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, result.Linked, 1)

	links, err := st.GetLinksBySession(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestAutoLinkRecent(t *testing.T) {
	st := openTestStore(t)
	dir, wt := initRepo(t)

	first := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(20 * time.Minute)
	commitFile(t, wt, dir, "main.go", "package main\n", "add main", first)
	commitFile(t, wt, dir, "util.go", "package main\n\nfunc helper() {}\n", "add helper", second)

	seedSession(t, st, dir, "main.go", first.Add(-2*time.Minute))
	seedSession(t, st, dir, "util.go", second.Add(-2*time.Minute))

	results, err := AutoLinkRecent(st, dir, 2, AutoLinkOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	total := 0
	for _, r := range results {
		total += len(r.Linked)
	}
	assert.GreaterOrEqual(t, total, 2)
}

func TestBlame(t *testing.T) {
	st := openTestStore(t)
	dir, wt := initRepo(t)

	commitTime := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	content := "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n"
	hash := commitFile(t, wt, dir, "main.go", content, "add main entrypoint", commitTime)

	sess := seedSession(t, st, dir, "main.go", commitTime.Add(-2*time.Minute))
	_, err := Link(st, dir, sess.ID.String()[:8], hash.String())
	require.NoError(t, err)

	report, err := Blame(st, dir, filepath.Join(dir, "main.go"), 4)
	require.NoError(t, err)

	assert.Equal(t, "main.go", report.File)
	assert.Equal(t, hash.String(), report.CommitSHA)
	assert.Equal(t, "add main entrypoint", report.Summary)
	assert.Equal(t, "Dev", report.Author)
	assert.Contains(t, report.LineText, "println")

	require.Len(t, report.Sessions, 1)
	assert.Equal(t, sess.ID, report.Sessions[0].Session.ID)
	assert.Contains(t, report.Sessions[0].Excerpt, "main.go")
}

func TestBlameLineOutOfRange(t *testing.T) {
	st := openTestStore(t)
	dir, wt := initRepo(t)
	commitFile(t, wt, dir, "main.go", "package main\n", "add main",
		time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))

	_, err := Blame(st, dir, filepath.Join(dir, "main.go"), 100)
	assert.Error(t, err)

	_, err = Blame(st, dir, filepath.Join(dir, "main.go"), 0)
	assert.Error(t, err)
}

func TestBlameFileOutsideRepo(t *testing.T) {
	st := openTestStore(t)
	dir, _ := initRepo(t)

	outside := filepath.Join(t.TempDir(), "other.go")
	require.NoError(t, os.WriteFile(outside, []byte("package other\n"), 0o644))

	_, err := Blame(st, dir, outside, 1)
	assert.Error(t, err)
}

func TestResolveCommitShortSHA(t *testing.T) {
	dir, wt := initRepo(t)
	hash := commitFile(t, wt, dir, "main.go", "package main\n", "add main",
		time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))

	repo, err := OpenRepo(dir)
	require.NoError(t, err)

	commit, err := repo.ResolveCommit(hash.String()[:8])
	require.NoError(t, err)
	assert.Equal(t, hash, commit.Hash)

	_, err = repo.ResolveCommit("deadbeef")
	assert.Error(t, err)
}
