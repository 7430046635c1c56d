// Package linker connects captured sessions to git history. Links are
// directional claims ("this session produced that commit") stored alongside
// the sessions; auto-linking scores candidates by time proximity, branch and
// file overlap, while manual links carry no confidence at all.
package linker

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

// ErrAlreadyLinked is returned when a manual link already exists.
var ErrAlreadyLinked = errors.New("session is already linked to this commit")

// Repo is an opened git repository rooted at a working tree.
type Repo struct {
	repo *git.Repository
	root string
}

// OpenRepo opens the repository containing path, walking up to find the
// .git directory the way git itself does.
func OpenRepo(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", abs, err)
	}

	root := abs
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	return &Repo{repo: repo, root: root}, nil
}

// Root returns the working tree root.
func (r *Repo) Root() string {
	return r.root
}

// ResolveCommit resolves a revision (full or abbreviated SHA, ref name,
// or HEAD) to its commit.
func (r *Repo) ResolveCommit(rev string) (*object.Commit, error) {
	if rev == "" {
		rev = "HEAD"
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolving revision %q: %w", rev, err)
	}
	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", hash, err)
	}
	return commit, nil
}

// HeadBranch returns the short name of the branch HEAD points at, or ""
// when HEAD is detached.
func (r *Repo) HeadBranch() string {
	head, err := r.repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

// RecentCommits returns up to limit commits reachable from HEAD,
// newest-first.
func (r *Repo) RecentCommits(limit int) ([]*object.Commit, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("walking history: %w", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	for len(commits) < limit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// commitFiles returns the paths touched by a commit, relative to the
// repository root.
func commitFiles(c *object.Commit) ([]string, error) {
	stats, err := c.Stats()
	if err != nil {
		return nil, fmt.Errorf("diffing commit %s: %w", c.Hash, err)
	}
	files := make([]string, 0, len(stats))
	for _, st := range stats {
		files = append(files, st.Name)
	}
	return files, nil
}

// Link records a user-created link between a session (by id prefix) and a
// commit (by revision) in the repository at repoPath.
func Link(st *store.Store, repoPath, sessionPrefix, rev string) (*model.SessionLink, error) {
	sess, err := st.FindSessionByIDPrefix(sessionPrefix)
	if err != nil {
		return nil, err
	}
	repo, err := OpenRepo(repoPath)
	if err != nil {
		return nil, err
	}
	commit, err := repo.ResolveCommit(rev)
	if err != nil {
		return nil, err
	}

	sha := commit.Hash.String()
	exists, err := st.LinkExists(sess.ID, sha)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("session %s, commit %.8s: %w", sess.ID, sha, ErrAlreadyLinked)
	}

	link := &model.SessionLink{
		ID:        uuid.New(),
		SessionID: sess.ID,
		LinkType:  model.LinkCommit,
		CommitSHA: sha,
		Branch:    repo.HeadBranch(),
		CreatedAt: time.Now().UTC(),
		CreatedBy: model.LinkedByUser,
	}
	if err := st.InsertLink(link); err != nil {
		return nil, err
	}
	return link, nil
}

// Unlink removes links between a session (by id prefix) and commits matching
// the SHA prefix, returning how many links were removed. An empty SHA prefix
// removes every link the session has.
func Unlink(st *store.Store, sessionPrefix, shaPrefix string) (int, error) {
	sess, err := st.FindSessionByIDPrefix(sessionPrefix)
	if err != nil {
		return 0, err
	}

	var n int
	if shaPrefix == "" {
		n, err = st.DeleteLinksBySession(sess.ID)
	} else {
		n, err = st.DeleteLinkBySessionAndCommit(sess.ID, shaPrefix)
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if shaPrefix == "" {
			return 0, fmt.Errorf("session %s has no links: %w", sess.ID, store.ErrNotFound)
		}
		return 0, fmt.Errorf("no link from session %s to commit %q: %w", sess.ID, shaPrefix, store.ErrNotFound)
	}
	return n, nil
}
