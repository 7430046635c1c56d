package linker

import (
	"log/slog"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

const (
	// defaultWindow is how far back from a commit the auto-linker looks
	// for session activity.
	defaultWindow = 30 * time.Minute
	// defaultMinConfidence is the score below which a candidate is not
	// linked at all.
	defaultMinConfidence = 0.25
)

// AutoLinkOptions tunes an auto-link run. Zero values mean defaults.
type AutoLinkOptions struct {
	// Window bounds how long before the commit a session may have ended.
	Window time.Duration
	// MinConfidence drops candidates scoring below it.
	MinConfidence float64
	// DryRun scores candidates without writing links.
	DryRun bool
}

func (o *AutoLinkOptions) fill() {
	if o.Window <= 0 {
		o.Window = defaultWindow
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = defaultMinConfidence
	}
}

// Candidate is one session the auto-linker considered for a commit.
type Candidate struct {
	Session    model.Session
	Confidence float64
}

// AutoLinkResult reports what one auto-link run did for a single commit.
type AutoLinkResult struct {
	CommitSHA string
	Linked    []Candidate
	Skipped   int
}

// AutoLink scores sessions against the commit at rev (HEAD when empty) in
// the repository at repoPath and links the ones that clear the confidence
// threshold. Re-running is safe: commits already linked to a session are
// skipped, never duplicated.
func AutoLink(st *store.Store, repoPath, rev string, opts AutoLinkOptions) (*AutoLinkResult, error) {
	opts.fill()

	repo, err := OpenRepo(repoPath)
	if err != nil {
		return nil, err
	}
	commit, err := repo.ResolveCommit(rev)
	if err != nil {
		return nil, err
	}
	return autoLinkCommit(st, repo, commit, opts)
}

// AutoLinkRecent runs the auto-linker over the newest count commits on HEAD.
func AutoLinkRecent(st *store.Store, repoPath string, count int, opts AutoLinkOptions) ([]AutoLinkResult, error) {
	opts.fill()

	repo, err := OpenRepo(repoPath)
	if err != nil {
		return nil, err
	}
	commits, err := repo.RecentCommits(count)
	if err != nil {
		return nil, err
	}

	var results []AutoLinkResult
	for _, commit := range commits {
		res, err := autoLinkCommit(st, repo, commit, opts)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func autoLinkCommit(st *store.Store, repo *Repo, commit *object.Commit, opts AutoLinkOptions) (*AutoLinkResult, error) {
	sha := commit.Hash.String()
	commitTime := commit.Committer.When.UTC()
	result := &AutoLinkResult{CommitSHA: sha}

	files, err := commitFiles(commit)
	if err != nil {
		// Stats can fail on exotic merges; time and branch still score.
		slog.Debug("commit diff failed", "commit", sha, "error", err)
	}
	branch := repo.HeadBranch()

	candidates, err := st.SessionsActiveBetween(commitTime.Add(-opts.Window), commitTime, repo.Root())
	if err != nil {
		return nil, err
	}

	for _, sess := range candidates {
		exists, err := st.LinkExists(sess.ID, sha)
		if err != nil {
			return nil, err
		}
		if exists {
			result.Skipped++
			continue
		}

		score := confidence(st, &sess, files, branch, commitTime, opts.Window)
		if score < opts.MinConfidence {
			continue
		}

		if !opts.DryRun {
			link := &model.SessionLink{
				ID:         uuid.New(),
				SessionID:  sess.ID,
				LinkType:   model.LinkCommit,
				CommitSHA:  sha,
				Branch:     sess.GitBranch,
				CreatedAt:  time.Now().UTC(),
				CreatedBy:  model.LinkedByAuto,
				Confidence: &score,
			}
			if err := st.InsertLink(link); err != nil {
				return nil, err
			}
		}
		result.Linked = append(result.Linked, Candidate{Session: sess, Confidence: score})
	}
	return result, nil
}

// confidence scores how likely a session produced the commit:
//
//	0.2  session branch matches the commit's branch
//	0.4  scaled by the fraction of commit files the session touched
//	0.3  scaled by how close the session's last activity is to the commit
//	0.1  bonus when that gap is under five minutes
//
// capped at 1.0.
func confidence(st *store.Store, sess *model.Session, commitPaths []string, branch string, commitTime time.Time, window time.Duration) float64 {
	score := 0.0

	if sess.GitBranch != "" && sess.GitBranch == branch {
		score += 0.2
	}
	if ratio := fileOverlap(st, sess, commitPaths); ratio > 0 {
		score += 0.4 * ratio
	}

	last := sess.StartedAt
	if sess.EndedAt != nil {
		last = *sess.EndedAt
	}
	gap := commitTime.Sub(last)
	if gap < 0 {
		gap = 0
	}
	if gap < window {
		score += 0.3 * (1 - float64(gap)/float64(window))
	}
	if gap < 5*time.Minute {
		score += 0.1
	}

	if score > 1 {
		score = 1
	}
	return score
}

// fileOverlap returns the fraction of the commit's files that the session's
// tool calls also touched.
func fileOverlap(st *store.Store, sess *model.Session, commitPaths []string) float64 {
	if len(commitPaths) == 0 {
		return 0
	}
	msgs, err := st.GetMessages(sess.ID)
	if err != nil {
		slog.Debug("loading messages for overlap", "session", sess.ID, "error", err)
		return 0
	}
	sessionFiles := model.ExtractSessionFiles(msgs, sess.WorkingDirectory)
	if len(sessionFiles) == 0 {
		return 0
	}

	touched := make(map[string]struct{}, len(sessionFiles))
	for _, f := range sessionFiles {
		touched[f] = struct{}{}
	}
	matches := 0
	for _, p := range commitPaths {
		if _, ok := touched[p]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(commitPaths))
}
