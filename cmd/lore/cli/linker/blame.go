package linker

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

// BlameReport answers "which session produced this line": the commit that
// last touched file:line plus every session linked to that commit, each with
// a conversation excerpt around the line when one can be found.
type BlameReport struct {
	File      string
	Line      int
	LineText  string
	CommitSHA string
	Summary   string
	Author    string
	When      time.Time
	Sessions  []SessionExcerpt
}

// SessionExcerpt pairs a linked session with the conversation fragment
// closest to the blamed line.
type SessionExcerpt struct {
	Session model.Session
	Link    model.SessionLink
	Excerpt string
}

// excerptRadius is how many characters of context surround a match.
const excerptRadius = 120

// Blame resolves file:line in the repository at repoPath to its last commit
// and collects the sessions linked to it.
func Blame(st *store.Store, repoPath, file string, line int) (*BlameReport, error) {
	if line < 1 {
		return nil, fmt.Errorf("line %d out of range", line)
	}

	repo, err := OpenRepo(repoPath)
	if err != nil {
		return nil, err
	}
	rel, err := repoRelative(repo.Root(), file)
	if err != nil {
		return nil, err
	}

	head, err := repo.ResolveCommit("HEAD")
	if err != nil {
		return nil, err
	}
	blame, err := git.Blame(head, rel)
	if err != nil {
		return nil, fmt.Errorf("blaming %s: %w", rel, err)
	}
	if line > len(blame.Lines) {
		return nil, fmt.Errorf("line %d out of range (%s has %d lines)", line, rel, len(blame.Lines))
	}
	blamed := blame.Lines[line-1]

	commit, err := repo.ResolveCommit(blamed.Hash.String())
	if err != nil {
		return nil, err
	}

	report := &BlameReport{
		File:      rel,
		Line:      line,
		LineText:  blamed.Text,
		CommitSHA: blamed.Hash.String(),
		Summary:   firstLine(commit.Message),
		Author:    commit.Author.Name,
		When:      commit.Author.When.UTC(),
	}

	links, err := st.GetLinksByCommit(report.CommitSHA)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		sess, err := st.GetSession(link.SessionID)
		if err != nil {
			continue
		}
		msgs, err := st.GetMessages(link.SessionID)
		if err != nil {
			return nil, err
		}
		report.Sessions = append(report.Sessions, SessionExcerpt{
			Session: *sess,
			Link:    link,
			Excerpt: findExcerpt(msgs, rel, blamed.Text),
		})
	}
	return report, nil
}

func repoRelative(root, file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path: %w", err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside the repository at %s", file, root)
	}
	return filepath.ToSlash(rel), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// findExcerpt locates the conversation fragment most relevant to the blamed
// line: a fuzzy match of the line text first, then any mention of the file.
func findExcerpt(msgs []model.Message, rel, lineText string) string {
	pattern := matchPattern(lineText)

	if pattern != "" {
		dmp := diffmatchpatch.New()
		for _, m := range msgs {
			text := m.Content.PlainText()
			if text == "" {
				continue
			}
			if loc := dmp.MatchMain(text, pattern, 0); loc >= 0 {
				return surround(text, loc, len(pattern))
			}
		}
	}

	// Fall back to the first message that mentions the file at all.
	base := filepath.Base(rel)
	for _, m := range msgs {
		text := m.Content.PlainText()
		if idx := strings.Index(text, base); idx >= 0 {
			return surround(text, idx, len(base))
		}
	}
	return ""
}

// matchPattern trims the blamed line to something MatchMain can handle:
// fuzzy matching is bit-parallel and capped at 32 characters.
func matchPattern(lineText string) string {
	dmp := diffmatchpatch.New()
	pattern := strings.TrimSpace(lineText)
	if len(pattern) > dmp.MatchMaxBits {
		pattern = pattern[:dmp.MatchMaxBits]
	}
	return pattern
}

func surround(text string, loc, matchLen int) string {
	start := loc - excerptRadius
	if start < 0 {
		start = 0
	}
	end := loc + matchLen + excerptRadius
	if end > len(text) {
		end = len(text)
	}
	excerpt := strings.TrimSpace(text[start:end])
	if start > 0 {
		excerpt = "..." + excerpt
	}
	if end < len(text) {
		excerpt += "..."
	}
	return excerpt
}
