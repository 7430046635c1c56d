package watcher

import (
	"strings"
	"time"
)

// excludedDirs are directory names that project scans never descend into.
// They are noise: VCS internals, package caches, build outputs, IDE state
// and OS caches.
var excludedDirs = map[string]struct{}{
	".git":          {},
	".hg":           {},
	".svn":          {},
	"node_modules":  {},
	"vendor":        {},
	"target":        {},
	"build":         {},
	"dist":          {},
	"out":           {},
	"__pycache__":   {},
	".venv":         {},
	"venv":          {},
	".tox":          {},
	".mypy_cache":   {},
	".pytest_cache": {},
	".gradle":       {},
	".idea":         {},
	".vscode":       {},
	".DS_Store":     {},
	".cache":        {},
	".next":         {},
	".terraform":    {},
}

// allowedHiddenDirs are hidden directories scans may enter because known
// tools keep transcripts there.
var allowedHiddenDirs = map[string]struct{}{
	".aider":    {},
	".claude":   {},
	".codex":    {},
	".gemini":   {},
	".opencode": {},
}

// SkipDir reports whether a project scan should skip the directory name.
func SkipDir(name string) bool {
	if _, excluded := excludedDirs[name]; excluded {
		return true
	}
	if strings.HasPrefix(name, ".") {
		_, allowed := allowedHiddenDirs[name]
		return !allowed
	}
	return false
}

// ParseTimestampMillis converts milliseconds since the Unix epoch, rejecting
// values that are clearly out of range.
func ParseTimestampMillis(ms int64) (time.Time, bool) {
	if ms <= 0 || ms > time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli() {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// ParseTimestampRFC3339 parses an RFC3339 timestamp.
func ParseTimestampRFC3339(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// FallbackTimestamp resolves a message timestamp: the parsed value when
// present, else the session start, else now.
func FallbackTimestamp(parsed *time.Time, sessionStart time.Time) time.Time {
	if parsed != nil {
		return *parsed
	}
	if !sessionStart.IsZero() {
		return sessionStart
	}
	return time.Now().UTC()
}
