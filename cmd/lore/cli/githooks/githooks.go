// Package githooks installs the git hooks that connect lore to a
// repository: prepare-commit-msg for the optional session footer and
// post-commit for auto-linking. Hooks carry a fixed sentinel comment so
// install, update and uninstall never touch hooks lore does not own.
package githooks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Marker identifies hooks managed by lore.
const Marker = "lore git hooks"

// BackupSuffix is appended to a foreign hook displaced by --force.
const BackupSuffix = ".backup"

// ErrNotARepository is returned when no .git can be found at or above
// the given directory.
var ErrNotARepository = errors.New("not a git repository")

// ErrHookExists is returned when a foreign hook occupies a managed slot
// and force was not given.
var ErrHookExists = errors.New("a git hook not managed by lore already exists (use --force to back it up)")

// managedHooks lists the hooks lore owns, in install order.
var managedHooks = []string{"prepare-commit-msg", "post-commit"}

type hookSpec struct {
	name    string
	content string
}

func buildHookSpecs() []hookSpec {
	return []hookSpec{
		{
			name: "prepare-commit-msg",
			content: fmt.Sprintf(`#!/bin/sh
# %s
# Adds the session footer to the commit message when enabled in config.
lore hooks run prepare-commit-msg "$1" "$2" 2>/dev/null || true
`, Marker),
		},
		{
			name: "post-commit",
			content: fmt.Sprintf(`#!/bin/sh
# %s
# Links the new commit to recently active sessions.
lore hooks run post-commit 2>/dev/null || true
`, Marker),
		},
	}
}

// GitDir locates the repository's .git directory by walking up from dir.
// Worktree .git files ("gitdir: <path>") are resolved.
func GitDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		gitPath := filepath.Join(abs, ".git")
		fi, statErr := os.Stat(gitPath)
		if statErr == nil {
			if fi.IsDir() {
				return gitPath, nil
			}
			return resolveGitFile(gitPath, abs)
		}

		parent := filepath.Dir(abs)
		if parent == abs {
			return "", ErrNotARepository
		}
		abs = parent
	}
}

func resolveGitFile(gitPath, base string) (string, error) {
	data, err := os.ReadFile(gitPath) //nolint:gosec // path found by walking up
	if err != nil {
		return "", fmt.Errorf("reading .git file: %w", err)
	}
	line := strings.TrimSpace(string(data))
	target, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("unrecognized .git file at %s", gitPath)
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	return filepath.Clean(target), nil
}

// State describes one managed hook slot.
type State struct {
	Hook string

	// Installed means a hook carrying the lore marker is present.
	Installed bool

	// Foreign means a hook without the marker occupies the slot.
	Foreign bool

	// BackupExists means a displaced hook is parked at <hook>.backup.
	BackupExists bool
}

// Status reports the state of every managed hook for the repository
// containing dir.
func Status(dir string) ([]State, error) {
	gitDir, err := GitDir(dir)
	if err != nil {
		return nil, err
	}

	hooksDir := filepath.Join(gitDir, "hooks")
	states := make([]State, 0, len(managedHooks))
	for _, hook := range managedHooks {
		st := State{Hook: hook}
		data, readErr := os.ReadFile(filepath.Join(hooksDir, hook)) //nolint:gosec // path from constants
		if readErr == nil {
			if strings.Contains(string(data), Marker) {
				st.Installed = true
			} else {
				st.Foreign = true
			}
		}
		if fileExists(filepath.Join(hooksDir, hook+BackupSuffix)) {
			st.BackupExists = true
		}
		states = append(states, st)
	}
	return states, nil
}

// Installed reports whether every managed hook is present with the marker.
func Installed(dir string) bool {
	states, err := Status(dir)
	if err != nil {
		return false
	}
	for _, st := range states {
		if !st.Installed {
			return false
		}
	}
	return true
}

// Install writes the managed hooks into the repository containing dir.
// A foreign hook aborts the install unless force is set, in which case it
// is moved to <hook>.backup first. Returns the number of hooks written;
// hooks already up to date are not rewritten.
func Install(dir string, force bool) (int, error) {
	gitDir, err := GitDir(dir)
	if err != nil {
		return 0, err
	}

	hooksDir := filepath.Join(gitDir, "hooks")
	if err := os.MkdirAll(hooksDir, 0o755); err != nil { //nolint:gosec // hooks must be traversable
		return 0, fmt.Errorf("creating hooks directory: %w", err)
	}

	// Refuse before touching anything so a failed install changes nothing.
	if !force {
		for _, spec := range buildHookSpecs() {
			hookPath := filepath.Join(hooksDir, spec.name)
			existing, readErr := os.ReadFile(hookPath) //nolint:gosec // path from constants
			if readErr == nil && !strings.Contains(string(existing), Marker) {
				return 0, fmt.Errorf("%s: %w", spec.name, ErrHookExists)
			}
		}
	}

	installed := 0
	for _, spec := range buildHookSpecs() {
		hookPath := filepath.Join(hooksDir, spec.name)

		existing, readErr := os.ReadFile(hookPath) //nolint:gosec // path from constants
		if readErr == nil && !strings.Contains(string(existing), Marker) {
			backupPath := hookPath + BackupSuffix
			if err := os.Rename(hookPath, backupPath); err != nil {
				return installed, fmt.Errorf("backing up %s: %w", spec.name, err)
			}
		}

		written, err := writeHookFile(hookPath, spec.content)
		if err != nil {
			return installed, fmt.Errorf("installing %s hook: %w", spec.name, err)
		}
		if written {
			installed++
		}
	}
	return installed, nil
}

// Uninstall removes marked hooks and restores any .backup files.
// Returns the number of hooks removed.
func Uninstall(dir string) (int, error) {
	gitDir, err := GitDir(dir)
	if err != nil {
		return 0, err
	}

	hooksDir := filepath.Join(gitDir, "hooks")
	removed := 0
	var problems []string

	for _, hook := range managedHooks {
		hookPath := filepath.Join(hooksDir, hook)
		backupPath := hookPath + BackupSuffix

		data, readErr := os.ReadFile(hookPath) //nolint:gosec // path from constants
		if readErr == nil && strings.Contains(string(data), Marker) {
			if err := os.Remove(hookPath); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", hook, err))
				continue
			}
			removed++
		}

		if fileExists(backupPath) {
			if err := os.Rename(backupPath, hookPath); err != nil {
				problems = append(problems, fmt.Sprintf("restore %s%s: %v", hook, BackupSuffix, err))
			}
		}
	}

	if len(problems) > 0 {
		return removed, fmt.Errorf("removing hooks: %s", strings.Join(problems, "; "))
	}
	return removed, nil
}

// writeHookFile writes the hook unless it already holds the same content.
func writeHookFile(path, content string) (bool, error) {
	existing, err := os.ReadFile(path) //nolint:gosec // path from constants
	if err == nil && string(existing) == content {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil { //nolint:gosec // hooks must be executable
		return false, fmt.Errorf("writing hook file %s: %w", path, err)
	}
	return true, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
