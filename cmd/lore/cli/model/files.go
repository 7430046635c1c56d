package model

import (
	"encoding/json"
	"sort"
	"strings"
)

// fileCommands are shell commands whose positional arguments are usually
// file paths. Used for best-effort extraction from Bash tool calls.
var fileCommands = []string{
	"cat", "less", "more", "head", "tail", "vim", "nano", "code",
	"cp", "mv", "rm", "touch", "mkdir", "chmod", "chown",
}

// ExtractSessionFiles returns the deduplicated set of file paths touched by
// tool calls in the given messages, made relative to workingDirectory where
// possible. The result is sorted for stable output; it feeds the commit
// linker's file-overlap scoring.
func ExtractSessionFiles(messages []Message, workingDirectory string) []string {
	set := make(map[string]struct{})

	for _, m := range messages {
		for _, b := range m.Content.Blocks {
			if b.Type == BlockToolUse {
				extractFromToolUse(b.Name, b.Input, workingDirectory, set)
			}
		}
	}

	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func extractFromToolUse(toolName string, input json.RawMessage, workingDirectory string, set map[string]struct{}) {
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil {
		return
	}
	stringArg := func(key string) (string, bool) {
		v, ok := args[key].(string)
		return v, ok && v != ""
	}

	switch toolName {
	case "Read", "Write", "Edit":
		if p, ok := stringArg("file_path"); ok {
			addRelative(p, workingDirectory, set)
		}
	case "Glob", "Grep":
		if p, ok := stringArg("path"); ok {
			addRelative(p, workingDirectory, set)
		}
	case "NotebookEdit":
		if p, ok := stringArg("notebook_path"); ok {
			addRelative(p, workingDirectory, set)
		}
	case "Bash":
		if cmd, ok := stringArg("command"); ok {
			extractFromBashCommand(cmd, workingDirectory, set)
		}
	}
}

// extractFromBashCommand scans a shell command for path-like tokens and
// arguments to common file commands. Best effort only; it never needs to
// be complete, just useful for overlap scoring.
func extractFromBashCommand(cmd, workingDirectory string, set map[string]struct{}) {
	for _, part := range strings.FieldsFunc(cmd, func(r rune) bool {
		return r == '|' || r == ';' || r == '&' || r == '\n' || r == ' '
	}) {
		part = strings.TrimSpace(part)
		if part == "" || strings.HasPrefix(part, "-") {
			continue
		}

		if strings.HasPrefix(part, "/") || strings.HasPrefix(part, "./") || strings.HasPrefix(part, "../") {
			addRelative(part, workingDirectory, set)
			continue
		}

		for _, fc := range fileCommands {
			if !strings.HasPrefix(part, fc) {
				continue
			}
			for _, arg := range strings.Fields(strings.TrimPrefix(part, fc)) {
				if strings.HasPrefix(arg, "-") {
					continue
				}
				addRelative(arg, workingDirectory, set)
			}
		}
	}
}

func addRelative(path, workingDirectory string, set map[string]struct{}) {
	if rel, ok := makeRelative(path, workingDirectory); ok && !strings.Contains(rel, "$") {
		set[rel] = struct{}{}
	}
}

// makeRelative strips the working directory prefix from absolute paths.
// Relative paths are cleaned of a leading "./". Absolute paths outside the
// working directory are kept as-is; git occasionally records those too.
func makeRelative(path, workingDirectory string) (string, bool) {
	if !strings.HasPrefix(path, "/") {
		cleaned := strings.TrimPrefix(path, "./")
		if cleaned == "" {
			return "", false
		}
		return cleaned, true
	}

	wd := strings.TrimRight(workingDirectory, "/")
	if wd != "" {
		if rel, found := strings.CutPrefix(path, wd); found {
			rel = strings.TrimLeft(rel, "/")
			if rel != "" {
				return rel, true
			}
		}
	}
	return path, true
}
