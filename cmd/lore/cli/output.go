package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

// Output formats accepted by --format.
const (
	formatText     = "text"
	formatJSON     = "json"
	formatMarkdown = "markdown"
)

// addFormatFlag registers --format with the allowed values for the command.
func addFormatFlag(cmd *cobra.Command, allowed ...string) {
	if len(allowed) == 0 {
		allowed = []string{formatText, formatJSON}
	}
	cmd.Flags().StringP("format", "f", allowed[0],
		fmt.Sprintf("output format (%s)", strings.Join(allowed, "|")))
}

// outputFormat reads and validates the --format flag.
func outputFormat(cmd *cobra.Command, allowed ...string) (string, error) {
	if len(allowed) == 0 {
		allowed = []string{formatText, formatJSON}
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if format == a {
			return format, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (expected %s)", format, strings.Join(allowed, " or "))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

// shortID is the display form of a session id.
func shortID(sess *model.Session) string {
	return sess.ID.String()[:8]
}

// formatBytes renders a byte count in the nearest binary unit.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// formatAge renders a timestamp as a compact relative age ("3h ago").
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// printSessionList renders the one-line-per-session table used by several
// commands.
func printSessionList(w io.Writer, sessions []model.Session) {
	for i := range sessions {
		sess := &sessions[i]
		branch := ""
		if sess.GitBranch != "" {
			branch = " [" + sess.GitBranch + "]"
		}
		fmt.Fprintf(w, "%s  %-12s %4d msgs  %-12s %s%s\n",
			shortID(sess), sess.Tool, sess.MessageCount,
			formatAge(sess.StartedAt), sess.WorkingDirectory, branch)
	}
}

// renderMarkdown writes a session transcript as a markdown document.
// Thinking and tool-result blocks are omitted; tool calls become one-line
// markers so the document stays readable.
func renderMarkdown(w io.Writer, sess *model.Session, messages []model.Message, summary string, tags []string) {
	fmt.Fprintf(w, "# Session %s\n\n", shortID(sess))
	fmt.Fprintf(w, "- **Tool**: %s\n", sess.Tool)
	fmt.Fprintf(w, "- **Started**: %s\n", sess.StartedAt.Format(time.RFC3339))
	if sess.EndedAt != nil {
		fmt.Fprintf(w, "- **Ended**: %s\n", sess.EndedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "- **Directory**: %s\n", sess.WorkingDirectory)
	if sess.GitBranch != "" {
		fmt.Fprintf(w, "- **Branch**: %s\n", sess.GitBranch)
	}
	if len(tags) > 0 {
		fmt.Fprintf(w, "- **Tags**: %s\n", strings.Join(tags, ", "))
	}
	fmt.Fprintln(w)

	if summary != "" {
		fmt.Fprintf(w, "## Summary\n\n%s\n\n", summary)
	}

	fmt.Fprintln(w, "## Transcript")
	for i := range messages {
		msg := &messages[i]
		fmt.Fprintf(w, "\n### %s\n\n", roleHeading(msg.Role))
		writeMessageMarkdown(w, msg)
	}
}

func roleHeading(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "User"
	case model.RoleAssistant:
		return "Assistant"
	case model.RoleSystem:
		return "System"
	default:
		return string(role)
	}
}

func writeMessageMarkdown(w io.Writer, msg *model.Message) {
	if msg.Content.Blocks == nil {
		fmt.Fprintln(w, strings.TrimSpace(msg.Content.Text))
		return
	}
	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case model.BlockText:
			if text := strings.TrimSpace(block.Text); text != "" {
				fmt.Fprintln(w, text)
			}
		case model.BlockToolUse:
			fmt.Fprintf(w, "*[tool: %s]*\n", block.Name)
		case model.BlockThinking, model.BlockToolResult, model.BlockUnknown:
			// Omitted from exports.
		}
	}
}
