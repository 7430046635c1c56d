package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/daemon"
	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/validation"
)

const defaultSessionLimit = 20

func newSessionsCmd() *cobra.Command {
	var (
		limit   int
		project string
		tag     string
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List captured sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var sessions []model.Session
			if tag != "" {
				sessions, err = st.ListSessionsWithTag(tag, limit)
			} else {
				sessions, err = st.ListSessions(limit, project)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == formatJSON {
				return printJSON(out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions yet. Run 'lore import' to capture existing ones.")
				return nil
			}
			printSessionList(out, sessions)
			return nil
		},
	}

	addFormatFlag(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultSessionLimit, "maximum sessions to list")
	cmd.Flags().StringVar(&project, "project", "", "filter by working-directory prefix")
	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag label")
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session with its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd, formatText, formatJSON, formatMarkdown)
			if err != nil {
				return err
			}
			if err := validation.SessionPrefix(args[0]); err != nil {
				return err
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := st.FindSessionByIDPrefix(args[0])
			if err != nil {
				return err
			}
			messages, err := st.GetMessages(sess.ID)
			if err != nil {
				return err
			}

			summary := ""
			if s, sumErr := st.GetSummary(sess.ID); sumErr == nil {
				summary = s.Content
			}
			tags, _ := st.GetTags(sess.ID)

			out := cmd.OutOrStdout()
			switch format {
			case formatJSON:
				return printJSON(out, map[string]any{
					"session":  sess,
					"messages": messages,
					"summary":  summary,
					"tags":     tags,
				})
			case formatMarkdown:
				renderMarkdown(out, sess, messages, summary, tags)
				return nil
			}

			fmt.Fprintf(out, "Session %s (%s)\n", shortID(sess), sess.ID)
			fmt.Fprintf(out, "Tool:      %s\n", sess.Tool)
			fmt.Fprintf(out, "Started:   %s (%s)\n", sess.StartedAt.Format(time.RFC3339), formatAge(sess.StartedAt))
			if sess.EndedAt != nil {
				fmt.Fprintf(out, "Ended:     %s\n", sess.EndedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "Directory: %s\n", sess.WorkingDirectory)
			if sess.GitBranch != "" {
				fmt.Fprintf(out, "Branch:    %s\n", sess.GitBranch)
			}
			fmt.Fprintf(out, "Messages:  %d\n", sess.MessageCount)
			if len(tags) > 0 {
				fmt.Fprintf(out, "Tags:      %v\n", tags)
			}
			if summary != "" {
				fmt.Fprintf(out, "\n%s\n", summary)
			}

			if links, linkErr := st.GetLinksBySession(sess.ID); linkErr == nil && len(links) > 0 {
				fmt.Fprintln(out, "\nLinked commits:")
				for _, link := range links {
					sha := link.CommitSHA
					if len(sha) > 8 {
						sha = sha[:8]
					}
					fmt.Fprintf(out, "  %s (%s)\n", sha, link.CreatedBy)
				}
			}

			if annotations, annErr := st.GetAnnotations(sess.ID); annErr == nil && len(annotations) > 0 {
				fmt.Fprintln(out, "\nNotes:")
				for _, a := range annotations {
					fmt.Fprintf(out, "  %s  %s\n", a.CreatedAt.Format("2006-01-02"), a.Content)
				}
			}

			fmt.Fprintln(out, "\nTranscript:")
			for i := range messages {
				msg := &messages[i]
				fmt.Fprintf(out, "[%s] %s\n", roleHeading(msg.Role), msg.Content.Summary(200))
			}
			return nil
		},
	}

	addFormatFlag(cmd, formatText, formatJSON, formatMarkdown)
	return cmd
}

func newCurrentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Show the session active in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}

			sess, err := currentSession(cwd)
			if err != nil {
				if errors.Is(err, daemon.ErrNoCurrentSession) {
					return fmt.Errorf("no active session in %s", cwd)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if format == formatJSON {
				return printJSON(out, sess)
			}
			fmt.Fprintf(out, "%s  %s  started %s\n", shortID(sess), sess.Tool, formatAge(sess.StartedAt))
			return nil
		},
	}

	addFormatFlag(cmd)
	return cmd
}

// currentSession asks the daemon first and falls back to querying the store
// directly when no daemon is running.
func currentSession(cwd string) (*model.Session, error) {
	sess, err := daemon.CurrentSession(cwd)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, daemon.ErrNotRunning) {
		return nil, err
	}

	st, err := openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	now := time.Now().UTC()
	sessions, err := st.SessionsActiveBetween(now.Add(-30*time.Minute), now, cwd)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, daemon.ErrNoCurrentSession
	}
	return &sessions[0], nil
}

func newContextCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "context [directory]",
		Short: "Summarize recent session activity for a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			dir := ""
			if len(args) == 1 {
				dir = args[0]
			} else if dir, err = os.Getwd(); err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListSessions(limit, dir)
			if err != nil {
				return err
			}

			type entry struct {
				Session model.Session `json:"session"`
				Summary string        `json:"summary,omitempty"`
			}
			entries := make([]entry, 0, len(sessions))
			for i := range sessions {
				e := entry{Session: sessions[i]}
				if s, sumErr := st.GetSummary(sessions[i].ID); sumErr == nil {
					e.Summary = s.Content
				}
				entries = append(entries, e)
			}

			out := cmd.OutOrStdout()
			if format == formatJSON {
				return printJSON(out, map[string]any{"directory": dir, "sessions": entries})
			}

			if len(entries) == 0 {
				fmt.Fprintf(out, "No sessions recorded under %s\n", dir)
				return nil
			}
			fmt.Fprintf(out, "Recent activity in %s:\n\n", dir)
			for i := range entries {
				sess := &entries[i].Session
				fmt.Fprintf(out, "%s  %s  %s  %d msgs\n", shortID(sess), sess.Tool, formatAge(sess.StartedAt), sess.MessageCount)
				if entries[i].Summary != "" {
					fmt.Fprintf(out, "    %s\n", firstSummaryLine(entries[i].Summary))
				}
			}
			return nil
		},
	}

	addFormatFlag(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum sessions to include")
	return cmd
}

func firstSummaryLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func newDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and everything attached to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.SessionPrefix(args[0]); err != nil {
				return err
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := st.FindSessionByIDPrefix(args[0])
			if err != nil {
				return err
			}

			if !yes {
				confirmed := false
				form := huh.NewForm(huh.NewGroup(
					huh.NewConfirm().
						Title(fmt.Sprintf("Delete session %s (%s, %d messages)?", shortID(sess), sess.Tool, sess.MessageCount)).
						Value(&confirmed),
				))
				if err := form.Run(); err != nil {
					return fmt.Errorf("reading confirmation: %w", err)
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			if err := st.DeleteSession(sess.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", shortID(sess))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
