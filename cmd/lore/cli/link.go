package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/linker"
	"github.com/varalys/lore/cmd/lore/cli/validation"
)

func newLinkCmd() *cobra.Command {
	var (
		auto    bool
		recent  int
		dryRun  bool
		window  time.Duration
		minConf float64
	)

	cmd := &cobra.Command{
		Use:   "link [session-id] [commit]",
		Short: "Link sessions to git commits",
		Long: "With a session id and commit, creates an explicit link. With --auto,\n" +
			"scores recent sessions against the commit (HEAD by default) and links\n" +
			"the ones above the confidence threshold.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if auto {
				opts := linker.AutoLinkOptions{Window: window, MinConfidence: minConf, DryRun: dryRun}
				if recent > 1 {
					results, err := linker.AutoLinkRecent(st, cwd, recent, opts)
					if err != nil {
						return err
					}
					for _, res := range results {
						printAutoLinkResult(out, &res, dryRun)
					}
					return nil
				}

				rev := ""
				if len(args) == 1 {
					rev = args[0]
				}
				res, err := linker.AutoLink(st, cwd, rev, opts)
				if err != nil {
					return err
				}
				printAutoLinkResult(out, res, dryRun)
				return nil
			}

			if len(args) != 2 {
				return fmt.Errorf("expected a session id and a commit (or use --auto)")
			}
			if err := validation.SessionPrefix(args[0]); err != nil {
				return err
			}

			link, err := linker.Link(st, cwd, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Linked session %s to commit %s\n",
				link.SessionID.String()[:8], link.CommitSHA[:8])
			return nil
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "link by confidence scoring instead of explicitly")
	cmd.Flags().IntVar(&recent, "recent", 0, "with --auto, process this many commits from HEAD")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "with --auto, score without writing links")
	cmd.Flags().DurationVar(&window, "window", 0, "with --auto, how far back to look for session activity")
	cmd.Flags().Float64Var(&minConf, "min-confidence", 0, "with --auto, minimum confidence to link")
	return cmd
}

func printAutoLinkResult(out io.Writer, res *linker.AutoLinkResult, dryRun bool) {
	verb := "linked"
	if dryRun {
		verb = "would link"
	}
	fmt.Fprintf(out, "%s: %s %d session(s), skipped %d\n", res.CommitSHA[:8], verb, len(res.Linked), res.Skipped)
	for _, cand := range res.Linked {
		fmt.Fprintf(out, "  %s  %-12s confidence %.2f\n",
			cand.Session.ID.String()[:8], cand.Session.Tool, cand.Confidence)
	}
}

func newUnlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <session-id> [commit]",
		Short: "Remove session-commit links",
		Long: "With a commit, removes the link to that commit. Without one, removes\n" +
			"every link the session has.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.SessionPrefix(args[0]); err != nil {
				return err
			}
			sha := ""
			if len(args) == 2 {
				if err := validation.CommitPrefix(args[1]); err != nil {
					return err
				}
				sha = args[1]
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			removed, err := linker.Unlink(st, args[0], sha)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d link(s)\n", removed)
			return nil
		},
	}
}

func newBlameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blame <file>:<line>",
		Short: "Find the AI session behind a line of code",
		Long: "Resolves the commit that last touched the line, then shows the\n" +
			"sessions linked to that commit with the closest conversation excerpt.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, line, err := parseFileLine(args[0])
			if err != nil {
				return err
			}
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			report, err := linker.Blame(st, cwd, file, line)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s:%d\n", report.File, report.Line)
			fmt.Fprintf(out, "  %s\n\n", strings.TrimSpace(report.LineText))
			fmt.Fprintf(out, "Commit %s by %s (%s)\n", report.CommitSHA[:8], report.Author, formatAge(report.When))
			fmt.Fprintf(out, "  %s\n", report.Summary)

			if len(report.Sessions) == 0 {
				fmt.Fprintln(out, "\nNo sessions linked to this commit. Try 'lore link --auto'.")
				return nil
			}
			fmt.Fprintln(out, "\nLinked sessions:")
			for _, se := range report.Sessions {
				fmt.Fprintf(out, "  %s  %s  %s\n", se.Session.ID.String()[:8], se.Session.Tool, formatAge(se.Session.StartedAt))
				if se.Excerpt != "" {
					fmt.Fprintf(out, "    ...%s...\n", se.Excerpt)
				}
			}
			return nil
		},
	}
}

// parseFileLine splits "path/to/file.go:42" into path and line.
func parseFileLine(arg string) (string, int, error) {
	idx := strings.LastIndex(arg, ":")
	if idx <= 0 || idx == len(arg)-1 {
		return "", 0, fmt.Errorf("expected <file>:<line>, got %q", arg)
	}
	line, err := strconv.Atoi(arg[idx+1:])
	if err != nil || line < 1 {
		return "", 0, fmt.Errorf("invalid line number in %q", arg)
	}
	return arg[:idx], line, nil
}
