package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

func newSearchCmd() *cobra.Command {
	var (
		limit   int
		tool    string
		role    string
		project string
		since   string
		until   string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search across all captured sessions",
		Long: "Searches message content with SQLite FTS5. Queries support AND, OR,\n" +
			"NOT and prefix* matching.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			opts := model.SearchOptions{
				Limit:      limit,
				Tool:       tool,
				RepoPrefix: project,
			}
			if role != "" {
				r, ok := model.ParseRole(role)
				if !ok {
					return fmt.Errorf("unknown role %q (expected user, assistant or system)", role)
				}
				opts.Role = r
			}
			if opts.Since, err = parseDateFlag(since); err != nil {
				return err
			}
			if opts.Until, err = parseDateFlag(until); err != nil {
				return err
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.EnsureSearchIndex(); err != nil {
				return err
			}
			results, err := st.SearchMessages(strings.Join(args, " "), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == formatJSON {
				return printJSON(out, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(out, "%s  %-12s %-9s %s\n", r.SessionID.String()[:8], r.Tool, r.Role, formatAge(r.Timestamp))
				fmt.Fprintf(out, "    %s\n", r.Snippet)
			}
			return nil
		},
	}

	addFormatFlag(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultSessionLimit, "maximum matches")
	cmd.Flags().StringVar(&tool, "tool", "", "restrict to one tool")
	cmd.Flags().StringVar(&role, "role", "", "restrict to a role (user, assistant, system)")
	cmd.Flags().StringVar(&project, "project", "", "restrict to a working-directory prefix")
	cmd.Flags().StringVar(&since, "since", "", "only messages on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "only messages on or before this date (YYYY-MM-DD)")
	return cmd
}

// parseDateFlag accepts YYYY-MM-DD or RFC 3339. Empty means no bound.
func parseDateFlag(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil //nolint:nilnil // absent bound
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", s)
}
