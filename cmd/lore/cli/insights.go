package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newInsightsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Show session activity over time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			since := time.Now().UTC().AddDate(0, 0, -days)
			counts, err := st.SessionsPerDay(since)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == formatJSON {
				return printJSON(out, counts)
			}
			if len(counts) == 0 {
				fmt.Fprintf(out, "No sessions in the last %d days.\n", days)
				return nil
			}

			// Collapse to per-day totals with a by-tool breakdown.
			type dayRow struct {
				total  int
				byTool map[string]int
			}
			rows := make(map[string]*dayRow)
			tools := make(map[string]int)
			for _, c := range counts {
				row := rows[c.Day]
				if row == nil {
					row = &dayRow{byTool: make(map[string]int)}
					rows[c.Day] = row
				}
				row.total += c.Count
				row.byTool[c.Tool] += c.Count
				tools[c.Tool] += c.Count
			}

			dayKeys := make([]string, 0, len(rows))
			for day := range rows {
				dayKeys = append(dayKeys, day)
			}
			sort.Strings(dayKeys)

			fmt.Fprintf(out, "Sessions over the last %d days:\n\n", days)
			for _, day := range dayKeys {
				row := rows[day]
				fmt.Fprintf(out, "%s  %s %d\n", day, strings.Repeat("#", min(row.total, 40)), row.total)
			}

			fmt.Fprintln(out, "\nBy tool:")
			toolNames := make([]string, 0, len(tools))
			for tool := range tools {
				toolNames = append(toolNames, tool)
			}
			sort.Slice(toolNames, func(i, j int) bool { return tools[toolNames[i]] > tools[toolNames[j]] })
			for _, tool := range toolNames {
				fmt.Fprintf(out, "  %-12s %d\n", tool, tools[tool])
			}
			return nil
		},
	}

	addFormatFlag(cmd)
	cmd.Flags().IntVar(&days, "days", 30, "how far back to aggregate")
	return cmd
}
