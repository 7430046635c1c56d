package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	cmd.AddCommand(newDBStatsCmd())
	cmd.AddCommand(newDBVacuumCmd())
	cmd.AddCommand(newDBPruneCmd())
	return cmd
}

func newDBStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
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

			stats, err := st.Stats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == formatJSON {
				return printJSON(out, stats)
			}

			fmt.Fprintf(out, "Database:  %s (%.1f MB)\n", st.Path(), float64(stats.DatabaseBytes)/(1024*1024))
			fmt.Fprintf(out, "Sessions:  %d (%d synced)\n", stats.SessionCount, stats.SyncedCount)
			fmt.Fprintf(out, "Messages:  %d\n", stats.MessageCount)
			fmt.Fprintf(out, "Links:     %d\n", stats.LinkCount)
			if stats.EarliestSession != nil && stats.LatestSession != nil {
				fmt.Fprintf(out, "Range:     %s to %s\n",
					stats.EarliestSession.Format("2006-01-02"), stats.LatestSession.Format("2006-01-02"))
			}
			if len(stats.SessionsByTool) > 0 {
				fmt.Fprintln(out, "\nBy tool:")
				for tool, n := range stats.SessionsByTool {
					fmt.Fprintf(out, "  %-12s %d\n", tool, n)
				}
			}
			return nil
		},
	}

	addFormatFlag(cmd)
	return cmd
}

func newDBVacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Vacuum(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database compacted.")
			return nil
		},
	}
}

func newDBPruneCmd() *cobra.Command {
	var olderThan int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan < 1 {
				return fmt.Errorf("--older-than must be at least 1 day")
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			cutoff := time.Now().UTC().AddDate(0, 0, -olderThan)
			removed, err := st.DeleteSessionsOlderThan(cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d session(s) older than %d days\n", removed, olderThan)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThan, "older-than", 90, "delete sessions started more than this many days ago")
	return cmd
}
