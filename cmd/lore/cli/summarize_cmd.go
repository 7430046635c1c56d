package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/config"
	"github.com/varalys/lore/cmd/lore/cli/summarize"
	"github.com/varalys/lore/cmd/lore/cli/validation"
)

func newSummarizeCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "summarize <session-id>",
		Short: "Generate and store a summary for a session",
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

			if !force {
				if existing, sumErr := st.GetSummary(sess.ID); sumErr == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", existing.Content)
					return nil
				}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			gen, err := summarize.New(cfg.Summary)
			if err != nil {
				return err
			}

			summary, err := summarize.Session(cmd.Context(), st, sess, gen)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "regenerate even when a summary exists")
	return cmd
}
