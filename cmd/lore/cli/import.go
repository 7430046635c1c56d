package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/cloud"
	"github.com/varalys/lore/cmd/lore/cli/config"
	"github.com/varalys/lore/cmd/lore/cli/watcher"
)

func newImportCmd() *cobra.Command {
	var (
		force  bool
		dryRun bool
		only   string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import sessions from AI coding tools on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			identity, err := cloud.LoadIdentity(cfg)
			if err != nil {
				return err
			}

			result, err := watcher.Import(cmd.Context(), st, watcher.ImportOptions{
				Force:     force,
				DryRun:    dryRun,
				Only:      only,
				Enabled:   cfg.WatcherEnabled,
				MachineID: identity.ID.String(),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, wr := range result.Watchers {
				fmt.Fprintf(out, "%-12s imported %d, skipped %d, errors %d\n",
					wr.Watcher, wr.Imported, wr.Skipped, wr.Errors)
			}
			verb := "Imported"
			if dryRun {
				verb = "Would import"
			}
			fmt.Fprintf(out, "%s %d session(s)\n", verb, result.Imported)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-import sources already in the store")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be imported without writing")
	cmd.Flags().StringVar(&only, "only", "", "import from a single watcher (see 'lore doctor' for names)")
	return cmd
}
