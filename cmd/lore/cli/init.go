package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/cloud"
	"github.com/varalys/lore/cmd/lore/cli/config"
	"github.com/varalys/lore/cmd/lore/cli/paths"
	"github.com/varalys/lore/cmd/lore/cli/watcher"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Set up the lore directory and session store",
		Long: "Creates ~/.lore, initializes the session database, assigns this\n" +
			"machine a stable identity, and reports which AI coding tools were\n" +
			"detected on this machine.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := paths.LoreDir()
			if err != nil {
				return err
			}

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
			if err := st.UpsertMachine(identity.ID.String(), identity.Name); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized %s\n", dir)
			fmt.Fprintf(out, "Machine: %s (%s)\n\n", identity.Name, identity.ID)

			fmt.Fprintln(out, "Detected tools:")
			found := 0
			for _, w := range watcher.All() {
				info := w.Info()
				if !w.IsAvailable() {
					continue
				}
				found++
				fmt.Fprintf(out, "  %-12s %s\n", info.Name, info.Description)
			}
			if found == 0 {
				fmt.Fprintln(out, "  none (sessions will appear once a supported tool runs)")
			}
			fmt.Fprintln(out, "\nRun 'lore import' to capture existing sessions.")
			return nil
		},
	}
}
