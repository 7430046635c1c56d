package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/config"
	"github.com/varalys/lore/cmd/lore/cli/githooks"
	"github.com/varalys/lore/cmd/lore/cli/linker"
	"github.com/varalys/lore/cmd/lore/cli/logging"
)

// sessionTrailerKey is the commit-message trailer recording the active
// session. `lore blame` and humans both read it.
const sessionTrailerKey = "Lore-Session"

func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Manage lore's git hooks",
		Long: "Installs prepare-commit-msg and post-commit hooks that stamp commits\n" +
			"with the active session and auto-link sessions to new commits.",
	}

	cmd.AddCommand(newHooksInstallCmd())
	cmd.AddCommand(newHooksUninstallCmd())
	cmd.AddCommand(newHooksStatusCmd())
	cmd.AddCommand(newHooksRunCmd())
	return cmd
}

func newHooksInstallCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install git hooks in the current repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
			installed, err := githooks.Install(cwd, force)
			if err != nil {
				return err
			}
			if installed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Hooks already installed.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %d hook(s)\n", installed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "back up and replace existing foreign hooks")
	return cmd
}

func newHooksUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove lore's git hooks from the current repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
			removed, err := githooks.Uninstall(cwd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d hook(s)\n", removed)
			return nil
		},
	}
}

func newHooksStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show git hook installation state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
			states, err := githooks.Status(cwd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, st := range states {
				switch {
				case st.Installed:
					fmt.Fprintf(out, "%-20s installed\n", st.Hook)
				case st.Foreign:
					fmt.Fprintf(out, "%-20s foreign hook present (use --force to back it up)\n", st.Hook)
				default:
					fmt.Fprintf(out, "%-20s not installed\n", st.Hook)
				}
			}
			return nil
		},
	}
}

// newHooksRunCmd is the hidden dispatch target the installed hook scripts
// call. Handlers never fail the commit: errors are logged and swallowed.
func newHooksRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "run",
		Short:  "Git hook handlers",
		Hidden: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// Hooks run detached from a terminal; log to the shared file.
			_ = logging.InitFile()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			logging.Close()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "prepare-commit-msg <commit-msg-file> [source]",
		Short: "Handle the prepare-commit-msg git hook",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			source := ""
			if len(args) > 1 {
				source = args[1]
			}
			if err := prepareCommitMsg(args[0], source); err != nil {
				slog.Debug("prepare-commit-msg hook failed", "error", err)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "post-commit",
		Short: "Handle the post-commit git hook",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := postCommit(); err != nil {
				slog.Debug("post-commit hook failed", "error", err)
			}
			return nil
		},
	})

	return cmd
}

// prepareCommitMsg appends the active session trailer to the commit message.
// Merge, squash and fixup commits already carry a message source; those are
// left alone.
func prepareCommitMsg(msgFile, source string) error {
	switch source {
	case "", "template":
	default:
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.CommitFooter {
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	sess, err := currentSession(cwd)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(msgFile)
	if err != nil {
		return err
	}
	trailer := fmt.Sprintf("%s: %s", sessionTrailerKey, sess.ID)
	if strings.Contains(string(data), sessionTrailerKey+":") {
		return nil
	}

	msg := string(data)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	msg += "\n" + trailer + "\n"
	return os.WriteFile(msgFile, []byte(msg), 0o644)
}

// postCommit auto-links sessions to the commit that was just created.
func postCommit() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := linker.AutoLink(st, cwd, "", linker.AutoLinkOptions{
		MinConfidence: cfg.AutoLinkThreshold,
	})
	if err != nil {
		return err
	}
	if len(res.Linked) > 0 {
		slog.Info("auto-linked sessions to commit", "commit", res.CommitSHA[:8], "sessions", len(res.Linked))
	}
	return nil
}
