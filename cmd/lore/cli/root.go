// Package cli implements the lore command tree. Each command group lives in
// its own file; shared helpers for store access and output formatting live
// here and in output.go.
package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/config"
	"github.com/varalys/lore/cmd/lore/cli/logging"
	"github.com/varalys/lore/cmd/lore/cli/store"
	"github.com/varalys/lore/cmd/lore/cli/telemetry"
	"github.com/varalys/lore/cmd/lore/cli/versioncheck"

	// Watcher registration.
	_ "github.com/varalys/lore/cmd/lore/cli/watcher/aider"
	_ "github.com/varalys/lore/cmd/lore/cli/watcher/amp"
	_ "github.com/varalys/lore/cmd/lore/cli/watcher/claudecode"
	_ "github.com/varalys/lore/cmd/lore/cli/watcher/codex"
	_ "github.com/varalys/lore/cmd/lore/cli/watcher/cursor"
	_ "github.com/varalys/lore/cmd/lore/cli/watcher/gemini"
	_ "github.com/varalys/lore/cmd/lore/cli/watcher/opencode"
	_ "github.com/varalys/lore/cmd/lore/cli/watcher/vscodeext"
)

const gettingStarted = `

Getting Started:
  Run 'lore init' to set up the session store, then 'lore import' to capture
  the AI coding sessions already on this machine. 'lore daemon start' keeps
  capturing in the background.
`

// Version information (set at build time).
var (
	Version = "dev"
	Commit  = "unknown"
)

// SilentError wraps an error that was already reported to the user; main.go
// exits non-zero without printing it again.
type SilentError struct {
	Err error
}

func (e *SilentError) Error() string {
	if e.Err == nil {
		return "silent error"
	}
	return e.Err.Error()
}

func (e *SilentError) Unwrap() error { return e.Err }

// NewRootCmd builds the lore command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lore",
		Short: "Capture and search your AI coding session history",
		Long:  "lore records sessions from AI coding tools into a local, searchable store." + gettingStarted,
		// main.go prints errors once; avoid duplication.
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logging.InitCLI()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			enabled := false
			if cfg, err := config.Load(); err == nil {
				enabled = cfg.TelemetryEnabled
			}
			client := telemetry.NewClient(Version, enabled)
			defer client.Close()
			client.TrackCommand(cmd)

			versioncheck.CheckAndNotify(cmd, Version)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newCurrentCmd())
	cmd.AddCommand(newContextCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newSummarizeCmd())
	cmd.AddCommand(newTagCmd())
	cmd.AddCommand(newAnnotateCmd())
	cmd.AddCommand(newLinkCmd())
	cmd.AddCommand(newUnlinkCmd())
	cmd.AddCommand(newBlameCmd())
	cmd.AddCommand(newHooksCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newCloudCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newInsightsCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("lore %s (%s)\n", Version, Commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// openStore opens the default session store, migrating it if needed.
func openStore() (*store.Store, error) {
	st, err := store.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return st, nil
}
