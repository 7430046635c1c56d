package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/cloud"
	"github.com/varalys/lore/cmd/lore/cli/daemon"
	"github.com/varalys/lore/cmd/lore/cli/githooks"
	"github.com/varalys/lore/cmd/lore/cli/paths"
	"github.com/varalys/lore/cmd/lore/cli/watcher"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the lore installation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			checkLoreDir(out)
			checkStore(out)
			checkWatchers(out)
			checkDaemon(out)
			checkHooks(out)
			checkCloud(out)
			checkSummarizer(out)
			return nil
		},
	}
}

func report(out io.Writer, ok bool, label, detail string) {
	mark := "ok  "
	if !ok {
		mark = "warn"
	}
	fmt.Fprintf(out, "[%s] %-18s %s\n", mark, label, detail)
}

func checkLoreDir(out io.Writer) {
	dir, err := paths.LoreDir()
	if err != nil {
		report(out, false, "state directory", err.Error())
		return
	}
	report(out, true, "state directory", dir)
}

func checkStore(out io.Writer) {
	st, err := openStore()
	if err != nil {
		report(out, false, "session store", err.Error())
		return
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		report(out, false, "session store", err.Error())
		return
	}
	report(out, true, "session store",
		fmt.Sprintf("%d sessions, %d messages", stats.SessionCount, stats.MessageCount))

	if rebuild, err := st.SearchIndexNeedsRebuild(); err == nil && rebuild {
		report(out, false, "search index", "out of sync; the next search rebuilds it")
	} else {
		report(out, true, "search index", "consistent")
	}
}

func checkWatchers(out io.Writer) {
	available := 0
	for _, w := range watcher.All() {
		info := w.Info()
		if w.IsAvailable() {
			available++
			report(out, true, "tool: "+info.Name, "detected")
		}
	}
	if available == 0 {
		report(out, false, "tools", "no supported AI coding tools found")
	}
}

func checkDaemon(out io.Writer) {
	status, err := daemon.Status()
	if err != nil || !status.Running {
		report(out, false, "daemon", "not running ('lore daemon start' enables live capture)")
		return
	}
	report(out, true, "daemon", fmt.Sprintf("running (pid %d)", status.PID))
}

func checkHooks(out io.Writer) {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	if _, err := githooks.GitDir(cwd); err != nil {
		// Not in a repository; nothing to check.
		return
	}
	if githooks.Installed(cwd) {
		report(out, true, "git hooks", "installed in this repository")
	} else {
		report(out, false, "git hooks", "not installed ('lore hooks install' links commits to sessions)")
	}
}

func checkCloud(out io.Writer) {
	_, err := cloud.OpenCredentialStore().APIKey()
	switch {
	case err == nil:
		report(out, true, "cloud", "logged in")
	case errors.Is(err, cloud.ErrNoCredentials):
		report(out, false, "cloud", "not logged in ('lore login' enables sync)")
	default:
		report(out, false, "cloud", err.Error())
	}
}

func checkSummarizer(out io.Writer) {
	if _, err := exec.LookPath("claude"); err != nil {
		report(out, false, "summarizer", "claude CLI not found ('lore summarize' needs it)")
		return
	}
	report(out, true, "summarizer", "claude CLI found")
}
