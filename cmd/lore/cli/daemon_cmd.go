package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/cloud"
	"github.com/varalys/lore/cmd/lore/cli/config"
	"github.com/varalys/lore/cmd/lore/cli/daemon"
	"github.com/varalys/lore/cmd/lore/cli/logging"
	"github.com/varalys/lore/cmd/lore/cli/paths"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Background capture daemon",
		Long: "The daemon watches tool data directories and imports new sessions as\n" +
			"they are written, so history is captured without manual imports.",
	}
	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	cmd.AddCommand(newDaemonLogsCmd())
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the capture daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := daemon.Start(runDaemon); err != nil {
				return err
			}
			// Only the parent reaches this point; the child runs runDaemon.
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon started.")
			return nil
		},
	}
}

// runDaemon is the detached child's body: the RPC server and the watch
// loop, torn down together on SIGTERM. go-daemon redirects stderr to
// ~/.lore/logs/daemon.log, so the stderr logger is the right one here.
func runDaemon() error {
	logging.InitCLI()

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer cancel()

	srv := daemon.NewServer(st)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			slog.Error("daemon rpc server failed", "error", err)
			cancel()
		}
	}()

	slog.Info("daemon starting", "pid", os.Getpid())
	return daemon.NewLoop(st, identity.ID.String(), cfg.WatcherEnabled).Run(ctx)
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the capture daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := daemon.Stop(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped.")
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := daemon.Status()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !status.Running {
				fmt.Fprintln(out, "Daemon is not running. Start it with 'lore daemon start'.")
				return nil
			}

			fmt.Fprintf(out, "Daemon running (pid %d)\n", status.PID)
			var pong string
			if err := daemon.Call("ping", nil, &pong); err == nil && pong == "pong" {
				fmt.Fprintln(out, "RPC socket responding.")
			} else {
				fmt.Fprintln(out, "RPC socket not responding.")
			}
			return nil
		},
	}
}

func newDaemonLogsCmd() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon's recent log output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logPath, err := paths.DaemonLogPath()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(logPath)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(cmd.OutOrStdout(), "No daemon logs yet.")
					return nil
				}
				return fmt.Errorf("reading daemon log: %w", err)
			}

			all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
			if lines > 0 && len(all) > lines {
				all = all[len(all)-lines:]
			}
			for _, line := range all {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to show (0 for all)")
	return cmd
}
