// Package daemon runs lore's background capture process: an fsnotify loop
// that re-imports tool transcripts as they change, plus a unix-socket RPC
// endpoint for queries like "what session is active in this directory".
package daemon

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	godaemon "github.com/sevlyar/go-daemon"

	"github.com/varalys/lore/cmd/lore/cli/paths"
)

// ErrNotRunning is returned by Stop and Status when no daemon is alive.
var ErrNotRunning = errors.New("daemon is not running")

// ErrAlreadyRunning is returned by Start when a daemon already holds the
// pid file.
var ErrAlreadyRunning = errors.New("daemon is already running")

// RunFunc is the daemon body executed in the detached child process.
type RunFunc func() error

// StatusInfo describes the running daemon.
type StatusInfo struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

func newContext() (*godaemon.Context, error) {
	pidPath, err := paths.DaemonPidPath()
	if err != nil {
		return nil, err
	}
	logPath, err := paths.DaemonLogPath()
	if err != nil {
		return nil, err
	}
	return &godaemon.Context{
		PidFileName: pidPath,
		PidFilePerm: 0o644,
		LogFileName: logPath,
		LogFilePerm: 0o600,
		Umask:       0o27,
	}, nil
}

// Start forks the daemon. In the parent it returns once the child is
// spawned; in the child it executes run and exits.
func Start(run RunFunc) error {
	if st, err := Status(); err == nil && st.Running {
		return ErrAlreadyRunning
	}

	cntxt, err := newContext()
	if err != nil {
		return err
	}

	child, err := cntxt.Reborn()
	if err != nil {
		return fmt.Errorf("daemonizing: %w", err)
	}
	if child != nil {
		return nil
	}
	defer func() { _ = cntxt.Release() }()

	return run()
}

// Stop sends SIGTERM to the running daemon.
func Stop() error {
	proc, err := find()
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling daemon: %w", err)
	}
	return nil
}

// Status reports whether a daemon process is alive.
func Status() (*StatusInfo, error) {
	proc, err := find()
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return &StatusInfo{}, nil
		}
		return nil, err
	}
	return &StatusInfo{Running: true, PID: proc.Pid}, nil
}

// find locates the daemon process via the pid file and verifies it is
// alive with signal 0. A stale pid file reads as not running.
func find() (*os.Process, error) {
	cntxt, err := newContext()
	if err != nil {
		return nil, err
	}

	proc, err := cntxt.Search()
	if err != nil {
		return nil, ErrNotRunning
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil, ErrNotRunning
	}
	return proc, nil
}
