// Package logging configures slog for the lore CLI: human-readable output
// on the terminal, JSON appended to ~/.lore/logs/lore.log for everything
// long-running. Log level comes from LORE_LOG_LEVEL.
package logging

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/varalys/lore/cmd/lore/cli/paths"
)

// LogLevelEnvVar controls the log level (DEBUG, INFO, WARN, ERROR).
const LogLevelEnvVar = "LORE_LOG_LEVEL"

const logFileName = "lore.log"

var (
	mu           sync.Mutex
	logFile      *os.File
	logBufWriter *bufio.Writer
)

// InitCLI installs a console logger on stderr. Interactive commands call
// this once at startup; colors engage only on a real terminal.
func InitCLI() {
	level := parseLogLevel(os.Getenv(LogLevelEnvVar))

	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// InitFile routes logs to ~/.lore/logs/lore.log as JSON. The daemon and
// other detached processes use this; a file open failure falls back to
// stderr rather than losing logs.
func InitFile() error {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()

	level := parseLogLevel(os.Getenv(LogLevelEnvVar))

	logs, err := paths.LogsDir()
	if err != nil {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return fmt.Errorf("resolving log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logs, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return fmt.Errorf("opening log file: %w", err)
	}

	logFile = f
	logBufWriter = bufio.NewWriterSize(f, 8192)
	slog.SetDefault(slog.New(slog.NewJSONHandler(logBufWriter, &slog.HandlerOptions{Level: level})))
	return nil
}

// Close flushes and closes the log file. Safe to call multiple times.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// LogFilePath returns the path of the shared log file.
func LogFilePath() (string, error) {
	logs, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(logs, logFileName), nil
}

// Writer returns the active log sink for subsystems that need a raw
// io.Writer (e.g. the daemon's stdout/stderr redirection).
func Writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	if logBufWriter != nil {
		return logBufWriter
	}
	return os.Stderr
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
