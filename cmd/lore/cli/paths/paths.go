// Package paths centralizes the on-disk layout of lore's state directory.
//
// All persistent state lives under ~/.lore:
//
//	~/.lore/lore.db           the session store
//	~/.lore/config.yaml       configuration
//	~/.lore/credentials.json  fallback credential file (0600)
//	~/.lore/encryption.key    fallback encryption-key file (0600)
//	~/.lore/logs/             log files
//	~/.lore/daemon.sock       daemon RPC socket
//	~/.lore/daemon.pid        daemon pid file
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// File and directory names under the lore directory.
const (
	LoreDirName         = ".lore"
	DatabaseFileName    = "lore.db"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = "credentials.json"
	EncryptionKeyFile   = "encryption.key"
	LogsDirName         = "logs"
	DaemonLogFileName   = "daemon.log"
	DaemonSocketName    = "daemon.sock"
	DaemonPidFileName   = "daemon.pid"
)

// LoreDir returns the lore state directory, creating it if necessary.
// The LORE_DIR environment variable overrides the default ~/.lore,
// which keeps tests and multi-profile setups hermetic.
func LoreDir() (string, error) {
	if dir := os.Getenv("LORE_DIR"); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("creating lore directory: %w", err)
		}
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	dir := filepath.Join(home, LoreDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating lore directory: %w", err)
	}
	return dir, nil
}

// DatabasePath returns the path to the session store.
func DatabasePath() (string, error) {
	dir, err := LoreDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DatabaseFileName), nil
}

// ConfigPath returns the path to config.yaml.
func ConfigPath() (string, error) {
	dir, err := LoreDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// CredentialsPath returns the path to the fallback credentials file.
func CredentialsPath() (string, error) {
	dir, err := LoreDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CredentialsFileName), nil
}

// EncryptionKeyPath returns the path to the fallback encryption-key file.
func EncryptionKeyPath() (string, error) {
	dir, err := LoreDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, EncryptionKeyFile), nil
}

// LogsDir returns the log directory, creating it if necessary.
func LogsDir() (string, error) {
	dir, err := LoreDir()
	if err != nil {
		return "", err
	}
	logs := filepath.Join(dir, LogsDirName)
	if err := os.MkdirAll(logs, 0o750); err != nil {
		return "", fmt.Errorf("creating logs directory: %w", err)
	}
	return logs, nil
}

// DaemonLogPath returns the daemon log file path.
func DaemonLogPath() (string, error) {
	logs, err := LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(logs, DaemonLogFileName), nil
}

// DaemonSocketPath returns the unix socket the daemon listens on.
func DaemonSocketPath() (string, error) {
	dir, err := LoreDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DaemonSocketName), nil
}

// DaemonPidPath returns the daemon pid file path.
func DaemonPidPath() (string, error) {
	dir, err := LoreDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DaemonPidFileName), nil
}

// HomeDir returns the user's home directory, or "." when it cannot be
// determined. Watchers use this for source discovery where a hard failure
// would be worse than an empty scan.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// VSCodeGlobalStorage returns the platform path to VS Code's globalStorage
// directory, where extensions like Cline keep their task data.
func VSCodeGlobalStorage() string {
	return vscodeGlobalStorage()
}
