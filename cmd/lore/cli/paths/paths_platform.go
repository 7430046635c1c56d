//go:build !darwin && !windows

package paths

import (
	"os"
	"path/filepath"
)

func vscodeGlobalStorage() string {
	if cfg, err := os.UserConfigDir(); err == nil {
		return filepath.Join(cfg, "Code", "User", "globalStorage")
	}
	return filepath.Join(HomeDir(), ".config", "Code", "User", "globalStorage")
}
