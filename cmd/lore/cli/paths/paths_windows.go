//go:build windows

package paths

import (
	"os"
	"path/filepath"
)

func vscodeGlobalStorage() string {
	if appdata := os.Getenv("APPDATA"); appdata != "" {
		return filepath.Join(appdata, "Code", "User", "globalStorage")
	}
	return filepath.Join(HomeDir(), "AppData", "Roaming", "Code", "User", "globalStorage")
}
