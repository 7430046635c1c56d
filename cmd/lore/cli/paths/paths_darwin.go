//go:build darwin

package paths

import "path/filepath"

func vscodeGlobalStorage() string {
	return filepath.Join(HomeDir(), "Library", "Application Support", "Code", "User", "globalStorage")
}
