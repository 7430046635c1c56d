package vscodeext

import "github.com/varalys/lore/cmd/lore/cli/watcher"

// Concrete extensions sharing the Cline task format.
var (
	clineConfig = Config{
		Name:        "cline",
		Description: "Cline (Claude Dev) VS Code extension sessions",
		ExtensionID: "saoudrizwan.claude-dev",
	}
	rooCodeConfig = Config{
		Name:        "roo-code",
		Description: "Roo Code VS Code extension sessions",
		ExtensionID: "rooveterinaryinc.roo-cline",
	}
	kiloCodeConfig = Config{
		Name:        "kilo-code",
		Description: "Kilo Code VS Code extension sessions",
		ExtensionID: "kilocode.Kilo-Code",
	}
)

func init() {
	for _, cfg := range []Config{clineConfig, rooCodeConfig, kiloCodeConfig} {
		cfg := cfg
		watcher.Register(cfg.Name, func() watcher.Watcher { return New(cfg) })
	}
}
