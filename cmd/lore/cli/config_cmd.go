package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/config"
)

// configKeys maps settable key names to getter/setter pairs. Keys the user
// should not edit by hand (machine id, encryption salt) are read-only.
var configKeys = map[string]struct {
	get      func(*config.Config) string
	set      func(*config.Config, string) error
	readOnly bool
}{
	"machine_id": {
		get:      func(c *config.Config) string { return c.MachineID },
		readOnly: true,
	},
	"machine_name": {
		get: func(c *config.Config) string { return c.MachineName },
		set: func(c *config.Config, v string) error { c.MachineName = v; return nil },
	},
	"cloud_url": {
		get: func(c *config.Config) string { return c.CloudURL },
		set: func(c *config.Config, v string) error { c.CloudURL = v; return nil },
	},
	"commit_footer": {
		get: func(c *config.Config) string { return strconv.FormatBool(c.CommitFooter) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("expected true or false, got %q", v)
			}
			c.CommitFooter = b
			return nil
		},
	},
	"telemetry_enabled": {
		get: func(c *config.Config) string { return strconv.FormatBool(c.TelemetryEnabled) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("expected true or false, got %q", v)
			}
			c.TelemetryEnabled = b
			return nil
		},
	},
	"auto_link_threshold": {
		get: func(c *config.Config) string { return strconv.FormatFloat(c.AutoLinkThreshold, 'g', -1, 64) },
		set: func(c *config.Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 1 {
				return fmt.Errorf("expected a number between 0 and 1, got %q", v)
			}
			c.AutoLinkThreshold = f
			return nil
		},
	},
	"summary.provider": {
		get: func(c *config.Config) string { return c.Summary.Provider },
		set: func(c *config.Config, v string) error { c.Summary.Provider = v; return nil },
	},
	"summary.model": {
		get: func(c *config.Config) string { return c.Summary.Model },
		set: func(c *config.Config, v string) error { c.Summary.Model = v; return nil },
	},
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write configuration",
	}
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Show one setting, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				entry, ok := configKeys[args[0]]
				if !ok {
					return fmt.Errorf("unknown config key %q", args[0])
				}
				fmt.Fprintln(out, entry.get(cfg))
				return nil
			}

			for _, key := range configKeyNames() {
				fmt.Fprintf(out, "%-22s %s\n", key, configKeys[key].get(cfg))
			}
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, ok := configKeys[args[0]]
			if !ok {
				return fmt.Errorf("unknown config key %q", args[0])
			}
			if entry.readOnly || entry.set == nil {
				return fmt.Errorf("config key %q is read-only", args[0])
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := entry.set(cfg, args[1]); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], entry.get(cfg))
			return nil
		},
	}
}

func configKeyNames() []string {
	names := make([]string, 0, len(configKeys))
	for name := range configKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
