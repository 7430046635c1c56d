package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/varalys/lore/cmd/lore/cli/cloud"
	"github.com/varalys/lore/cmd/lore/cli/config"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

// cloudSession bundles everything a cloud command needs.
type cloudSession struct {
	client   *cloud.Client
	creds    cloud.CredentialStore
	identity *cloud.Identity
	store    *store.Store
}

func (c *cloudSession) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// openCloudSession resolves credentials and identity. withStore also opens
// the session store; withKey derives or loads the encryption key.
func openCloudSession(ctx context.Context, withStore, withKey, forPush bool) (*cloudSession, []byte, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	creds := cloud.OpenCredentialStore()
	apiKey, err := creds.APIKey()
	if err != nil {
		return nil, nil, err
	}

	baseURL := cfg.CloudURL
	if baseURL == "" {
		baseURL = cloud.DefaultBaseURL
	}

	cs := &cloudSession{
		client: cloud.NewClient(baseURL, apiKey),
		creds:  creds,
	}
	if cs.identity, err = cloud.LoadIdentity(cfg); err != nil {
		return nil, nil, err
	}

	var key []byte
	if withKey {
		if key, err = cloud.EnsureKey(ctx, cs.client, creds, forPush); err != nil {
			return nil, nil, err
		}
	}
	if withStore {
		if cs.store, err = openStore(); err != nil {
			return nil, nil, err
		}
	}
	return cs, key, nil
}

func newCloudCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cloud",
		Short: "Sync sessions with lore cloud",
		Long: "Pushes and pulls end-to-end encrypted sessions. The server only ever\n" +
			"sees ciphertext; the encryption key never leaves this machine.",
	}
	cmd.AddCommand(newCloudStatusCmd())
	cmd.AddCommand(newCloudPushCmd())
	cmd.AddCommand(newCloudPullCmd())
	cmd.AddCommand(newCloudSyncCmd())
	cmd.AddCommand(newCloudResetSyncCmd())
	return cmd
}

func newCloudStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show account and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cs, _, err := openCloudSession(cmd.Context(), true, false, false)
			if err != nil {
				return err
			}
			defer cs.Close()

			status, err := cs.client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account:  %s (%s plan)\n", status.Email, status.Plan)
			fmt.Fprintf(out, "Machine:  %s (%s)\n", cs.identity.Name, cs.identity.ID)
			fmt.Fprintf(out, "Usage:    %d / %d sessions\n", status.SessionCount, status.SessionLimit)
			fmt.Fprintf(out, "Storage:  %s used\n", formatBytes(status.StorageUsedBytes))

			unsynced, err := cs.store.GetUnsyncedSessions()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Unsynced: %d session(s)\n", len(unsynced))

			// The server's cursor is authoritative; fall back to the local
			// bookkeeping when it has never seen a sync.
			switch last, err := cs.store.LastSyncTime(); {
			case status.LastSyncAt != nil:
				fmt.Fprintf(out, "Last sync: %s\n", formatAge(*status.LastSyncAt))
			case err == nil && last != nil:
				fmt.Fprintf(out, "Last sync: %s\n", formatAge(*last))
			}
			return nil
		},
	}
}

func newCloudPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Upload unsynced sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cs, key, err := openCloudSession(cmd.Context(), true, true, true)
			if err != nil {
				return err
			}
			defer cs.Close()

			engine := cloud.NewEngine(cs.store, cs.client, key, cs.identity)
			result, err := engine.Push(cmd.Context())
			if result != nil {
				printPushResult(cmd.OutOrStdout(), result)
			}
			return err
		},
	}
}

func printPushResult(out io.Writer, result *cloud.PushResult) {
	fmt.Fprintf(out, "Pushed %d session(s)\n", result.Pushed)
	for _, id := range result.TooLarge {
		fmt.Fprintf(out, "  skipped %s: too large for the server\n", id.String()[:8])
	}
	if result.QuotaHit {
		fmt.Fprintf(out, "Quota reached; %d session(s) left unsynced\n", result.Unsynced)
		if result.Quota != nil {
			fmt.Fprintf(out, "  %s plan allows %d sessions (using %d)\n", result.Quota.Plan, result.Quota.Limit, result.Quota.Current)
		}
		fmt.Fprintf(out, "  Upgrade to a larger plan at %s/settings to keep syncing\n", cloud.DefaultBaseURL)
	}
	for _, err := range result.Errors {
		fmt.Fprintf(out, "  failed: %v\n", err)
	}
}

func newCloudPullCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download sessions from other machines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cs, key, err := openCloudSession(cmd.Context(), true, true, false)
			if err != nil {
				return err
			}
			defer cs.Close()

			engine := cloud.NewEngine(cs.store, cs.client, key, cs.identity)
			result, err := engine.Pull(cmd.Context(), full)
			if err != nil {
				return err
			}
			printPullResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "ignore the sync cursor and fetch everything")
	return cmd
}

func printPullResult(out io.Writer, result *cloud.PullResult) {
	fmt.Fprintf(out, "Imported %d session(s)\n", result.Imported)
	if result.SkippedOlder > 0 {
		fmt.Fprintf(out, "  %d already up to date\n", result.SkippedOlder)
	}
	if result.DecryptFailed > 0 {
		fmt.Fprintf(out, "  %d failed to decrypt (wrong passphrase on another machine?)\n", result.DecryptFailed)
	}
}

func newCloudSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull then push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cs, key, err := openCloudSession(cmd.Context(), true, true, true)
			if err != nil {
				return err
			}
			defer cs.Close()

			engine := cloud.NewEngine(cs.store, cs.client, key, cs.identity)
			result, err := engine.Sync(cmd.Context())

			out := cmd.OutOrStdout()
			if result.PullErr != nil {
				fmt.Fprintf(out, "Pull failed (continuing with push): %v\n", result.PullErr)
			} else if result.Pull != nil {
				printPullResult(out, result.Pull)
			}
			if result.Push != nil {
				printPushResult(out, result.Push)
			}
			return err
		},
	}
}

func newCloudResetSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-sync",
		Short: "Forget sync state so the next push re-uploads everything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			cleared, err := st.ClearSyncStatus()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared sync state for %d session(s)\n", cleared)
			return nil
		},
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store your lore cloud API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var apiKey string
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title("API key").
					Description("Create one at " + cloud.DefaultBaseURL + "/settings").
					EchoMode(huh.EchoModePassword).
					Value(&apiKey).
					Validate(func(s string) error {
						if s == "" {
							return errors.New("api key cannot be empty")
						}
						return nil
					}),
			))
			if err := form.Run(); err != nil {
				return fmt.Errorf("reading api key: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			baseURL := cfg.CloudURL
			if baseURL == "" {
				baseURL = cloud.DefaultBaseURL
			}

			// Verify before storing so a typo fails loudly here, not later.
			status, err := cloud.NewClient(baseURL, apiKey).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("verifying api key: %w", err)
			}
			if err := cloud.OpenCredentialStore().SetAPIKey(apiKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s plan)\n", status.Email, status.Plan)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored cloud credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cloud.OpenCredentialStore().Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out. Sessions remain stored locally.")
			return nil
		},
	}
}
