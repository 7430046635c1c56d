package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/varalys/lore/cmd/lore/cli/config"
)

// ErrNoSalt is returned on pull when no salt exists anywhere yet; the user
// has to push from their first machine before other machines can join.
var ErrNoSalt = errors.New("no encryption salt found locally or in the cloud; run 'lore cloud push' on the machine that holds your sessions first")

// EnsureKey returns the session encryption key, deriving and persisting it
// on first use. forPush controls what happens when no salt exists anywhere:
// a push may mint one, a pull must fail with ErrNoSalt.
func EnsureKey(ctx context.Context, client *Client, creds CredentialStore, forPush bool) ([]byte, error) {
	if stored, err := creds.EncryptionKey(); err != nil {
		return nil, err
	} else if stored != "" {
		return DecodeKey(stored)
	}

	salt, created, err := ensureSalt(ctx, client, forPush)
	if err != nil {
		return nil, err
	}

	passphrase, err := promptPassphrase(created)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if err := creds.SetEncryptionKey(EncodeKey(key)); err != nil {
		return nil, err
	}
	return key, nil
}

// ensureSalt finds the salt in config, then in the cloud, then (for push
// only) mints a new one, persisting it both places either way.
func ensureSalt(ctx context.Context, client *Client, forPush bool) (salt []byte, created bool, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, false, err
	}
	if cfg.EncryptionSalt != "" {
		salt, err := DecodeSalt(cfg.EncryptionSalt)
		return salt, false, err
	}

	remote, err := client.GetSalt(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("fetching salt: %w", err)
	}
	if remote != "" {
		salt, err := DecodeSalt(remote)
		if err != nil {
			return nil, false, err
		}
		_, err = config.Update(func(c *config.Config) { c.EncryptionSalt = remote })
		return salt, false, err
	}

	if !forPush {
		return nil, false, ErrNoSalt
	}

	salt, err = NewSalt()
	if err != nil {
		return nil, false, err
	}
	encoded := EncodeSalt(salt)
	if err := client.SetSalt(ctx, encoded); err != nil {
		return nil, false, fmt.Errorf("uploading salt: %w", err)
	}
	if _, err := config.Update(func(c *config.Config) { c.EncryptionSalt = encoded }); err != nil {
		return nil, false, err
	}
	return salt, true, nil
}

// promptPassphrase asks for the sync passphrase, with confirmation when the
// key is being created for the first time.
func promptPassphrase(confirm bool) (string, error) {
	var passphrase string
	fields := []huh.Field{
		huh.NewInput().
			Title("Sync passphrase").
			Description("Encrypts your sessions end to end. Minimum 8 characters.").
			EchoMode(huh.EchoModePassword).
			Value(&passphrase).
			Validate(func(s string) error {
				if len(s) < 8 {
					return errors.New("must be at least 8 characters")
				}
				return nil
			}),
	}
	if confirm {
		var again string
		fields = append(fields, huh.NewInput().
			Title("Confirm passphrase").
			EchoMode(huh.EchoModePassword).
			Value(&again).
			Validate(func(s string) error {
				if s != passphrase {
					return errors.New("passphrases do not match")
				}
				return nil
			}))
	}

	form := huh.NewForm(huh.NewGroup(fields...))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return passphrase, nil
}
