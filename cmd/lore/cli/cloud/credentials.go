package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"

	"github.com/varalys/lore/cmd/lore/cli/paths"
)

const (
	keyringService = "lore-cloud"
	apiKeyUser     = "api-key"
	encKeyUser     = "encryption-key"
)

// ErrNoCredentials is returned when no API key has been stored yet.
var ErrNoCredentials = errors.New("not logged in (run 'lore login')")

// CredentialStore holds the cloud API key and the derived encryption key.
// Implementations: the OS keychain when one is available, a 0600 file
// otherwise.
type CredentialStore interface {
	SetAPIKey(key string) error
	APIKey() (string, error)
	SetEncryptionKey(hexKey string) error
	EncryptionKey() (string, error)
	Clear() error
}

// OpenCredentialStore probes the OS keychain once and falls back to file
// storage under the lore directory. The choice is made per call, so a
// machine that gains a keychain later starts using it.
//
//nolint:ireturn // the caller must not care which backing store it got
func OpenCredentialStore() CredentialStore {
	if keyringAvailable() {
		return &keyringStore{}
	}
	return &fileStore{}
}

func keyringAvailable() bool {
	probe := "lore-probe"
	if err := keyring.Set(keyringService, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

type keyringStore struct{}

func (k *keyringStore) SetAPIKey(key string) error {
	if err := keyring.Set(keyringService, apiKeyUser, key); err != nil {
		return fmt.Errorf("storing api key in keychain: %w", err)
	}
	return nil
}

func (k *keyringStore) APIKey() (string, error) {
	key, err := keyring.Get(keyringService, apiKeyUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("reading api key from keychain: %w", err)
	}
	return key, nil
}

func (k *keyringStore) SetEncryptionKey(hexKey string) error {
	if err := keyring.Set(keyringService, encKeyUser, hexKey); err != nil {
		return fmt.Errorf("storing encryption key in keychain: %w", err)
	}
	return nil
}

func (k *keyringStore) EncryptionKey() (string, error) {
	key, err := keyring.Get(keyringService, encKeyUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading encryption key from keychain: %w", err)
	}
	return key, nil
}

func (k *keyringStore) Clear() error {
	if err := keyring.Delete(keyringService, apiKeyUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("clearing api key: %w", err)
	}
	if err := keyring.Delete(keyringService, encKeyUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("clearing encryption key: %w", err)
	}
	return nil
}

// fileStore keeps credentials in ~/.lore/credentials.json and the encryption
// key in its own file, both 0600.
type fileStore struct{}

type credentialsFile struct {
	APIKey string `json:"api_key"`
}

func (f *fileStore) SetAPIKey(key string) error {
	path, err := paths.CredentialsPath()
	if err != nil {
		return err
	}
	data, err := json.Marshal(credentialsFile{APIKey: key})
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

func (f *fileStore) APIKey() (string, error) {
	path, err := paths.CredentialsPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("reading credentials file: %w", err)
	}
	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parsing credentials file: %w", err)
	}
	if creds.APIKey == "" {
		return "", ErrNoCredentials
	}
	return creds.APIKey, nil
}

func (f *fileStore) SetEncryptionKey(hexKey string) error {
	path, err := paths.EncryptionKeyPath()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(hexKey), 0o600); err != nil {
		return fmt.Errorf("writing encryption key file: %w", err)
	}
	return nil
}

func (f *fileStore) EncryptionKey() (string, error) {
	path, err := paths.EncryptionKeyPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading encryption key file: %w", err)
	}
	return string(data), nil
}

func (f *fileStore) Clear() error {
	for _, get := range []func() (string, error){paths.CredentialsPath, paths.EncryptionKeyPath} {
		path, err := get()
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}
