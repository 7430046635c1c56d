package cloud

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Key derivation parameters. Argon2id with 64 MiB is deliberate: the
// passphrase is typed once per machine, so a slow derivation costs nothing
// and offline guessing costs a lot.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4

	keySize  = chacha20poly1305.KeySize
	saltSize = 16
)

// ErrDecrypt is returned when a ciphertext cannot be authenticated, most
// often because the passphrase (and so the key) differs between machines.
var ErrDecrypt = errors.New("decryption failed (wrong passphrase?)")

// NewSalt returns a fresh random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives the session encryption key from a passphrase and salt.
// The same passphrase and salt always yield the same key, which is what lets
// a second machine decrypt what the first one pushed.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if len(passphrase) < 8 {
		return nil, errors.New("passphrase must be at least 8 characters")
	}
	if len(salt) == 0 {
		return nil, errors.New("salt is empty")
	}
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize), nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under a fresh random
// nonce and returns base64(nonce || ciphertext || tag).
func Encrypt(key, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("initializing cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or wrong-key ciphertexts return
// ErrDecrypt.
func Decrypt(key []byte, encoded string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncodeKey renders a key for at-rest storage.
func EncodeKey(key []byte) string {
	return hex.EncodeToString(key)
}

// DecodeKey parses a stored key and validates its length.
func DecodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding stored key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("stored key has %d bytes, want %d", len(key), keySize)
	}
	return key, nil
}

// EncodeSalt and DecodeSalt render the salt for config storage and the
// cloud salt endpoint.
func EncodeSalt(salt []byte) string {
	return base64.StdEncoding.EncodeToString(salt)
}

func DecodeSalt(s string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	return salt, nil
}
