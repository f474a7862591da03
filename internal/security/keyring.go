// Package security keeps API keys in the OS keychain.
package security

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "agency"

// ErrNotFound is returned when no secret is stored under a name.
var ErrNotFound = errors.New("secret not found")

// KeyStore reads and writes secrets in the OS keychain under one service.
// It satisfies config.SecretStore.
type KeyStore struct {
	service string
}

// NewKeyStore creates a key store for the agency service.
func NewKeyStore() *KeyStore {
	return &KeyStore{service: keyringService}
}

// Set stores a secret, replacing any previous value.
func (ks *KeyStore) Set(name, value string) error {
	if value == "" {
		return fmt.Errorf("refusing to store empty secret %q", name)
	}
	if err := keyring.Set(ks.service, name, value); err != nil {
		return fmt.Errorf("keychain set %s: %w", name, err)
	}
	return nil
}

// Get retrieves a secret.
func (ks *KeyStore) Get(name string) (string, error) {
	val, err := keyring.Get(ks.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("keychain get %s: %w", name, err)
	}
	return val, nil
}

// Delete removes a secret. Deleting a missing secret is not an error.
func (ks *KeyStore) Delete(name string) error {
	err := keyring.Delete(ks.service, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete %s: %w", name, err)
	}
	return nil
}

// MaskKey returns a masked version of an API key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}
