package config

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name credentials are stored under.
const KeyringService = "cc-adapter"

const (
	SecretPoe        = "poe"
	SecretOpenRouter = "openrouter"
)

// SecretStore persists provider keys outside the config file.
type SecretStore interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error
}

// KeyringStore keeps secrets in the OS keyring.
type KeyringStore struct{}

// Get returns an empty string without error when nothing is stored.
func (KeyringStore) Get(name string) (string, error) {
	v, err := keyring.Get(KeyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", name, err)
	}
	return v, nil
}

func (KeyringStore) Set(name, value string) error {
	if err := keyring.Set(KeyringService, name, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", name, err)
	}
	return nil
}

func (KeyringStore) Delete(name string) error {
	err := keyring.Delete(KeyringService, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", name, err)
	}
	return nil
}
