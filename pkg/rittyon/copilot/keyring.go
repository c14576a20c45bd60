// Package copilot – keyring.go stores credentials in the operating system's
// native keyring (Linux: Secret Service, macOS: Keychain, Windows: Credential
// Manager).
//
// Priority for resolving secrets:
//  1. config.yaml value (after ${VAR} expansion)
//  2. Environment variable (DISCORD_TOKEN, GEMINI_API_KEY, GOOGLE_API_KEY)
//  3. OS keyring
package copilot

import (
	"fmt"
	"slices"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "rittyon"

	// KeyringDiscordToken is the key name for the Discord bot token.
	KeyringDiscordToken = "discord_token"

	// KeyringAPIKey is the key name for the provider API key.
	KeyringAPIKey = "api_key"
)

// KeyringKeys lists the secrets rittyon reads from the keyring.
var KeyringKeys = []string{KeyringDiscordToken, KeyringAPIKey}

func checkKeyringKey(key string) error {
	if !slices.Contains(KeyringKeys, key) {
		return fmt.Errorf("unknown keyring key %q (want one of %v)", key, KeyringKeys)
	}
	return nil
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	if err := checkKeyringKey(key); err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("refusing to store an empty %s", key)
	}
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	if err := checkKeyringKey(key); err != nil {
		return err
	}
	return keyring.Delete(keyringService, key)
}
