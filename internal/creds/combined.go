// Package creds resolves master passwords for non-interactive use.
package creds

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvPassword holds a master password for scripted use.
const EnvPassword = "KEYVAULT_PASSWORD"

// Combined is a credentials file mapping vault paths to master passwords.
// Both {"vaults": {"<path>": {"password": "..."}}} and {"<path>": "..."}
// are accepted.
type Combined struct {
	Vaults map[string]string
}

// ParseCombined parses JSON bytes into Combined.
func ParseCombined(data []byte) (*Combined, error) {
	c := &Combined{Vaults: make(map[string]string)}

	var nested struct {
		Vaults map[string]struct {
			Password string `json:"password"`
		} `json:"vaults"`
	}
	if err := json.Unmarshal(data, &nested); err == nil && nested.Vaults != nil {
		for path, v := range nested.Vaults {
			c.Vaults[cleanPath(path)] = v.Password
		}
		return c, nil
	}

	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	for path, pw := range flat {
		c.Vaults[cleanPath(path)] = pw
	}
	return c, nil
}

// LoadFromFile loads Combined from a local file. Files readable by group
// or others are refused.
func LoadFromFile(path string) (*Combined, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("credentials file %s must not be accessible by group or others (mode %o)", path, info.Mode().Perm())
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCombined(b)
}

// VaultPassword returns the password for a vault path, or "".
func (c *Combined) VaultPassword(vaultPath string) string {
	return c.Vaults[cleanPath(vaultPath)]
}

// Lookup returns the master password for vaultPath from the environment or,
// failing that, from the credentials file. It returns "" when neither has
// one so the caller can prompt.
func Lookup(vaultPath, credentialsFile string) (string, error) {
	if pw := os.Getenv(EnvPassword); pw != "" {
		return pw, nil
	}
	if credentialsFile == "" {
		return "", nil
	}

	c, err := LoadFromFile(credentialsFile)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.VaultPassword(vaultPath), nil
}

func cleanPath(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
