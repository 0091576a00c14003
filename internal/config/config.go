package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MinKDFIterations is the lowest PBKDF2 work factor the config accepts.
const MinKDFIterations = 100000

// MaxVaultFileSize is the largest vault.max_file_size accepted. It matches
// the container limit in internal/storage.
const MaxVaultFileSize = 64 * 1024 * 1024

// Config holds all application configuration.
type Config struct {
	// Default vault file
	Vault VaultConfig `json:"vault" mapstructure:"vault"`

	// Key derivation and password policy
	Security SecurityConfig `json:"security" mapstructure:"security"`

	// Inactivity lock
	AutoLock AutoLockConfig `json:"auto_lock" mapstructure:"auto_lock"`

	// Encrypted file backups
	Backup BackupConfig `json:"backup" mapstructure:"backup"`

	// Recent vault registry
	State StateConfig `json:"state" mapstructure:"state"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// VaultConfig locates the vault file.
type VaultConfig struct {
	Path        string `json:"path" mapstructure:"path"`
	CreateDirs  bool   `json:"create_dirs" mapstructure:"create_dirs"`
	MaxFileSize int64  `json:"max_file_size" mapstructure:"max_file_size"` // bytes
}

// SecurityConfig for key derivation and master password policy.
type SecurityConfig struct {
	KDFIterations     int `json:"kdf_iterations" mapstructure:"kdf_iterations"`
	MinPasswordLength int `json:"min_password_length" mapstructure:"min_password_length"`

	// Optional 0600 JSON file of master passwords for scripted use
	CredentialsFile string `json:"credentials_file" mapstructure:"credentials_file"`

	// TOTP parameters for issued secrets and enrolment checks
	TOTPPeriod int `json:"totp_period" mapstructure:"totp_period"`
	TOTPDigits int `json:"totp_digits" mapstructure:"totp_digits"`
}

// AutoLockConfig for the inactivity lock.
type AutoLockConfig struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	WarnBefore time.Duration `json:"warn_before" mapstructure:"warn_before"`
}

// BackupConfig for backups of the encrypted vault file.
type BackupConfig struct {
	Dir    string   `json:"dir" mapstructure:"dir"`
	OnSave bool     `json:"on_save" mapstructure:"on_save"`
	Keep   int      `json:"keep" mapstructure:"keep"`
	S3     S3Config `json:"s3" mapstructure:"s3"`
}

// S3Config enables off-site backups when Bucket is set.
type S3Config struct {
	Bucket   string `json:"bucket" mapstructure:"bucket"`
	Prefix   string `json:"prefix" mapstructure:"prefix"`
	Region   string `json:"region" mapstructure:"region"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// StateConfig for the recent vault registry.
type StateConfig struct {
	Backend   string `json:"backend" mapstructure:"backend"` // json, sqlite, dynamodb
	Dir       string `json:"dir" mapstructure:"dir"`
	MaxRecent int    `json:"max_recent" mapstructure:"max_recent"`

	// DynamoDB backend
	Table    string `json:"table" mapstructure:"table"`
	Region   string `json:"region" mapstructure:"region"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
	Color  bool   `json:"color" mapstructure:"color"`   // Enable colored output
}

// DefaultDataDir returns ~/.keyvault, or .keyvault when there is no home.
func DefaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".keyvault")
	}
	return ".keyvault"
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()

	return &Config{
		Vault: VaultConfig{
			Path:        filepath.Join(dataDir, "vault.enc"),
			CreateDirs:  true,
			MaxFileSize: MaxVaultFileSize,
		},
		Security: SecurityConfig{
			KDFIterations:     MinKDFIterations,
			MinPasswordLength: 8,
			TOTPPeriod:        30,
			TOTPDigits:        6,
		},
		AutoLock: AutoLockConfig{
			Enabled:    true,
			Timeout:    45 * time.Second,
			WarnBefore: 15 * time.Second,
		},
		Backup: BackupConfig{
			Dir:    filepath.Join(dataDir, "backups"),
			OnSave: false,
			Keep:   10,
		},
		State: StateConfig{
			Backend:   "json",
			Dir:       filepath.Join(dataDir, "state"),
			MaxRecent: 10,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			File:   "",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Vault.Path == "" {
		return errors.New("vault.path is required")
	}

	if c.Vault.MaxFileSize <= 0 || c.Vault.MaxFileSize > MaxVaultFileSize {
		return fmt.Errorf("vault.max_file_size must be between 1 and %d", MaxVaultFileSize)
	}

	if c.Security.KDFIterations < MinKDFIterations {
		return fmt.Errorf("security.kdf_iterations must be at least %d", MinKDFIterations)
	}

	if c.Security.MinPasswordLength < 1 {
		return errors.New("security.min_password_length must be positive")
	}

	if c.Security.TOTPPeriod <= 0 {
		return errors.New("security.totp_period must be positive")
	}

	if c.Security.TOTPDigits != 6 && c.Security.TOTPDigits != 8 {
		return errors.New("security.totp_digits must be 6 or 8")
	}

	if c.AutoLock.Timeout < 0 {
		return errors.New("auto_lock.timeout cannot be negative")
	}

	if c.AutoLock.WarnBefore < 0 || (c.AutoLock.Timeout > 0 && c.AutoLock.WarnBefore >= c.AutoLock.Timeout) {
		return errors.New("auto_lock.warn_before must be shorter than auto_lock.timeout")
	}

	if c.Backup.Keep < 0 {
		return errors.New("backup.keep cannot be negative")
	}

	if c.Backup.Dir == "" && !c.Backup.S3.Enabled() {
		return errors.New("backup.dir or backup.s3.bucket is required")
	}

	validBackends := map[string]bool{"json": true, "sqlite": true, "dynamodb": true}
	if !validBackends[c.State.Backend] {
		return fmt.Errorf("invalid state backend: %s", c.State.Backend)
	}

	if c.State.Backend == "dynamodb" && c.State.Table == "" {
		return errors.New("state.table is required for the dynamodb backend")
	}

	if c.State.MaxRecent <= 0 {
		return errors.New("state.max_recent must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.State.Dir}

	if c.Backup.Dir != "" {
		dirs = append(dirs, c.Backup.Dir)
	}

	if c.Vault.CreateDirs {
		dirs = append(dirs, filepath.Dir(c.Vault.Path))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
