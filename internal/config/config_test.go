package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/keyvault/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.NotEmpty(t, cfg.Vault.Path)
	assert.Equal(t, 100000, cfg.Security.KDFIterations)
	assert.Equal(t, 8, cfg.Security.MinPasswordLength)
	assert.Equal(t, 45*time.Second, cfg.AutoLock.Timeout)
	assert.False(t, cfg.Backup.OnSave)
	assert.False(t, cfg.Backup.S3.Enabled())
	assert.Equal(t, "json", cfg.State.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: "",
		},
		{
			name:    "missing vault path",
			modify:  func(c *config.Config) { c.Vault.Path = "" },
			wantErr: "vault.path is required",
		},
		{
			name:    "weak kdf",
			modify:  func(c *config.Config) { c.Security.KDFIterations = 1000 },
			wantErr: "security.kdf_iterations must be at least 100000",
		},
		{
			name:    "zero password length",
			modify:  func(c *config.Config) { c.Security.MinPasswordLength = 0 },
			wantErr: "security.min_password_length must be positive",
		},
		{
			name:    "negative timeout",
			modify:  func(c *config.Config) { c.AutoLock.Timeout = -1 },
			wantErr: "auto_lock.timeout cannot be negative",
		},
		{
			name:    "warning longer than timeout",
			modify:  func(c *config.Config) { c.AutoLock.WarnBefore = time.Minute },
			wantErr: "auto_lock.warn_before",
		},
		{
			name:    "disabled auto lock",
			modify:  func(c *config.Config) { c.AutoLock.Timeout = 0; c.AutoLock.WarnBefore = 0 },
			wantErr: "",
		},
		{
			name:    "no backup destination",
			modify:  func(c *config.Config) { c.Backup.Dir = "" },
			wantErr: "backup.dir or backup.s3.bucket is required",
		},
		{
			name:    "s3 only backups",
			modify:  func(c *config.Config) { c.Backup.Dir = ""; c.Backup.S3.Bucket = "vault-backups" },
			wantErr: "",
		},
		{
			name:    "zero max file size",
			modify:  func(c *config.Config) { c.Vault.MaxFileSize = 0 },
			wantErr: "vault.max_file_size",
		},
		{
			name:    "max file size above container limit",
			modify:  func(c *config.Config) { c.Vault.MaxFileSize = config.MaxVaultFileSize + 1 },
			wantErr: "vault.max_file_size",
		},
		{
			name:    "zero totp period",
			modify:  func(c *config.Config) { c.Security.TOTPPeriod = 0 },
			wantErr: "security.totp_period",
		},
		{
			name:    "seven totp digits",
			modify:  func(c *config.Config) { c.Security.TOTPDigits = 7 },
			wantErr: "security.totp_digits",
		},
		{
			name:    "invalid state backend",
			modify:  func(c *config.Config) { c.State.Backend = "redis" },
			wantErr: "invalid state backend",
		},
		{
			name:    "dynamodb without table",
			modify:  func(c *config.Config) { c.State.Backend = "dynamodb" },
			wantErr: "state.table is required",
		},
		{
			name:    "dynamodb backend",
			modify:  func(c *config.Config) { c.State.Backend = "dynamodb"; c.State.Table = "keyvault-recent" },
			wantErr: "",
		},
		{
			name:    "invalid log level",
			modify:  func(c *config.Config) { c.Log.Level = "invalid" },
			wantErr: "invalid log level",
		},
		{
			name:    "invalid log format",
			modify:  func(c *config.Config) { c.Log.Format = "xml" },
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderEnv(t *testing.T) {
	t.Setenv("KEYVAULT_VAULT_PATH", "/tmp/env-vault.enc")
	t.Setenv("KEYVAULT_AUTO_LOCK_TIMEOUT", "2m")
	t.Setenv("KEYVAULT_LOG_LEVEL", "DEBUG")
	t.Setenv("KEYVAULT_STATE_BACKEND", "sqlite")
	t.Setenv("KEYVAULT_BACKUP_ON_SAVE", "true")

	cfg, err := config.NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env-vault.enc", cfg.Vault.Path)
	assert.Equal(t, 2*time.Minute, cfg.AutoLock.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.State.Backend)
	assert.True(t, cfg.Backup.OnSave)
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "keyvault.yaml")
		configYAML := `
vault:
  path: /data/personal.enc
auto_lock:
  timeout: 5m
  warn_before: 30s
backup:
  keep: 3
  s3:
    bucket: my-vault-backups
    region: eu-west-1
log:
  level: warn
  format: json
`
		require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0600))

		loader := config.NewLoader(configPath)
		cfg, err := loader.Load()
		require.NoError(t, err)

		assert.Equal(t, configPath, loader.ConfigFileUsed())
		assert.Equal(t, "/data/personal.enc", cfg.Vault.Path)
		assert.Equal(t, 5*time.Minute, cfg.AutoLock.Timeout)
		assert.Equal(t, 3, cfg.Backup.Keep)
		assert.True(t, cfg.Backup.S3.Enabled())
		assert.Equal(t, "eu-west-1", cfg.Backup.S3.Region)
		assert.Equal(t, "json", cfg.Log.Format)
		// Untouched keys keep their defaults
		assert.Equal(t, 8, cfg.Security.MinPasswordLength)
	})

	t.Run("json", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "keyvault.json")
		configJSON := `{"security": {"kdf_iterations": 250000}, "log": {"level": "error"}}`
		require.NoError(t, os.WriteFile(configPath, []byte(configJSON), 0600))

		cfg, err := config.NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, 250000, cfg.Security.KDFIterations)
		assert.Equal(t, "error", cfg.Log.Level)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "bad.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"security": {"kdf_iterations": 10}}`), 0600))

		_, err := config.NewLoader(configPath).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := config.NewLoader(filepath.Join(tmpDir, "nope.yaml")).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSetOverridesEnv(t *testing.T) {
	t.Setenv("KEYVAULT_VAULT_PATH", "/tmp/env.enc")

	loader := config.NewLoader("")
	loader.Set("vault.path", "/tmp/flag.enc")

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag.enc", cfg.Vault.Path)
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	require.NoError(t, config.SaveExample(path))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Security, cfg.Security)

	// Refuses to overwrite
	assert.Error(t, config.SaveExample(path))
}

func TestConfigEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Vault.Path = filepath.Join(tmpDir, "vaults", "vault.enc")
	cfg.Backup.Dir = filepath.Join(tmpDir, "backups")
	cfg.State.Dir = filepath.Join(tmpDir, "state")
	cfg.Log.File = filepath.Join(tmpDir, "logs", "app.log")

	require.NoError(t, cfg.EnsureDirectories())

	assert.DirExists(t, filepath.Dir(cfg.Vault.Path))
	assert.DirExists(t, cfg.Backup.Dir)
	assert.DirExists(t, cfg.State.Dir)
	assert.DirExists(t, filepath.Dir(cfg.Log.File))
}
