package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. KEYVAULT_LOG_LEVEL.
const EnvPrefix = "KEYVAULT"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty configPath searches the
// default locations.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{
		configPath: configPath,
		v:          v,
	}
}

// Load reads configuration from defaults, file and environment, in that
// order of precedence from lowest to highest.
func (l *Loader) Load() (*Config, error) {
	setDefaults(l.v, DefaultConfig())

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		l.v.SetConfigName("keyvault")
		for _, dir := range defaultDirs() {
			l.v.AddConfigPath(dir)
		}
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file %s: %w", l.v.ConfigFileUsed(), err)
			}
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.Vault.Path = expandHome(cfg.Vault.Path)
	cfg.Backup.Dir = expandHome(cfg.Backup.Dir)
	cfg.State.Dir = expandHome(cfg.State.Dir)
	cfg.Security.CredentialsFile = expandHome(cfg.Security.CredentialsFile)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed returns the file Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set overrides a key, taking precedence over file and environment.
// Command-line flags use this.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// defaultDirs returns default config file locations.
func defaultDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "keyvault"),
			filepath.Join(homeDir, ".keyvault"),
		)
	}

	return dirs
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("vault.path", cfg.Vault.Path)
	v.SetDefault("vault.create_dirs", cfg.Vault.CreateDirs)
	v.SetDefault("vault.max_file_size", cfg.Vault.MaxFileSize)

	v.SetDefault("security.kdf_iterations", cfg.Security.KDFIterations)
	v.SetDefault("security.min_password_length", cfg.Security.MinPasswordLength)
	v.SetDefault("security.credentials_file", cfg.Security.CredentialsFile)
	v.SetDefault("security.totp_period", cfg.Security.TOTPPeriod)
	v.SetDefault("security.totp_digits", cfg.Security.TOTPDigits)

	v.SetDefault("auto_lock.enabled", cfg.AutoLock.Enabled)
	v.SetDefault("auto_lock.timeout", cfg.AutoLock.Timeout)
	v.SetDefault("auto_lock.warn_before", cfg.AutoLock.WarnBefore)

	v.SetDefault("backup.dir", cfg.Backup.Dir)
	v.SetDefault("backup.on_save", cfg.Backup.OnSave)
	v.SetDefault("backup.keep", cfg.Backup.Keep)
	v.SetDefault("backup.s3.bucket", cfg.Backup.S3.Bucket)
	v.SetDefault("backup.s3.prefix", cfg.Backup.S3.Prefix)
	v.SetDefault("backup.s3.region", cfg.Backup.S3.Region)
	v.SetDefault("backup.s3.endpoint", cfg.Backup.S3.Endpoint)

	v.SetDefault("state.backend", cfg.State.Backend)
	v.SetDefault("state.dir", cfg.State.Dir)
	v.SetDefault("state.max_recent", cfg.State.MaxRecent)
	v.SetDefault("state.table", cfg.State.Table)
	v.SetDefault("state.region", cfg.State.Region)
	v.SetDefault("state.endpoint", cfg.State.Endpoint)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.color", cfg.Log.Color)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// SaveExample writes the default configuration to path. The format
// follows the file extension (json, yaml, toml).
func SaveExample(path string) error {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return os.Chmod(path, 0600)
}
