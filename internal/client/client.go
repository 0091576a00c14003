package client

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pquerna/otp"

	"github.com/TheMichaelB/keyvault/internal/config"
	"github.com/TheMichaelB/keyvault/internal/crypto"
	"github.com/TheMichaelB/keyvault/internal/events"
	"github.com/TheMichaelB/keyvault/internal/models"
	"github.com/TheMichaelB/keyvault/internal/services/audit"
	"github.com/TheMichaelB/keyvault/internal/services/backup"
	"github.com/TheMichaelB/keyvault/internal/services/session"
	"github.com/TheMichaelB/keyvault/internal/services/totp"
	"github.com/TheMichaelB/keyvault/internal/state"
	"github.com/TheMichaelB/keyvault/internal/storage"
)

// Client provides the high-level API for KeyVault operations.
type Client struct {
	Backups *backup.Manager
	Recent  state.Store
	TOTP    totp.Service

	config   *config.Config
	logger   *events.Logger
	provider crypto.Provider
	store    *storage.LocalStore
}

// New creates a new KeyVault client.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	provider, err := crypto.NewProviderWithIterations(cfg.Security.KDFIterations)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	localStore := storage.NewLocalStore(logger)
	localStore.SetMaxFileSize(cfg.Vault.MaxFileSize)

	recent, err := state.Open(&cfg.State, logger)
	if err != nil {
		return nil, err
	}

	target, err := newBackupTarget(cfg, localStore, logger)
	if err != nil {
		recent.Close()
		return nil, err
	}

	backups := backup.NewManager(target, localStore, logger,
		backup.WithRecorder(recent),
		backup.WithAutoBackup(cfg.Backup.OnSave),
		backup.WithKeep(cfg.Backup.Keep),
	)

	return &Client{
		Backups: backups,
		Recent:  recent,
		TOTP: totp.NewServiceWithConfig(uint(cfg.Security.TOTPPeriod),
			otp.Digits(cfg.Security.TOTPDigits), otp.AlgorithmSHA1),
		config:   cfg,
		logger:   logger,
		provider: provider,
		store:    localStore,
	}, nil
}

func newBackupTarget(cfg *config.Config, store *storage.LocalStore, logger *events.Logger) (backup.Target, error) {
	if cfg.Backup.S3.Enabled() {
		return backup.NewS3Target(context.Background(), cfg.Backup.S3, logger)
	}
	return backup.NewLocalTarget(cfg.Backup.Dir, store)
}

// Config returns the client configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// VaultPath returns override, or the configured vault when it is empty.
func (c *Client) VaultPath(override string) string {
	if override != "" {
		return override
	}
	return c.config.Vault.Path
}

// NewSession creates a closed session wired to the recent registry,
// backups and TOTP secret validation.
func (c *Client) NewSession(extra ...session.Option) *session.Session {
	var s *session.Session
	opts := []session.Option{
		session.WithLogger(c.logger),
		session.WithMinPasswordLength(c.config.Security.MinPasswordLength),
		session.WithSecretValidator(c.TOTP.IsValidSecret),
		session.WithRecorder(c.Recent),
		session.WithBeforeRotate(func(path string) error {
			ctx := events.WithSessionID(context.Background(), s.ID())
			_, err := c.Backups.Create(events.WithVaultPath(ctx, path), path)
			return err
		}),
	}
	if c.config.Backup.OnSave {
		opts = append(opts, session.WithAfterSave(c.Backups.AfterSave()))
	}
	opts = append(opts, extra...)

	s = session.New(c.store, c.provider, opts...)
	return s
}

// CreateVault creates a vault at path and returns it unlocked.
func (c *Client) CreateVault(path, password string) (*session.Session, error) {
	if c.config.Vault.CreateDirs {
		if err := c.store.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("create vault directory: %w", err)
		}
	}

	s := c.NewSession()
	if err := s.Create(path, password); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenVault opens the vault at path, still locked.
func (c *Client) OpenVault(path string) (*session.Session, error) {
	s := c.NewSession()
	if err := s.Open(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Unlock opens and unlocks the vault at path.
func (c *Client) Unlock(path, password string) (*session.Session, error) {
	s, err := c.OpenVault(path)
	if err != nil {
		return nil, err
	}
	if err := s.Unlock(password); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// RecentVaults returns recently used vaults, newest first. A limit of zero
// uses the configured maximum.
func (c *Client) RecentVaults(limit int) ([]*models.VaultRecord, error) {
	if limit <= 0 {
		limit = c.config.State.MaxRecent
	}
	return c.Recent.List(limit)
}

// MigrateRecent copies the recent vault registry into the named backend,
// configured like the current one otherwise. It returns the number of
// records the target holds afterwards.
func (c *Client) MigrateRecent(backend string) (int, error) {
	if strings.EqualFold(backend, c.config.State.Backend) {
		return 0, fmt.Errorf("%w: state already uses the %s backend", models.ErrInvalidConfig, backend)
	}

	targetCfg := *c.config
	targetCfg.State.Backend = strings.ToLower(backend)
	if err := targetCfg.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	target, err := state.Open(&targetCfg.State, c.logger)
	if err != nil {
		return 0, err
	}
	defer target.Close()

	if err := c.Recent.Migrate(target); err != nil {
		return 0, fmt.Errorf("migrate recent vaults: %w", err)
	}

	records, err := target.List(0)
	if err != nil {
		return 0, err
	}
	c.logger.WithFields(map[string]interface{}{
		"backend": backend,
		"records": len(records),
	}).Info("Recent vaults migrated")
	return len(records), nil
}

// Health reports password strength, two-factor coverage, reuse and backup
// freshness for the unlocked vault.
func (c *Client) Health(ctx context.Context, s *session.Session) (*audit.Report, error) {
	entries, err := s.ListEntries()
	if err != nil {
		return nil, err
	}

	stats, err := c.Backups.Stats(ctx)
	if err != nil {
		return nil, err
	}

	var last time.Time
	if stats.Latest != nil {
		last = stats.Latest.CreatedAt
	}
	return audit.Analyze(entries, last, time.Now()), nil
}

// NewAutoLocker returns the configured inactivity lock for s, or nil when
// auto-lock is disabled.
func (c *Client) NewAutoLocker(s *session.Session) *session.AutoLocker {
	if !c.config.AutoLock.Enabled {
		return nil
	}
	return session.NewAutoLocker(s, c.config.AutoLock.Timeout, c.config.AutoLock.WarnBefore)
}

// Close releases the recent vault registry.
func (c *Client) Close() error {
	return c.Recent.Close()
}
