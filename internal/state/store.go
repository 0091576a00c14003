// Package state keeps the registry of recently used vault files. It stores
// paths and activity timestamps only, never vault contents or passwords.
package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/TheMichaelB/keyvault/internal/config"
	"github.com/TheMichaelB/keyvault/internal/events"
	"github.com/TheMichaelB/keyvault/internal/models"
)

// Store manages recent vault records.
type Store interface {
	// Load retrieves the record for a vault path.
	Load(path string) (*models.VaultRecord, error)

	// Save persists a record, replacing any record for the same path.
	Save(record *models.VaultRecord) error

	// Record applies an activity event, creating the record if needed.
	Record(path string, event models.VaultEvent, at time.Time) error

	// Reset forgets a vault path.
	Reset(path string) error

	// List returns records, most recently active first. A limit of zero
	// or less returns all of them.
	List(limit int) ([]*models.VaultRecord, error)

	// Migrate copies every record into target.
	Migrate(target Store) error

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrRecordNotFound = errors.New("vault record not found")
	ErrStateCorrupt   = errors.New("state file is corrupt")
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// Backend names accepted by Open.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Open creates the store configured by cfg.
func Open(cfg *config.StateConfig, logger *events.Logger) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendJSON:
		return NewJSONStore(cfg.Dir, logger)
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(cfg.Dir, "state.db"), logger)
	case BackendDynamoDB:
		return NewDynamoDBStore(context.Background(), cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown state backend %q", models.ErrInvalidConfig, cfg.Backend)
	}
}

// normalizePath returns the key records are stored under.
func normalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("vault path is required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path), nil
}

// sortRecent orders records by activity, newest first, and applies limit.
func sortRecent(records []*models.VaultRecord, limit int) []*models.VaultRecord {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].LastActive(), records[j].LastActive()
		if !a.Equal(b) {
			return a.After(b)
		}
		return records[i].Path < records[j].Path
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

func migrate(source, target Store, logger *events.Logger) error {
	records, err := source.List(0)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	logger.WithField("count", len(records)).Info("Migrating vault records")

	for _, record := range records {
		if err := target.Save(record); err != nil {
			return fmt.Errorf("save record %s: %w", record.Path, err)
		}
		logger.WithField("vault_path", record.Path).Debug("Migrated vault record")
	}

	return nil
}
