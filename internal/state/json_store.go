package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TheMichaelB/keyvault/internal/events"
	"github.com/TheMichaelB/keyvault/internal/models"
)

const registryFile = "recent.json"

// registry is the on-disk form of the JSON store.
type registry struct {
	SchemaVersion int                   `json:"schema_version"`
	UpdatedAt     time.Time             `json:"updated_at"`
	Vaults        []*models.VaultRecord `json:"vaults"`
	Checksum      string                `json:"checksum,omitempty"`
}

func (r *registry) checksum() (string, error) {
	unsigned := registry{
		SchemaVersion: r.SchemaVersion,
		UpdatedAt:     r.UpdatedAt,
		Vaults:        r.Vaults,
	}
	data, err := json.Marshal(unsigned)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// JSONStore implements file-based vault record storage. All records live
// in a single checksummed file with a backup copy of the previous version.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	mu sync.Mutex
}

// NewJSONStore creates a JSON-based state store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_state_store"),
	}, nil
}

// Load reads the record for path.
func (s *JSONStore) Load(path string) (*models.VaultRecord, error) {
	key, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	if r, ok := records[key]; ok {
		return r, nil
	}
	return nil, ErrRecordNotFound
}

// Save writes record to the registry.
func (s *JSONStore) Save(record *models.VaultRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	key, err := normalizePath(record.Path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readOrEmpty()
	if err != nil {
		return err
	}

	r := record.Clone()
	r.Path = key
	records[key] = r
	return s.write(records)
}

// Record applies event to the record for path.
func (s *JSONStore) Record(path string, event models.VaultEvent, at time.Time) error {
	key, err := normalizePath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readOrEmpty()
	if err != nil {
		return err
	}

	r, ok := records[key]
	if !ok {
		r = models.NewVaultRecord(key)
		records[key] = r
	}
	if err := r.Apply(event, at); err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"vault_path": key,
		"event":      string(event),
	}).Debug("Recording vault activity")

	return s.write(records)
}

// Reset removes the record for path.
func (s *JSONStore) Reset(path string) error {
	key, err := normalizePath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readOrEmpty()
	if err != nil {
		return err
	}
	if _, ok := records[key]; !ok {
		return nil
	}

	s.logger.WithField("vault_path", key).Info("Forgetting vault")
	delete(records, key)
	return s.write(records)
}

// List returns records, most recent first.
func (s *JSONStore) List(limit int) ([]*models.VaultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readOrEmpty()
	if err != nil {
		return nil, err
	}

	return sortRecent(mapValues(records), limit), nil
}

// Migrate transfers all records to another store.
func (s *JSONStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

// Helper methods

func (s *JSONStore) path() string {
	return filepath.Join(s.baseDir, registryFile)
}

func (s *JSONStore) readOrEmpty() (map[string]*models.VaultRecord, error) {
	records, err := s.read()
	if errors.Is(err, ErrRecordNotFound) {
		return make(map[string]*models.VaultRecord), nil
	}
	return records, err
}

// read loads the registry, falling back to the backup when the main file
// fails its checksum. A missing file returns ErrRecordNotFound.
func (s *JSONStore) read() (map[string]*models.VaultRecord, error) {
	path := s.path()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	reg, err := decodeRegistry(data)
	if err != nil {
		s.logger.WithError(err).Error("State file failed verification")

		backup, berr := s.loadBackup()
		if berr != nil {
			return nil, ErrStateCorrupt
		}
		s.logger.Warn("Loaded state from backup due to corruption")
		reg = backup
	}

	if reg.SchemaVersion != CurrentSchemaVersion {
		s.logger.WithField("version", reg.SchemaVersion).Warn("State schema version mismatch")
	}

	records := make(map[string]*models.VaultRecord, len(reg.Vaults))
	for _, r := range reg.Vaults {
		if r == nil || r.Validate() != nil {
			continue
		}
		records[r.Path] = r
	}
	return records, nil
}

func decodeRegistry(data []byte) (*registry, error) {
	var reg registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}

	if reg.Checksum != "" {
		calculated, err := reg.checksum()
		if err != nil {
			return nil, err
		}
		if calculated != reg.Checksum {
			return nil, fmt.Errorf("checksum mismatch: expected %s, got %s", reg.Checksum, calculated)
		}
	}
	return &reg, nil
}

func (s *JSONStore) loadBackup() (*registry, error) {
	data, err := os.ReadFile(s.path() + ".backup")
	if err != nil {
		return nil, err
	}
	return decodeRegistry(data)
}

func (s *JSONStore) write(records map[string]*models.VaultRecord) error {
	reg := registry{
		SchemaVersion: CurrentSchemaVersion,
		UpdatedAt:     time.Now().UTC(),
		Vaults:        sortRecent(mapValues(records), 0),
	}

	sum, err := reg.checksum()
	if err != nil {
		return fmt.Errorf("marshal state for checksum: %w", err)
	}
	reg.Checksum = sum

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state with checksum: %w", err)
	}

	path := s.path()

	// Keep the previous version as a fallback
	if _, err := os.Stat(path); err == nil {
		if err := s.copyFile(path, path+".backup"); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

func (s *JSONStore) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func mapValues(records map[string]*models.VaultRecord) []*models.VaultRecord {
	out := make([]*models.VaultRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	return out
}
