package state

import (
	"sync"
	"time"

	"github.com/TheMichaelB/keyvault/internal/models"
)

// MockStore provides a mock implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	records map[string]*models.VaultRecord

	// RecordErr, when set, is returned by Record.
	RecordErr error
}

// NewMockStore creates a mock state store.
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[string]*models.VaultRecord),
	}
}

// Load returns a copy of the record for path.
func (m *MockStore) Load(path string) (*models.VaultRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.records[path]; ok {
		return r.Clone(), nil
	}
	return nil, ErrRecordNotFound
}

// Save stores a copy of record.
func (m *MockStore) Save(record *models.VaultRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Path] = record.Clone()
	return nil
}

// Record applies event to the record for path.
func (m *MockStore) Record(path string, event models.VaultEvent, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecordErr != nil {
		return m.RecordErr
	}

	r, ok := m.records[path]
	if !ok {
		r = models.NewVaultRecord(path)
		m.records[path] = r
	}
	return r.Apply(event, at)
}

// Reset removes the record for path.
func (m *MockStore) Reset(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, path)
	return nil
}

// List returns copies of all records, most recent first.
func (m *MockStore) List(limit int) ([]*models.VaultRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.VaultRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	return sortRecent(out, limit), nil
}

// Migrate copies records into target.
func (m *MockStore) Migrate(target Store) error {
	records, _ := m.List(0)
	for _, r := range records {
		if err := target.Save(r); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store (no-op for mock).
func (m *MockStore) Close() error {
	return nil
}

// Clear removes all records.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*models.VaultRecord)
}
