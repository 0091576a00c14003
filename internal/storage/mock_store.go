package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/keyvault/internal/models"
)

// MockStore provides an in-memory ContainerStore for testing.
type MockStore struct {
	mu    sync.RWMutex
	files map[string][]byte

	// WriteErr, when set, is returned by the next writes without touching
	// the stored files.
	WriteErr error
	writes   int
}

// NewMockStore creates a mock container store.
func NewMockStore() *MockStore {
	return &MockStore{
		files: make(map[string][]byte),
	}
}

// Write saves salt || ciphertext.
func (m *MockStore) Write(path string, salt, ciphertext []byte) error {
	data, err := EncodeContainer(salt, ciphertext)
	if err != nil {
		return err
	}
	return m.WriteFile(path, data)
}

// WriteFile stores raw bytes.
func (m *MockStore) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return m.WriteErr
	}

	m.files[path] = append([]byte(nil), data...)
	m.writes++
	return nil
}

// Read retrieves and splits a container.
func (m *MockStore) Read(path string) ([]byte, []byte, error) {
	data, err := m.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return DecodeContainer(data)
}

// ReadFile retrieves raw file contents.
func (m *MockStore) ReadFile(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if data, ok := m.files[path]; ok {
		return append([]byte(nil), data...), nil
	}

	return nil, fmt.Errorf("%w: %s", models.ErrVaultNotFound, path)
}

// Exists checks if a file exists.
func (m *MockStore) Exists(path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.files[path]
	return exists, nil
}

// Copy duplicates src to dst.
func (m *MockStore) Copy(src, dst string) error {
	data, err := m.ReadFile(src)
	if err != nil {
		return err
	}
	return m.WriteFile(dst, data)
}

// Remove deletes a file.
func (m *MockStore) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, path)
	return nil
}

// Stat returns file information.
func (m *MockStore) Stat(path string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if data, ok := m.files[path]; ok {
		return FileInfo{
			Path:    path,
			Size:    int64(len(data)),
			Mode:    0600,
			ModTime: time.Now(),
		}, nil
	}

	return FileInfo{}, fmt.Errorf("%w: %s", models.ErrVaultNotFound, path)
}

// Helper methods for testing

// Writes returns the number of successful writes.
func (m *MockStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// SetWriteErr makes subsequent writes fail with err. Pass nil to clear.
func (m *MockStore) SetWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteErr = err
}

// Raw returns a copy of the stored bytes, or nil.
func (m *MockStore) Raw(path string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if data, ok := m.files[path]; ok {
		return append([]byte(nil), data...)
	}
	return nil
}

// Clear removes all files.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files = make(map[string][]byte)
	m.writes = 0
}
