package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/keyvault/internal/models"
	"github.com/TheMichaelB/keyvault/internal/storage"
)

// LocalTarget keeps backups in a directory.
type LocalTarget struct {
	dir   string
	store *storage.LocalStore
}

// NewLocalTarget creates a target rooted at dir, creating it if needed.
func NewLocalTarget(dir string, store *storage.LocalStore) (*LocalTarget, error) {
	if err := store.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	return &LocalTarget{dir: dir, store: store}, nil
}

func (t *LocalTarget) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid backup name %q", name)
	}
	return filepath.Join(t.dir, name), nil
}

// Put writes data atomically.
func (t *LocalTarget) Put(ctx context.Context, name string, data []byte) error {
	path, err := t.path(name)
	if err != nil {
		return err
	}
	return t.store.WriteFile(path, data)
}

// Get reads a backup file.
func (t *LocalTarget) Get(ctx context.Context, name string) ([]byte, error) {
	path, err := t.path(name)
	if err != nil {
		return nil, err
	}
	data, err := t.store.ReadFile(path)
	if errors.Is(err, models.ErrVaultNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}
	return data, err
}

// Stat returns file metadata.
func (t *LocalTarget) Stat(ctx context.Context, name string) (Object, error) {
	path, err := t.path(name)
	if err != nil {
		return Object{}, err
	}
	info, err := t.store.Stat(path)
	if errors.Is(err, models.ErrVaultNotFound) {
		return Object{}, fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}
	if err != nil {
		return Object{}, err
	}
	return Object{Name: name, Size: info.Size, ModTime: info.ModTime}, nil
}

// List returns the files in the backup directory.
func (t *LocalTarget) List(ctx context.Context) ([]Object, error) {
	files, err := t.store.ListDir(t.dir)
	if err != nil {
		return nil, err
	}

	objects := make([]Object, 0, len(files))
	for _, f := range files {
		objects = append(objects, Object{
			Name:    filepath.Base(f.Path),
			Size:    f.Size,
			ModTime: f.ModTime,
		})
	}
	return objects, nil
}

// Delete removes a backup file.
func (t *LocalTarget) Delete(ctx context.Context, name string) error {
	path, err := t.path(name)
	if err != nil {
		return err
	}
	exists, err := t.store.Exists(path)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}
	return t.store.Remove(path)
}

func (t *LocalTarget) String() string {
	return t.dir
}
