package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/TheMichaelB/keyvault/internal/events"
	"github.com/TheMichaelB/keyvault/internal/models"
)

// LocalStore implements ContainerStore on the local file system.
type LocalStore struct {
	logger *events.Logger

	// Security settings
	allowSymlinks bool
	maxFileSize   int64
	fileMode      os.FileMode
	dirMode       os.FileMode
}

// NewLocalStore creates a local container store.
func NewLocalStore(logger *events.Logger) *LocalStore {
	return &LocalStore{
		logger:        logger.WithField("component", "local_store"),
		allowSymlinks: false,
		maxFileSize:   MaxContainerSize,
		fileMode:      0600,
		dirMode:       0700,
	}
}

// SetMaxFileSize sets the maximum file size limit.
func (s *LocalStore) SetMaxFileSize(size int64) {
	s.maxFileSize = size
}

// Write saves salt || ciphertext atomically.
func (s *LocalStore) Write(path string, salt, ciphertext []byte) error {
	data, err := EncodeContainer(salt, ciphertext)
	if err != nil {
		return err
	}
	return s.WriteFile(path, data)
}

// WriteFile replaces path with data. The previous file stays intact until
// the final rename.
func (s *LocalStore) WriteFile(path string, data []byte) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"path": safePath,
		"size": len(data),
	}).Debug("Writing file")

	if int64(len(data)) > s.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max: %d)", len(data), s.maxFileSize)
	}

	dir := filepath.Dir(safePath)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(safePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(s.fileMode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, safePath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true

	if err := syncDir(dir); err != nil {
		s.logger.WithError(err).WithField("dir", dir).Warn("Directory sync failed")
	}

	return nil
}

// Read retrieves and splits a container.
func (s *LocalStore) Read(path string) ([]byte, []byte, error) {
	data, err := s.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return DecodeContainer(data)
}

// ReadFile retrieves raw file contents. A missing file is
// models.ErrVaultNotFound.
func (s *LocalStore) ReadFile(path string) ([]byte, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return nil, fmt.Errorf("sanitize path: %w", err)
	}

	stat, err := os.Lstat(safePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrVaultNotFound, path)
		}
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !s.allowSymlinks && stat.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlinks not allowed: %s", path)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", models.ErrCorruptVault, path)
	}
	if stat.Size() > s.maxFileSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes", models.ErrCorruptVault, stat.Size())
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// Exists checks if a file exists.
func (s *LocalStore) Exists(path string) (bool, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return false, fmt.Errorf("sanitize path: %w", err)
	}

	_, err = os.Stat(safePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Copy duplicates src to dst through an atomic write.
func (s *LocalStore) Copy(src, dst string) error {
	data, err := s.ReadFile(src)
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"src": src,
		"dst": dst,
	}).Debug("Copying file")

	return s.WriteFile(dst, data)
}

// Remove deletes a file. Removing a missing file is not an error.
func (s *LocalStore) Remove(path string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	s.logger.WithField("path", safePath).Debug("Deleting file")

	if err := os.Remove(safePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Stat returns file information.
func (s *LocalStore) Stat(path string) (FileInfo, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("sanitize path: %w", err)
	}

	stat, err := os.Stat(safePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileInfo{}, fmt.Errorf("%w: %s", models.ErrVaultNotFound, path)
		}
		return FileInfo{}, fmt.Errorf("stat file: %w", err)
	}

	return FileInfo{
		Path:    safePath,
		Size:    stat.Size(),
		Mode:    stat.Mode(),
		ModTime: stat.ModTime(),
		IsDir:   stat.IsDir(),
	}, nil
}

// EnsureDir creates a directory if it doesn't exist.
func (s *LocalStore) EnsureDir(path string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}
	return os.MkdirAll(safePath, s.dirMode)
}

// ListDir returns the regular files in a directory.
func (s *LocalStore) ListDir(path string) ([]FileInfo, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return nil, fmt.Errorf("sanitize path: %w", err)
	}

	entries, err := os.ReadDir(safePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, FileInfo{
			Path:    filepath.Join(safePath, entry.Name()),
			Size:    info.Size(),
			Mode:    info.Mode(),
			ModTime: info.ModTime(),
		})
	}

	return files, nil
}

// sanitizePath validates and normalizes a file path.
func (s *LocalStore) sanitizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty path")
	}

	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null bytes")
	}

	abs, err := filepath.Abs(filepath.Clean(filepath.FromSlash(expandHome(path))))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if err := validatePlatformPath(abs); err != nil {
		return "", err
	}

	return abs, nil
}

// expandHome replaces a leading ~ with the user's home directory.
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

// validatePlatformPath checks platform-specific path restrictions.
func validatePlatformPath(path string) error {
	if runtime.GOOS != "windows" {
		return nil
	}

	reserved := map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
		"COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
		"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}

	base := filepath.Base(path)
	if reserved[strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))] {
		return fmt.Errorf("invalid path: contains reserved name '%s'", base)
	}
	return nil
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
