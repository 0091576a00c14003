package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/TheMichaelB/keyvault/internal/crypto"
	"github.com/TheMichaelB/keyvault/internal/models"
)

// MaxContainerSize bounds the vault files this package reads and writes.
const MaxContainerSize = 64 * 1024 * 1024

// ContainerStore persists vault containers: a fixed-size salt followed by
// the encrypted document.
type ContainerStore interface {
	// Write replaces the container at path atomically.
	Write(path string, salt, ciphertext []byte) error

	// Read splits the container at path into salt and ciphertext.
	Read(path string) (salt, ciphertext []byte, err error)

	// Exists checks if a container exists.
	Exists(path string) (bool, error)

	// Copy duplicates src to dst atomically.
	Copy(src, dst string) error

	// Remove deletes the file at path.
	Remove(path string) error

	// Stat returns file information.
	Stat(path string) (FileInfo, error)
}

// FileInfo contains file metadata.
type FileInfo struct {
	Path    string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

// EncodeContainer lays out salt || ciphertext.
func EncodeContainer(salt, ciphertext []byte) ([]byte, error) {
	if len(salt) != crypto.SaltSize {
		return nil, fmt.Errorf("%w: expected %d, got %d", crypto.ErrInvalidSalt, crypto.SaltSize, len(salt))
	}

	data := make([]byte, 0, len(salt)+len(ciphertext))
	data = append(data, salt...)
	data = append(data, ciphertext...)
	return data, nil
}

// DecodeContainer splits raw container bytes. Input shorter than the salt
// is corrupt.
func DecodeContainer(data []byte) (salt, ciphertext []byte, err error) {
	if len(data) < crypto.SaltSize {
		return nil, nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte salt",
			models.ErrCorruptVault, len(data), crypto.SaltSize)
	}

	salt = make([]byte, crypto.SaltSize)
	copy(salt, data[:crypto.SaltSize])
	ciphertext = make([]byte, len(data)-crypto.SaltSize)
	copy(ciphertext, data[crypto.SaltSize:])
	return salt, ciphertext, nil
}
