package backup

import (
	"context"
	"errors"
	"time"
)

// ErrBackupNotFound is returned when a named backup does not exist.
var ErrBackupNotFound = errors.New("backup not found")

// Object is one file held by a Target.
type Object struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Target stores backup files by name.
type Target interface {
	// Put stores data under name, replacing any existing object.
	Put(ctx context.Context, name string, data []byte) error

	// Get retrieves the object. A missing object is ErrBackupNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// Stat returns object metadata. A missing object is ErrBackupNotFound.
	Stat(ctx context.Context, name string) (Object, error)

	// List returns every object in the target.
	List(ctx context.Context) ([]Object, error)

	// Delete removes the object. A missing object is ErrBackupNotFound.
	Delete(ctx context.Context, name string) error

	// String describes the location for logs and the CLI.
	String() string
}
