// Package blob stores uploaded file content addressed by generated UUID keys,
// separately from the user-facing names kept in the database.
package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no content exists for a key.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidKey is returned for keys that are not UUIDs.
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store is a content store for file blobs
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewKey generates a fresh blob key
func NewKey() string {
	return uuid.NewString()
}

// validateKey rejects anything that is not a canonical UUID, so keys can
// never escape the storage root.
func validateKey(key string) error {
	id, err := uuid.Parse(key)
	if err != nil || id.String() != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Backends
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config selects and configures a backend
type Config struct {
	Backend    string
	UploadRoot string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// Open returns the store described by cfg
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFS, "":
		return NewFSStore(cfg.UploadRoot)
	case BackendS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
