// Package artifacts archives finalized tool definitions on the local
// filesystem or in an S3 compatible bucket.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"keyvex/internal/config"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("artifact not found")

// Storage is a flat key/value object store
type Storage interface {
	Name() string
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// NewStorage builds the backend selected in cfg
func NewStorage(ctx context.Context, cfg config.ArtifactsConfig) (Storage, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return NewLocalStorage(cfg.Dir)
	case "s3":
		return NewS3Storage(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
	}
}

// validKey rejects keys that could escape the storage root
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid artifact key %q", key)
		}
	}
	return nil
}
