package objectstore

import (
	"context"
	"fmt"

	"clouddrive/internal/config"
	"clouddrive/internal/drive"
)

// NewBackendFromConfig creates a Backend based on the object store config type.
func NewBackendFromConfig(ctx context.Context, cfg config.ObjectStoreConfig) (Backend, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryBackend(), nil
	case "s3":
		b, err := NewS3Backend(ctx, S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
			MaxRetries:      cfg.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem object store requires root to be set")
		}
		b, err := NewFileSystemBackend(cfg.Root)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown object store type: %s", cfg.Type)
	}
}

// NewStoreFromConfig creates the backend named by cfg and wraps it in a Store.
func NewStoreFromConfig(ctx context.Context, cfg config.ObjectStoreConfig, logger drive.Logger, observer Observer) (*Store, error) {
	backend, err := NewBackendFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(backend, logger, observer), nil
}
