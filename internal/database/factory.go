package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"clouddrive/internal/config"
	"clouddrive/internal/drive"
)

// NewCatalogFromConfig creates a Catalog implementation based on the catalog config type.
func NewCatalogFromConfig(ctx context.Context, cfg config.CatalogConfig) (drive.Catalog, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite catalog")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return openSQLite(filepath.Join(cfg.DataDir, "catalog.db"))
	case "memory":
		return openSQLite(":memory:")
	case "postgres":
		dsn := cfg.PostgresDSN()
		if dsn == "" {
			return nil, fmt.Errorf("dsn or POSTGRES_* environment required for postgres catalog")
		}
		c, err := NewPostgresCatalog(ctx, dsn, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.Type)
	}
}

func openSQLite(path string) (drive.Catalog, error) {
	c, err := NewSQLiteCatalog(path)
	if err != nil {
		return nil, err
	}
	return c, nil
}
