package database

import (
	"context"
	"testing"

	"clouddrive/internal/config"
)

func TestNewCatalogFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory catalog", func(t *testing.T) {
		got, err := NewCatalogFromConfig(ctx, config.CatalogConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewCatalogFromConfig() unexpected error: %v", err)
		}
		if got == nil {
			t.Fatal("NewCatalogFromConfig() returned nil")
		}
		got.Close()
	})

	t.Run("sqlite catalog", func(t *testing.T) {
		got, err := NewCatalogFromConfig(ctx, config.CatalogConfig{Type: "sqlite", DataDir: t.TempDir()})
		if err != nil {
			t.Fatalf("NewCatalogFromConfig() unexpected error: %v", err)
		}
		if got == nil {
			t.Fatal("NewCatalogFromConfig() returned nil")
		}
		got.Close()
	})

	t.Run("sqlite catalog without data_dir", func(t *testing.T) {
		got, err := NewCatalogFromConfig(ctx, config.CatalogConfig{Type: "sqlite"})
		if err == nil {
			t.Error("NewCatalogFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewCatalogFromConfig() should return nil on error")
		}
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		for _, key := range []string{"POSTGRES_DB", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_HOST", "POSTGRES_PORT"} {
			t.Setenv(key, "")
		}
		if _, err := NewCatalogFromConfig(ctx, config.CatalogConfig{Type: "postgres"}); err == nil {
			t.Error("NewCatalogFromConfig() expected error for missing dsn, got nil")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewCatalogFromConfig(ctx, config.CatalogConfig{Type: "mongodb"}); err == nil {
			t.Error("NewCatalogFromConfig() expected error for unknown type, got nil")
		}
	})
}

func TestLikePrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"user_1/docs/", `user\_1/docs/%`},
		{"a%b/", `a\%b/%`},
		{`back\slash/`, `back\\slash/%`},
		{"", "%"},
	}
	for _, tt := range tests {
		if got := likePrefix(tt.in); got != tt.want {
			t.Errorf("likePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLikeContains(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report", `%report%`},
		{"100%", `%100\%%`},
		{"a_b", `%a\_b%`},
		{`c:\tmp`, `%c:\\tmp%`},
	}
	for _, tt := range tests {
		if got := likeContains(tt.in); got != tt.want {
			t.Errorf("likeContains(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
