package drive

import (
	"context"
	"io"
	"time"
)

// ObjectStore is the content side of the tree: keys mirror materialized paths.
//
// It has no transactions and no native rename. Failures are *StorageError.
type ObjectStore interface {
	// PutMarker writes the zero-byte placeholder for an empty directory.
	PutMarker(ctx context.Context, key string) error

	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	Open(ctx context.Context, key string) (io.ReadCloser, error)

	Head(ctx context.Context, key string) (bool, error)

	// CheckAllExist probes every file entry and fails closed on the first
	// miss or client error.
	CheckAllExist(ctx context.Context, entries []*Entry) bool

	// ListKeys returns every key under prefix, across all result pages.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every key under prefix in bounded batches and
	// returns how many were deleted. An empty prefix is not an error.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// RenameObject copies oldKey to newKey then deletes oldKey. A failed copy
	// is an error; a failed delete after a good copy is only logged.
	RenameObject(ctx context.Context, oldKey, newKey string) error

	// RenamePrefix renames every key under oldPrefix. Per-key failures are
	// collected in the report, not returned.
	RenamePrefix(ctx context.Context, oldPrefix, newPrefix string) (*RenameReport, error)

	// PresignGet returns a time-limited download handle for key.
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

// RenameReport summarizes a best-effort prefix rename.
type RenameReport struct {
	Renamed int
	Skipped int
	Failed  map[string]error // old key -> cause
}

// Complete reports whether every key was renamed or skipped.
func (r *RenameReport) Complete() bool { return r == nil || len(r.Failed) == 0 }
