package testutil

import (
	"clouddrive/internal/drive"
	"clouddrive/internal/objectstore"
)

// NewTestStore creates a Store over a fresh in-memory backend. The backend
// is returned for inspection and failure injection.
func NewTestStore(logger drive.Logger) (*objectstore.Store, *objectstore.MemoryBackend) {
	backend := objectstore.NewMemoryBackend()
	return objectstore.NewStore(backend, logger, nil), backend
}
