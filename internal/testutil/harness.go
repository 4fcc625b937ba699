package testutil

import (
	"testing"

	"clouddrive/internal/database"
	"clouddrive/internal/drive"
	"clouddrive/internal/objectstore"
)

// Harness bundles the fakes a drive service needs: an in-memory SQLite
// catalog, a memory object store, a stub clock and ids, and a recording
// logger.
type Harness struct {
	Catalog *database.SQLiteCatalog
	Store   *objectstore.Store
	Backend *objectstore.MemoryBackend
	Clock   *StubClock
	IDs     *StubIDGenerator
	Logger  *RecordingLogger
}

// NewHarness builds a fresh Harness cleaned up with the test.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	logger := NewRecordingLogger()
	store, backend := NewTestStore(logger)
	return &Harness{
		Catalog: NewTestCatalog(t),
		Store:   store,
		Backend: backend,
		Clock:   FixedClock(),
		IDs:     NewStubIDGenerator(),
		Logger:  logger,
	}
}

// Deps returns service dependencies wired to the harness fakes.
func (h *Harness) Deps() drive.Dependencies {
	return drive.Dependencies{
		Catalog: h.Catalog,
		Store:   h.Store,
		Logger:  h.Logger,
		Clock:   h.Clock,
		IDs:     h.IDs,
	}
}

// Directories returns a DirectoryService for owner.
func (h *Harness) Directories(owner string) *drive.DirectoryService {
	return drive.NewDirectoryService(owner, h.Deps())
}

// Uploads returns an UploadService for owner with the given limits.
func (h *Harness) Uploads(owner string, limits drive.UploadLimits) *drive.UploadService {
	deps := h.Deps()
	deps.Limits = limits
	return drive.NewUploadService(owner, deps)
}
