package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultArchiveChunkSize is the read size used when streaming file content
// into an archive.
const DefaultArchiveChunkSize = 16 << 20

// Dependencies bundles the process-wide collaborators shared by the
// owner-scoped services.
type Dependencies struct {
	Catalog          Catalog
	Store            ObjectStore
	Logger           Logger
	Clock            Clock
	IDs              IDGenerator
	Recorder         Recorder
	MarkerName       string
	ArchiveChunkSize int
	Limits           UploadLimits
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = NewNopLogger()
	}
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.IDs == nil {
		d.IDs = UUIDGenerator{}
	}
	if d.Recorder == nil {
		d.Recorder = NopRecorder{}
	}
	if d.MarkerName == "" {
		d.MarkerName = DefaultMarkerName
	}
	if d.ArchiveChunkSize <= 0 {
		d.ArchiveChunkSize = DefaultArchiveChunkSize
	}
	return d
}

// DirectoryService creates, renames, moves and deletes entries for one owner,
// keeping catalog rows and object-store keys in step.
type DirectoryService struct {
	owner      string
	catalog    Catalog
	store      ObjectStore
	resolver   *PathResolver
	archiver   *ArchiveStreamer
	logger     Logger
	clock      Clock
	ids        IDGenerator
	recorder   Recorder
	markerName string
}

// NewDirectoryService returns a service acting on behalf of owner.
func NewDirectoryService(owner string, deps Dependencies) *DirectoryService {
	deps = deps.withDefaults()
	return &DirectoryService{
		owner:      owner,
		catalog:    deps.Catalog,
		store:      deps.Store,
		resolver:   NewPathResolver(deps.Catalog),
		archiver:   NewArchiveStreamer(deps.Store, deps.Logger, deps.ArchiveChunkSize),
		logger:     deps.Logger,
		clock:      deps.Clock,
		ids:        deps.IDs,
		recorder:   deps.Recorder,
		markerName: deps.MarkerName,
	}
}

// Owner returns the owner this service acts for.
func (s *DirectoryService) Owner() string { return s.owner }

// undoLog collects object-store effects to reverse if the surrounding
// catalog transaction does not commit.
type undoLog struct {
	steps []undoStep
}

type undoStep struct {
	desc string
	fn   func(ctx context.Context) error
}

func (u *undoLog) push(desc string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{desc: desc, fn: fn})
}

// atomically runs fn in one catalog transaction and unwinds the object-store
// effects fn recorded when the transaction fails.
func (s *DirectoryService) atomically(ctx context.Context, op string, fn func(ctx context.Context, tx Catalog, undo *undoLog) error) error {
	undo := &undoLog{}
	err := s.catalog.RunInTx(ctx, func(ctx context.Context, tx Catalog) error {
		return fn(ctx, tx, undo)
	})
	if err == nil {
		return nil
	}

	cleanupCtx := context.WithoutCancel(ctx)
	for i := len(undo.steps) - 1; i >= 0; i-- {
		step := undo.steps[i]
		if uerr := step.fn(cleanupCtx); uerr != nil {
			s.logger.Error("object store compensation failed", "operation", op, "step", step.desc, "err", uerr)
		} else {
			s.logger.Debug("object store change reverted", "operation", op, "step", step.desc)
		}
	}
	return err
}

func (s *DirectoryService) observe(op string, start time.Time, err error) {
	s.recorder.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, ErrNameConflict), errors.Is(err, ErrInvalidPath), errors.Is(err, ErrNotFound):
			s.logger.Info(op+" rejected", "owner", s.owner, "err", err)
		default:
			s.logger.Error(op+" failed", "owner", s.owner, "err", err)
		}
	}
}

// getDirectory loads a directory owned by s.owner. A nil id is the root and
// yields (nil, nil).
func (s *DirectoryService) getDirectory(ctx context.Context, cat Catalog, id *string) (*Entry, error) {
	if id == nil {
		return nil, nil
	}
	e, err := cat.GetEntry(ctx, s.owner, *id)
	if err != nil {
		return nil, err
	}
	if !e.IsDir() {
		return nil, &NotFoundError{Resource: "directory", ID: *id}
	}
	return e, nil
}

func nameOf(dir *Entry) string {
	if dir == nil {
		return ""
	}
	return dir.Name
}

func (s *DirectoryService) parentOf(ctx context.Context, tx Catalog, e *Entry) (*Entry, error) {
	return s.getDirectory(ctx, tx, e.ParentID)
}

// insert stores e, turning a lost uniqueness race into a NameConflictError.
func (s *DirectoryService) insert(ctx context.Context, tx Catalog, e *Entry, parent *Entry) error {
	if err := tx.InsertEntry(ctx, e); err != nil {
		if IsIntegrityViolation(err) {
			s.logger.Warn("insert hit uniqueness constraint", "name", e.Name, "path", e.Path, "err", err)
			return &NameConflictError{Name: e.Name, ParentName: nameOf(parent), Err: err}
		}
		return err
	}
	return nil
}

func (s *DirectoryService) update(ctx context.Context, tx Catalog, e *Entry, parent *Entry) error {
	if err := tx.UpdateEntry(ctx, e); err != nil {
		if IsIntegrityViolation(err) {
			return &NameConflictError{Name: e.Name, ParentName: nameOf(parent), Err: err}
		}
		return err
	}
	return nil
}

// Get returns an entry owned by s.owner.
func (s *DirectoryService) Get(ctx context.Context, id string) (*Entry, error) {
	return s.catalog.GetEntry(ctx, s.owner, id)
}

// Resolve returns the directory at a logical path, nil meaning the root.
func (s *DirectoryService) Resolve(ctx context.Context, logicalPath string) (*Entry, error) {
	return s.resolver.Resolve(ctx, s.owner, logicalPath)
}

// ResolveEntry returns the file or directory at a logical path.
func (s *DirectoryService) ResolveEntry(ctx context.Context, logicalPath string) (*Entry, error) {
	return s.resolver.ResolveEntry(ctx, s.owner, logicalPath)
}

// ListChildren lists a directory (nil = root), directories first.
func (s *DirectoryService) ListChildren(ctx context.Context, dirID *string) ([]*Entry, error) {
	if _, err := s.getDirectory(ctx, s.catalog, dirID); err != nil {
		return nil, err
	}
	return s.catalog.ListChildren(ctx, s.owner, dirID)
}

// Search finds the owner's entries whose name contains query, ignoring case.
// A blank query is rejected rather than matching everything.
func (s *DirectoryService) Search(ctx context.Context, query string) (entries []*Entry, err error) {
	defer func(start time.Time) { s.observe("search", start, err) }(time.Now())

	if strings.TrimSpace(query) == "" {
		return nil, &InvalidPathError{Path: query, Reason: "search query is empty"}
	}
	return s.catalog.SearchByName(ctx, s.owner, query)
}

// AvailableMoveTargets lists the directories item may be moved into.
func (s *DirectoryService) AvailableMoveTargets(ctx context.Context, id string) ([]*Entry, error) {
	item, err := s.catalog.GetEntry(ctx, s.owner, id)
	if err != nil {
		return nil, err
	}
	return s.catalog.AvailableMoveTargets(ctx, s.owner, item)
}

// Create makes an empty directory called name under parentID (nil = root).
func (s *DirectoryService) Create(ctx context.Context, name string, parentID *string) (dir *Entry, err error) {
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())

	err = s.atomically(ctx, "create", func(ctx context.Context, tx Catalog, undo *undoLog) error {
		parent, err := s.getDirectory(ctx, tx, parentID)
		if err != nil {
			return err
		}
		if err := ValidateName(name, s.markerName); err != nil {
			return err
		}
		exists, err := tx.ExistsWithName(ctx, s.owner, name, IDRef(parent))
		if err != nil {
			return err
		}
		if exists {
			return &NameConflictError{Name: name, ParentName: nameOf(parent)}
		}
		dir, err = s.newDirectory(ctx, tx, undo, parent, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("directory created", "owner", s.owner, "id", dir.ID, "path", dir.Path)
	return dir, nil
}

// newDirectory inserts a directory row and writes its marker. The caller has
// already checked for a sibling with the same name.
func (s *DirectoryService) newDirectory(ctx context.Context, tx Catalog, undo *undoLog, parent *Entry, name string) (*Entry, error) {
	now := s.clock.Now()
	dir := &Entry{
		ID:        s.ids.New(),
		Owner:     s.owner,
		ParentID:  IDRef(parent),
		Name:      name,
		Kind:      KindDirectory,
		CreatedAt: now,
		UpdatedAt: now,
	}
	path, err := s.resolver.In(tx).Materialize(ctx, dir)
	if err != nil {
		return nil, err
	}
	dir.Path = path

	if err := s.insert(ctx, tx, dir, parent); err != nil {
		return nil, err
	}

	key := dir.MarkerKey(s.markerName)
	if err := s.store.PutMarker(ctx, key); err != nil {
		return nil, fmt.Errorf("writing marker for %s: %w", dir.Path, err)
	}
	undo.push("delete marker "+key, func(ctx context.Context) error {
		return s.store.Delete(ctx, key)
	})
	return dir, nil
}

// BuildDirectoryPath gets or creates each component as a directory under
// parent, left to right, and returns the deepest one. Only newly created
// directories get a marker.
func (s *DirectoryService) BuildDirectoryPath(ctx context.Context, parent *Entry, components []string) (dir *Entry, err error) {
	defer func(start time.Time) { s.observe("build_directory_path", start, err) }(time.Now())

	err = s.atomically(ctx, "build_directory_path", func(ctx context.Context, tx Catalog, undo *undoLog) error {
		dir, err = s.buildDirectoryPath(ctx, tx, undo, parent, components)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dir, nil
}

func (s *DirectoryService) buildDirectoryPath(ctx context.Context, tx Catalog, undo *undoLog, parent *Entry, components []string) (*Entry, error) {
	current := parent
	for _, name := range components {
		if err := ValidateName(name, s.markerName); err != nil {
			return nil, err
		}
		existing, err := tx.FindEntry(ctx, s.owner, IDRef(current), name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if !existing.IsDir() {
				return nil, &NameConflictError{Name: name, ParentName: nameOf(current)}
			}
			current = existing
			continue
		}

		created, err := s.newDirectory(ctx, tx, undo, current, name)
		if err != nil {
			return nil, err
		}
		s.logger.Info("directory created", "owner", s.owner, "id", created.ID, "path", created.Path)
		current = created
	}
	return current, nil
}

// Rename gives an entry a new name in the same parent. For a directory every
// descendant row is rewritten in the same transaction, then the object-store
// prefix is renamed best-effort; the returned report lists keys that could
// not be moved.
func (s *DirectoryService) Rename(ctx context.Context, id, newName string) (entry *Entry, report *RenameReport, err error) {
	defer func(start time.Time) { s.observe("rename", start, err) }(time.Now())

	err = s.atomically(ctx, "rename", func(ctx context.Context, tx Catalog, undo *undoLog) error {
		e, err := tx.GetEntry(ctx, s.owner, id)
		if err != nil {
			return err
		}
		entry = e
		if err := ValidateName(newName, s.markerName); err != nil {
			return err
		}
		if newName == e.Name {
			return nil
		}

		parent, err := s.parentOf(ctx, tx, e)
		if err != nil {
			return err
		}
		sibling, err := tx.FindEntry(ctx, s.owner, e.ParentID, newName)
		if err != nil {
			return err
		}
		if sibling != nil && sibling.ID != e.ID {
			return &NameConflictError{Name: newName, ParentName: nameOf(parent)}
		}

		oldKey := e.ObjectKey()
		oldPath := e.Path
		now := s.clock.Now()

		e.Name = newName
		if e.Path, err = s.resolver.In(tx).Materialize(ctx, e); err != nil {
			return err
		}
		if !e.IsDir() {
			e.ContentRef = e.Path
		}
		e.UpdatedAt = now
		if err := s.update(ctx, tx, e, parent); err != nil {
			return err
		}
		if e.Path == oldPath {
			return nil
		}

		if !e.IsDir() {
			return s.renameObject(ctx, undo, oldKey, e.ContentRef)
		}

		n, err := tx.RewritePathPrefix(ctx, s.owner, oldPath, e.Path, now)
		if err != nil {
			return err
		}
		s.logger.Debug("descendant paths rewritten", "old_prefix", oldPath, "new_prefix", e.Path, "rows", n)
		report, err = s.renamePrefix(ctx, undo, oldKey, e.Path)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("entry renamed", "owner", s.owner, "id", entry.ID, "path", entry.Path)
	return entry, report, nil
}

func (s *DirectoryService) renameObject(ctx context.Context, undo *undoLog, oldKey, newKey string) error {
	if oldKey == newKey {
		return nil
	}
	if err := s.store.RenameObject(ctx, oldKey, newKey); err != nil {
		return err
	}
	undo.push("rename "+newKey+" back", func(ctx context.Context) error {
		return s.store.RenameObject(ctx, newKey, oldKey)
	})
	return nil
}

func (s *DirectoryService) renamePrefix(ctx context.Context, undo *undoLog, oldPrefix, newPrefix string) (*RenameReport, error) {
	if oldPrefix == newPrefix {
		return &RenameReport{}, nil
	}
	report, err := s.store.RenamePrefix(ctx, oldPrefix, newPrefix)
	if err != nil {
		return nil, err
	}
	undo.push("rename prefix "+newPrefix+" back", func(ctx context.Context) error {
		_, err := s.store.RenamePrefix(ctx, newPrefix, oldPrefix)
		return err
	})
	if !report.Complete() {
		s.logger.Warn("prefix rename incomplete",
			"old_prefix", oldPrefix, "new_prefix", newPrefix,
			"renamed", report.Renamed, "failed", len(report.Failed))
	}
	return report, nil
}

// Move re-parents an entry under destID (nil = root). The entry and, for a
// directory, every descendant are re-saved parent before child so each picks
// up a freshly materialized path.
func (s *DirectoryService) Move(ctx context.Context, id string, destID *string) (entry *Entry, report *RenameReport, err error) {
	defer func(start time.Time) { s.observe("move", start, err) }(time.Now())

	err = s.atomically(ctx, "move", func(ctx context.Context, tx Catalog, undo *undoLog) error {
		item, err := tx.GetEntry(ctx, s.owner, id)
		if err != nil {
			return err
		}
		dest, err := s.getDirectory(ctx, tx, destID)
		if err != nil {
			return err
		}
		if dest != nil && (dest.ID == item.ID || item.Contains(dest)) {
			return &InvalidPathError{Path: DisplayPath(dest), Reason: "cannot move a directory into itself"}
		}
		if item.ParentIs(IDRef(dest)) {
			return &InvalidPathError{Path: DisplayPath(item), Reason: "entry is already in this directory"}
		}
		exists, err := tx.ExistsWithName(ctx, s.owner, item.Name, IDRef(dest))
		if err != nil {
			return err
		}
		if exists {
			return &NameConflictError{Name: item.Name, ParentName: nameOf(dest)}
		}

		oldKey := item.ObjectKey()
		item.ParentID = IDRef(dest)
		if err := s.resave(ctx, tx, item, dest, s.clock.Now()); err != nil {
			return err
		}
		entry = item

		if item.IsDir() {
			report, err = s.renamePrefix(ctx, undo, oldKey, item.Path)
			return err
		}
		return s.renameObject(ctx, undo, oldKey, item.ContentRef)
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("entry moved", "owner", s.owner, "id", entry.ID, "path", entry.Path)
	return entry, report, nil
}

// resave recomputes e's path from its parent chain, stores it, and recurses
// into children once e itself is written.
func (s *DirectoryService) resave(ctx context.Context, tx Catalog, e *Entry, parent *Entry, now time.Time) error {
	path, err := s.resolver.In(tx).Materialize(ctx, e)
	if err != nil {
		return err
	}
	e.Path = path
	if !e.IsDir() {
		e.ContentRef = path
	}
	e.UpdatedAt = now
	if err := s.update(ctx, tx, e, parent); err != nil {
		return err
	}
	if !e.IsDir() {
		return nil
	}

	children, err := tx.ListChildren(ctx, s.owner, &e.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.resave(ctx, tx, child, e, now); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an entry. A directory takes its whole subtree with it, rows
// and keys, in one transaction. A file's key is removed after the row is gone.
func (s *DirectoryService) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())

	var entry *Entry
	err = s.atomically(ctx, "delete", func(ctx context.Context, tx Catalog, _ *undoLog) error {
		e, err := tx.GetEntry(ctx, s.owner, id)
		if err != nil {
			return err
		}
		entry = e

		if !e.IsDir() {
			return tx.DeleteEntry(ctx, s.owner, e.ID)
		}

		rows, err := tx.BulkDeleteSubtree(ctx, s.owner, e)
		if err != nil {
			return err
		}
		keys, err := s.store.DeleteByPrefix(ctx, e.Path)
		if err != nil {
			return err
		}
		s.logger.Info("directory deleted", "owner", s.owner, "path", e.Path, "rows", rows, "keys", keys)
		return nil
	})
	if err != nil {
		return err
	}

	if !entry.IsDir() {
		s.afterFileDelete(ctx, entry)
	}
	return nil
}

// afterFileDelete drops the content of a deleted file row. The row is
// already gone, so a failure here only leaves an orphaned object.
func (s *DirectoryService) afterFileDelete(ctx context.Context, e *Entry) {
	if err := s.store.Delete(context.WithoutCancel(ctx), e.ContentRef); err != nil {
		s.logger.Error("deleting file content failed", "owner", s.owner, "key", e.ContentRef, "err", err)
		return
	}
	s.logger.Info("file deleted", "owner", s.owner, "path", e.Path)
}

// DownloadURL returns a time-limited download handle for a file.
func (s *DirectoryService) DownloadURL(ctx context.Context, fileID string, ttl time.Duration) (string, error) {
	e, err := s.catalog.GetEntry(ctx, s.owner, fileID)
	if err != nil {
		return "", err
	}
	if e.IsDir() {
		return "", &NotFoundError{Resource: "file", ID: fileID}
	}
	return s.store.PresignGet(ctx, e.ContentRef, e.Name, ttl)
}

// Archive checks that every file under a directory is present in the object
// store and returns a lazily produced zip of the subtree and its file name.
func (s *DirectoryService) Archive(ctx context.Context, dirID string) (io.ReadCloser, string, error) {
	dir, err := s.getDirectory(ctx, s.catalog, &dirID)
	if err != nil {
		return nil, "", err
	}
	entries, err := s.catalog.ListSubtree(ctx, s.owner, dir)
	if err != nil {
		return nil, "", err
	}
	if !s.store.CheckAllExist(ctx, entries) {
		return nil, "", &StorageError{
			Op:   "archive",
			Key:  dir.Path,
			Kind: StorageNotFound,
			Err:  errors.New("one or more files are missing from storage"),
		}
	}
	return s.archiver.Open(ctx, dir, entries), dir.Name + ".zip", nil
}
