package drive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// sniffLen is how much of an upload is inspected to guess its content type.
const sniffLen = 3072

// UploadLimits caps a single upload batch. Zero disables a limit.
type UploadLimits struct {
	MaxFileSize  int64
	MaxBatchSize int64
	MaxFiles     int
}

// UploadItem is one file in an upload batch. RelativePath, when set, places
// the file below the batch's target directory, creating directories as needed;
// its last component then names the file.
type UploadItem struct {
	Name         string
	RelativePath string
	Content      io.Reader
	Size         int64
	ContentType  string
}

func (it *UploadItem) validate() error {
	return validation.ValidateStruct(it,
		validation.Field(&it.Content, validation.NotNil),
		validation.Field(&it.Size, validation.Min(int64(0))),
	)
}

// ItemStatus is the per-item result of an upload.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemError   ItemStatus = "error"
)

// ItemOutcome reports what happened to one upload item.
type ItemOutcome struct {
	Name         string
	RelativePath string
	Status       ItemStatus
	Message      string
	Err          error
	Entry        *Entry
}

// BatchStatus summarizes a batch.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchFailure BatchStatus = "failure"
)

// BatchResult aggregates per-item outcomes.
type BatchResult struct {
	Status BatchStatus
	Items  []ItemOutcome
}

// Succeeded counts successful items.
func (r *BatchResult) Succeeded() int {
	n := 0
	for _, it := range r.Items {
		if it.Status == ItemSuccess {
			n++
		}
	}
	return n
}

// StatusCode maps the batch to a response code: 200 when everything
// succeeded, 207 for a mix, and for a total failure 400 if the batch held a
// single item or 207 otherwise.
func (r *BatchResult) StatusCode() int {
	switch r.Status {
	case BatchSuccess:
		return http.StatusOK
	case BatchFailure:
		if len(r.Items) == 1 {
			return http.StatusBadRequest
		}
		return http.StatusMultiStatus
	default:
		return http.StatusMultiStatus
	}
}

// UploadService runs upload batches for one owner.
type UploadService struct {
	owner  string
	dirs   *DirectoryService
	logger Logger
	limits UploadLimits
}

func NewUploadService(owner string, deps Dependencies) *UploadService {
	deps = deps.withDefaults()
	return &UploadService{
		owner:  owner,
		dirs:   NewDirectoryService(owner, deps),
		logger: deps.Logger,
		limits: deps.Limits,
	}
}

// UploadBatch stores every item under parentID (nil = root). Item failures
// are reported in the result and never abort the batch; an error is only
// returned when the batch as a whole cannot start.
func (u *UploadService) UploadBatch(ctx context.Context, parentID *string, items []UploadItem) (result *BatchResult, err error) {
	defer func(start time.Time) { u.dirs.observe("upload_batch", start, err) }(time.Now())

	if err := u.checkBatchLimits(items); err != nil {
		return nil, err
	}
	parent, err := u.dirs.getDirectory(ctx, u.dirs.catalog, parentID)
	if err != nil {
		return nil, err
	}

	// Directories resolved by earlier items, keyed by the directory portion
	// of the relative path. Only filled after an item commits.
	cache := make(map[string]*Entry)

	result = &BatchResult{Items: make([]ItemOutcome, 0, len(items))}
	for i := range items {
		outcome := u.uploadOne(ctx, parent, &items[i], cache)
		result.Items = append(result.Items, outcome)
	}

	ok := result.Succeeded()
	switch {
	case ok == len(result.Items):
		result.Status = BatchSuccess
	case ok == 0:
		result.Status = BatchFailure
	default:
		result.Status = BatchPartial
	}
	u.logger.Info("upload batch finished",
		"owner", u.owner, "items", len(items), "succeeded", ok, "status", string(result.Status))
	return result, nil
}

func (u *UploadService) checkBatchLimits(items []UploadItem) error {
	if u.limits.MaxFiles > 0 && len(items) > u.limits.MaxFiles {
		return &LimitError{Limit: "file count", Actual: int64(len(items)), Max: int64(u.limits.MaxFiles)}
	}
	if u.limits.MaxBatchSize > 0 {
		var total int64
		for _, it := range items {
			total += it.Size
		}
		if total > u.limits.MaxBatchSize {
			return &LimitError{Limit: "batch size", Actual: total, Max: u.limits.MaxBatchSize}
		}
	}
	return nil
}

func (u *UploadService) uploadOne(ctx context.Context, parent *Entry, item *UploadItem, cache map[string]*Entry) ItemOutcome {
	outcome := ItemOutcome{Name: item.Name, RelativePath: item.RelativePath}
	fail := func(err error) ItemOutcome {
		u.logger.Warn("upload item failed",
			"owner", u.owner, "name", item.Name, "relative_path", item.RelativePath, "err", err)
		outcome.Status = ItemError
		outcome.Err = err
		outcome.Message = UserMessage(err)
		return outcome
	}

	if err := item.validate(); err != nil {
		return fail(&InvalidPathError{Path: item.Name, Reason: err.Error()})
	}
	if u.limits.MaxFileSize > 0 && item.Size > u.limits.MaxFileSize {
		return fail(&LimitError{Limit: "file size", Actual: item.Size, Max: u.limits.MaxFileSize})
	}

	name := item.Name
	var dirs []string
	if item.RelativePath != "" {
		var err error
		dirs, name, err = SplitRelativePath(item.RelativePath, u.dirs.markerName)
		if err != nil {
			return fail(err)
		}
	}
	dirKey := strings.Join(dirs, Separator)

	var target, created *Entry
	err := u.dirs.atomically(ctx, "upload", func(ctx context.Context, tx Catalog, undo *undoLog) error {
		target = parent
		if len(dirs) > 0 {
			if cached, ok := cache[dirKey]; ok {
				target = cached
			} else {
				var err error
				if target, err = u.dirs.buildDirectoryPath(ctx, tx, undo, parent, dirs); err != nil {
					return err
				}
			}
		}
		var err error
		created, err = u.dirs.createFile(ctx, tx, undo, target, name, item)
		return err
	})
	if err != nil {
		return fail(err)
	}

	if dirKey != "" {
		cache[dirKey] = target
	}
	outcome.Name = name
	outcome.Status = ItemSuccess
	outcome.Entry = created
	return outcome
}

// CreateFile stores a single file under parentID (nil = root).
func (s *DirectoryService) CreateFile(ctx context.Context, parentID *string, item UploadItem) (file *Entry, err error) {
	defer func(start time.Time) { s.observe("create_file", start, err) }(time.Now())

	if err := item.validate(); err != nil {
		return nil, &InvalidPathError{Path: item.Name, Reason: err.Error()}
	}
	err = s.atomically(ctx, "create_file", func(ctx context.Context, tx Catalog, undo *undoLog) error {
		parent, err := s.getDirectory(ctx, tx, parentID)
		if err != nil {
			return err
		}
		file, err = s.createFile(ctx, tx, undo, parent, item.Name, &item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// createFile inserts a file row under parent and uploads its content to the
// key equal to its materialized path.
func (s *DirectoryService) createFile(ctx context.Context, tx Catalog, undo *undoLog, parent *Entry, name string, item *UploadItem) (*Entry, error) {
	if err := ValidateName(name, s.markerName); err != nil {
		return nil, err
	}
	exists, err := tx.ExistsWithName(ctx, s.owner, name, IDRef(parent))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &NameConflictError{Name: name, ParentName: nameOf(parent)}
	}

	content, contentType, err := sniffContentType(item.Content, item.ContentType)
	if err != nil {
		return nil, &StorageError{Op: "read upload", Key: name, Kind: StorageTransient, Err: err}
	}

	now := s.clock.Now()
	file := &Entry{
		ID:          s.ids.New(),
		Owner:       s.owner,
		ParentID:    IDRef(parent),
		Name:        name,
		Kind:        KindFile,
		Size:        item.Size,
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if file.Path, err = s.resolver.In(tx).Materialize(ctx, file); err != nil {
		return nil, err
	}
	file.ContentRef = file.Path

	if err := s.insert(ctx, tx, file, parent); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, file.ContentRef, content, item.Size, contentType); err != nil {
		return nil, err
	}
	key := file.ContentRef
	undo.push("delete content "+key, func(ctx context.Context) error {
		return s.store.Delete(ctx, key)
	})

	s.logger.Debug("file stored", "owner", s.owner, "id", file.ID, "key", key, "size", item.Size)
	return file, nil
}

// sniffContentType returns r unchanged when declared is set; otherwise it
// peeks at the head of r to detect a type and returns a reader that still
// yields the full content.
func sniffContentType(r io.Reader, declared string) (io.Reader, string, error) {
	if declared != "" {
		return r, declared, nil
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	head = head[:n]
	return io.MultiReader(bytes.NewReader(head), r), mimetype.Detect(head).String(), nil
}
