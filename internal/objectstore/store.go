package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"clouddrive/internal/drive"
)

// MaxPresignTTL is the longest lifetime a download handle may have.
const MaxPresignTTL = 7 * 24 * time.Hour

// Store implements drive.ObjectStore over a Backend.
type Store struct {
	backend   Backend
	logger    drive.Logger
	observer  Observer
	batchSize int
}

// NewStore wraps backend. logger and observer may be nil.
func NewStore(backend Backend, logger drive.Logger, observer Observer) *Store {
	if logger == nil {
		logger = drive.NewNopLogger()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Store{
		backend:   backend,
		logger:    logger,
		observer:  observer,
		batchSize: MaxDeleteBatch,
	}
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend { return s.backend }

// storageErr classifies a backend error into a *drive.StorageError.
func storageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *drive.StorageError
	if errors.As(err, &se) {
		return err
	}
	kind := drive.StorageTransient
	switch {
	case errors.Is(err, ErrObjectNotFound):
		kind = drive.StorageNotFound
	case errors.Is(err, ErrMisconfigured):
		kind = drive.StorageConfig
	case errors.Is(err, ErrInvalidRequest):
		kind = drive.StorageInvalid
	}
	return &drive.StorageError{Op: op, Key: key, Kind: kind, Err: err}
}

// done records the request outcome and returns the classified error.
func (s *Store) done(op, key string, err error) error {
	err = storageErr(op, key, err)
	s.observer.ObserveRequest(op, err)
	var se *drive.StorageError
	if errors.As(err, &se) && se.Kind == drive.StorageConfig {
		s.logger.Error("object store configuration error", "op", op, "key", key, "err", err)
	}
	return err
}

func (s *Store) PutMarker(ctx context.Context, key string) error {
	err := s.backend.PutObject(ctx, key, bytes.NewReader(nil), 0, "application/x-directory")
	return s.done("put_marker", key, err)
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return s.done("put", key, s.backend.PutObject(ctx, key, r, size, contentType))
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.backend.GetObject(ctx, key)
	if err != nil {
		return nil, s.done("get", key, err)
	}
	s.observer.ObserveRequest("get", nil)
	return rc, nil
}

func (s *Store) Head(ctx context.Context, key string) (bool, error) {
	ok, err := s.backend.HeadObject(ctx, key)
	if err != nil {
		return false, s.done("head", key, err)
	}
	s.observer.ObserveRequest("head", nil)
	return ok, nil
}

func (s *Store) CheckAllExist(ctx context.Context, entries []*drive.Entry) bool {
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := s.Head(ctx, e.ObjectKey())
		if err != nil {
			s.logger.Error("existence check failed", "key", e.ObjectKey(), "err", err)
			return false
		}
		if !ok {
			s.logger.Warn("object missing from storage", "key", e.ObjectKey())
			return false
		}
	}
	return true
}

func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys  []string
		token string
	)
	for {
		page, next, err := s.backend.ListObjects(ctx, prefix, token)
		if err != nil {
			return nil, s.done("list", prefix, err)
		}
		s.observer.ObserveRequest("list", nil)
		keys = append(keys, page...)
		if next == "" {
			return keys, nil
		}
		token = next
	}
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.done("delete", key, s.backend.DeleteObject(ctx, key)); err != nil {
		return err
	}
	s.observer.AddKeys("delete", 1)
	return nil
}

func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, &drive.StorageError{Op: "delete_prefix", Kind: drive.StorageInvalid, Err: errors.New("empty prefix")}
	}
	keys, err := s.ListKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		s.logger.Info("prefix empty or does not exist", "prefix", prefix)
		return 0, nil
	}

	deleted := 0
	for start := 0; start < len(keys); start += s.batchSize {
		end := min(start+s.batchSize, len(keys))
		batch := keys[start:end]

		failed, err := s.backend.DeleteObjects(ctx, batch)
		if err = s.done("delete_batch", prefix, err); err != nil {
			var se *drive.StorageError
			if errors.As(err, &se) && se.Kind == drive.StorageConfig {
				return deleted, err
			}
			s.logger.Error("batch delete failed", "prefix", prefix, "keys", len(batch), "err", err)
			continue
		}
		for key, ferr := range failed {
			s.logger.Warn("key not deleted", "prefix", prefix, "key", key, "err", ferr)
		}
		deleted += len(batch) - len(failed)
	}

	s.observer.AddKeys("delete", deleted)
	if deleted < len(keys) {
		s.logger.Warn("prefix delete incomplete", "prefix", prefix, "deleted", deleted, "total", len(keys))
	}
	return deleted, nil
}

func (s *Store) RenameObject(ctx context.Context, oldKey, newKey string) error {
	if err := s.done("copy", oldKey, s.backend.CopyObject(ctx, oldKey, newKey)); err != nil {
		return err
	}
	if err := s.done("delete", oldKey, s.backend.DeleteObject(ctx, oldKey)); err != nil {
		s.logger.Warn("original kept after copy", "old_key", oldKey, "new_key", newKey, "err", err)
	}
	s.observer.AddKeys("rename", 1)
	return nil
}

func (s *Store) RenamePrefix(ctx context.Context, oldPrefix, newPrefix string) (*drive.RenameReport, error) {
	keys, err := s.ListKeys(ctx, oldPrefix)
	if err != nil {
		return nil, err
	}

	report := &drive.RenameReport{}
	for _, oldKey := range keys {
		newKey := newPrefix + strings.TrimPrefix(oldKey, oldPrefix)
		if newKey == oldKey {
			report.Skipped++
			continue
		}
		if err := s.RenameObject(ctx, oldKey, newKey); err != nil {
			s.logger.Error("key rename failed", "old_key", oldKey, "new_key", newKey, "err", err)
			if report.Failed == nil {
				report.Failed = make(map[string]error)
			}
			report.Failed[oldKey] = err
			continue
		}
		report.Renamed++
	}

	if n := len(report.Failed); n > 0 {
		s.observer.AddRenameFailures(n)
	}
	s.logger.Debug("prefix renamed", "old_prefix", oldPrefix, "new_prefix", newPrefix,
		"renamed", report.Renamed, "skipped", report.Skipped, "failed", len(report.Failed))
	return report, nil
}

func (s *Store) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	switch {
	case key == "" || strings.HasSuffix(key, "/"):
		return "", s.done("presign", key, fmt.Errorf("%w: key %q does not name an object", ErrInvalidRequest, key))
	case filename == "":
		return "", s.done("presign", key, fmt.Errorf("%w: empty filename", ErrInvalidRequest))
	case ttl <= 0 || ttl > MaxPresignTTL:
		return "", s.done("presign", key, fmt.Errorf("%w: ttl %s outside (0, %s]", ErrInvalidRequest, ttl, MaxPresignTTL))
	}
	url, err := s.backend.PresignGetObject(ctx, key, filename, ttl)
	if err != nil {
		return "", s.done("presign", key, err)
	}
	s.observer.ObserveRequest("presign", nil)
	return url, nil
}

var _ drive.ObjectStore = (*Store)(nil)
