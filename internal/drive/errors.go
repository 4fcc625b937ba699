package drive

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for errors.Is matching.
var (
	ErrNotFound      = errors.New("not found")
	ErrNameConflict  = errors.New("name conflict")
	ErrDatabase      = errors.New("database error")
	ErrStorage       = errors.New("storage error")
	ErrInvalidPath   = errors.New("invalid path")
	ErrAmbiguousPath = errors.New("ambiguous path")
	ErrLimitExceeded = errors.New("limit exceeded")
)

// NotFoundError reports an entry that does not exist or belongs to another owner.
type NotFoundError struct {
	Resource string // "entry", "directory", "file", "object"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NameConflictError reports a sibling with the same name under the same parent.
// Err optionally carries the catalog integrity error that detected the conflict.
type NameConflictError struct {
	Name       string
	ParentName string // empty for the owner's root
	Err        error
}

func (e *NameConflictError) Error() string {
	if e.ParentName == "" {
		return fmt.Sprintf("an item named %q already exists in the root directory", e.Name)
	}
	return fmt.Sprintf("an item named %q already exists in %q", e.Name, e.ParentName)
}

func (e *NameConflictError) Is(target error) bool { return target == ErrNameConflict }
func (e *NameConflictError) Unwrap() error        { return e.Err }

// DatabaseError wraps a catalog failure. Integrity is set for constraint
// violations (duplicate sibling, duplicate path, dangling parent).
type DatabaseError struct {
	Op        string
	Integrity bool
	Err       error
}

func (e *DatabaseError) Error() string {
	if e.Integrity {
		return fmt.Sprintf("%s: integrity violation: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Is(target error) bool { return target == ErrDatabase }
func (e *DatabaseError) Unwrap() error        { return e.Err }

// StorageErrorKind separates fatal configuration problems from per-key misses
// and transient client failures.
type StorageErrorKind string

const (
	StorageConfig    StorageErrorKind = "config"
	StorageNotFound  StorageErrorKind = "not_found"
	StorageTransient StorageErrorKind = "transient"
	StorageInvalid   StorageErrorKind = "invalid"
)

// StorageError wraps an object-store failure.
type StorageError struct {
	Op   string
	Key  string
	Kind StorageErrorKind
	Err  error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("storage %s %s (%s): %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
func (e *StorageError) Unwrap() error        { return e.Err }

// InvalidPathError reports a malformed name or relative path.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

func (e *InvalidPathError) Is(target error) bool { return target == ErrInvalidPath }

// AmbiguousPathError means more than one directory row carries the same
// materialized path. It signals a broken catalog, not a user mistake.
type AmbiguousPathError struct {
	Path    string
	Matches int
}

func (e *AmbiguousPathError) Error() string {
	return fmt.Sprintf("path %q matches %d directories", e.Path, e.Matches)
}

func (e *AmbiguousPathError) Is(target error) bool { return target == ErrAmbiguousPath }

// LimitError reports an upload exceeding a configured size or count limit.
type LimitError struct {
	Limit  string
	Actual int64
	Max    int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s exceeds limit: %d > %d", e.Limit, e.Actual, e.Max)
}

func (e *LimitError) Is(target error) bool { return target == ErrLimitExceeded }

// IsIntegrityViolation reports whether err carries a catalog constraint violation.
func IsIntegrityViolation(err error) bool {
	var dbErr *DatabaseError
	return errors.As(err, &dbErr) && dbErr.Integrity
}

// StatusCode maps an error to the HTTP status a web layer should answer with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNameConflict), errors.Is(err, ErrInvalidPath), errors.Is(err, ErrLimitExceeded):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case IsIntegrityViolation(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

const retryLaterMessage = "Something went wrong, please try again later."

// UserMessage returns the text to show an end user. Causes of database and
// storage failures are only logged, never shown.
func UserMessage(err error) string {
	var (
		conflict *NameConflictError
		invalid  *InvalidPathError
		notFound *NotFoundError
		limit    *LimitError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &conflict):
		return conflict.Error()
	case errors.As(err, &invalid):
		return invalid.Error()
	case errors.As(err, &limit):
		return limit.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	default:
		return retryLaterMessage
	}
}
