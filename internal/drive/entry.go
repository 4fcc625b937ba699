package drive

import (
	"strings"
	"time"
)

// Separator delimits components in logical and materialized paths.
const Separator = "/"

// DefaultMarkerName is appended to a directory path to form its placeholder key.
const DefaultMarkerName = ".marker"

// Kind distinguishes files from directories.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Entry is one file or directory in an owner's tree.
//
// ParentID is a weak reference: children are found by filtering on it, the
// parent never holds its children. Path is the materialized path, owner
// namespace included, with a trailing separator for directories.
type Entry struct {
	ID          string
	Owner       string
	ParentID    *string
	Name        string
	Kind        Kind
	Path        string
	ContentRef  string // empty for directories
	Size        int64
	ContentType string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (e *Entry) IsDir() bool { return e.Kind == KindDirectory }

// ObjectKey is the object-store key the entry maps to: the content ref for a
// file, the materialized path (a key prefix) for a directory.
func (e *Entry) ObjectKey() string {
	if e.IsDir() {
		return e.Path
	}
	return e.ContentRef
}

// MarkerKey returns the placeholder key for a directory entry.
func (e *Entry) MarkerKey(markerName string) string {
	return e.Path + markerName
}

// ParentIs reports whether the entry sits directly under parentID (nil = root).
func (e *Entry) ParentIs(parentID *string) bool {
	if e.ParentID == nil || parentID == nil {
		return e.ParentID == nil && parentID == nil
	}
	return *e.ParentID == *parentID
}

// Contains reports whether other lies inside this directory's subtree,
// including the directory itself.
func (e *Entry) Contains(other *Entry) bool {
	return e.IsDir() && strings.HasPrefix(other.Path, e.Path)
}

// IDRef returns a pointer to a copy of the entry id, for use as a parent reference.
// A nil entry stands for the owner's root and yields nil.
func IDRef(e *Entry) *string {
	if e == nil {
		return nil
	}
	id := e.ID
	return &id
}
