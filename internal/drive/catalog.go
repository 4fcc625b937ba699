package drive

import (
	"context"
	"time"
)

// Catalog is the relational store of tree entries.
//
// Every lookup is scoped to an owner. Find-style methods return (nil, nil)
// when nothing matches; GetEntry returns a *NotFoundError instead. Failures
// are reported as *DatabaseError.
type Catalog interface {
	// GetEntry loads an entry by id, filtered by owner.
	GetEntry(ctx context.Context, owner, id string) (*Entry, error)

	// FindEntry returns the child of parentID (nil = root) called name.
	FindEntry(ctx context.Context, owner string, parentID *string, name string) (*Entry, error)

	// ExistsWithName reports whether parentID already has a child called name.
	ExistsWithName(ctx context.Context, owner, name string, parentID *string) (bool, error)

	// FindByPath returns every entry of the given kind whose materialized path
	// equals path. More than one result is a catalog integrity problem.
	FindByPath(ctx context.Context, owner, path string, kind Kind) ([]*Entry, error)

	// ListChildren returns the direct children of parentID, directories first,
	// then by name.
	ListChildren(ctx context.Context, owner string, parentID *string) ([]*Entry, error)

	// ListSubtree returns every entry whose path starts with dir's path,
	// dir included, ordered by path then name. Empty if dir is not a directory.
	ListSubtree(ctx context.Context, owner string, dir *Entry) ([]*Entry, error)

	// AvailableMoveTargets returns every directory except item's current
	// parent and, for a directory item, except item's own subtree.
	AvailableMoveTargets(ctx context.Context, owner string, item *Entry) ([]*Entry, error)

	// SearchByName returns every entry whose name contains query, ignoring
	// case, directories first, then by name and path.
	SearchByName(ctx context.Context, owner, query string) ([]*Entry, error)

	InsertEntry(ctx context.Context, e *Entry) error

	// UpdateEntry persists name, parent, path, content ref and updated_at.
	UpdateEntry(ctx context.Context, e *Entry) error

	DeleteEntry(ctx context.Context, owner, id string) error

	// RewritePathPrefix replaces oldPrefix with newPrefix on the path of every
	// matching row, and on content_ref for file rows, in one statement.
	RewritePathPrefix(ctx context.Context, owner, oldPrefix, newPrefix string, now time.Time) (int64, error)

	// BulkDeleteSubtree removes dir and everything under it in one statement.
	BulkDeleteSubtree(ctx context.Context, owner string, dir *Entry) (int64, error)

	// RunInTx runs fn inside a transaction. The Catalog handed to fn is bound
	// to the transaction; calling RunInTx on it joins the same transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Catalog) error) error

	Close() error
}
