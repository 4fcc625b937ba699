package drive

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// maxTreeDepth guards Materialize against a parent cycle in a corrupted catalog.
const maxTreeDepth = 512

// OwnerRoot returns the namespace prefix for an owner, e.g. "user_42/".
func OwnerRoot(owner string) string {
	return "user_" + owner + Separator
}

// ChildPath joins a parent path (or an owner root) and a name. Directories
// get a trailing separator, files do not.
func ChildPath(parentPath, name string, kind Kind) string {
	p := parentPath + name
	if kind == KindDirectory {
		p += Separator
	}
	return p
}

// DisplayPath strips the owner namespace segment from a materialized path.
func DisplayPath(e *Entry) string {
	_, rest, found := strings.Cut(e.Path, Separator)
	if !found {
		return e.Path
	}
	return rest
}

// PathResolver maps logical paths to entries and entries to materialized paths.
type PathResolver struct {
	catalog Catalog
}

func NewPathResolver(catalog Catalog) *PathResolver {
	return &PathResolver{catalog: catalog}
}

// In returns a resolver reading through tx.
func (r *PathResolver) In(tx Catalog) *PathResolver {
	return &PathResolver{catalog: tx}
}

// Materialize computes e's path from its live parent chain.
func (r *PathResolver) Materialize(ctx context.Context, e *Entry) (string, error) {
	names := []string{e.Name}
	parentID := e.ParentID
	for depth := 0; parentID != nil; depth++ {
		if depth >= maxTreeDepth {
			return "", &InvalidPathError{Path: e.Name, Reason: "tree too deep or cyclic"}
		}
		parent, err := r.catalog.GetEntry(ctx, e.Owner, *parentID)
		if err != nil {
			return "", fmt.Errorf("loading ancestor %s: %w", *parentID, err)
		}
		if !parent.IsDir() {
			return "", &InvalidPathError{Path: parent.Path, Reason: "parent is not a directory"}
		}
		names = append(names, parent.Name)
		parentID = parent.ParentID
	}

	p := OwnerRoot(e.Owner)
	for i := len(names) - 1; i > 0; i-- {
		p = ChildPath(p, names[i], KindDirectory)
	}
	p = ChildPath(p, e.Name, e.Kind)
	if len(p) > MaxPathLength {
		return "", &InvalidPathError{Path: p, Reason: "path too long"}
	}
	return p, nil
}

// Resolve returns the directory at logicalPath, or nil for the owner's root.
func (r *PathResolver) Resolve(ctx context.Context, owner, logicalPath string) (*Entry, error) {
	parts := SplitLogicalPath(logicalPath)
	if len(parts) == 0 {
		return nil, nil
	}
	return r.lookup(ctx, owner, OwnerRoot(owner)+strings.Join(parts, Separator)+Separator, KindDirectory, logicalPath)
}

// ResolveEntry returns the file or directory at logicalPath, or nil for the
// owner's root. A directory wins when both shapes would match.
func (r *PathResolver) ResolveEntry(ctx context.Context, owner, logicalPath string) (*Entry, error) {
	parts := SplitLogicalPath(logicalPath)
	if len(parts) == 0 {
		return nil, nil
	}
	base := OwnerRoot(owner) + strings.Join(parts, Separator)
	dir, err := r.lookup(ctx, owner, base+Separator, KindDirectory, logicalPath)
	if err == nil {
		return dir, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return r.lookup(ctx, owner, base, KindFile, logicalPath)
}

func (r *PathResolver) lookup(ctx context.Context, owner, path string, kind Kind, logicalPath string) (*Entry, error) {
	matches, err := r.catalog.FindByPath(ctx, owner, path, kind)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Resource: string(kind), ID: logicalPath}
	case 1:
		return matches[0], nil
	default:
		return nil, &AmbiguousPathError{Path: path, Matches: len(matches)}
	}
}
