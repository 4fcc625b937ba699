package sqlc

import (
	"context"
	"database/sql"
	"time"
)

const deleteByPathPrefix = `-- name: DeleteByPathPrefix :execrows
DELETE FROM entries
WHERE owner = ? AND path LIKE ? ESCAPE '\'
`

type DeleteByPathPrefixParams struct {
	Owner string
	Path  string
}

func (q *Queries) DeleteByPathPrefix(ctx context.Context, arg DeleteByPathPrefixParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteByPathPrefix, arg.Owner, arg.Path)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteEntry = `-- name: DeleteEntry :execrows
DELETE FROM entries
WHERE owner = ? AND id = ?
`

type DeleteEntryParams struct {
	Owner string
	ID    string
}

func (q *Queries) DeleteEntry(ctx context.Context, arg DeleteEntryParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteEntry, arg.Owner, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const existsWithName = `-- name: ExistsWithName :one
SELECT EXISTS (
    SELECT 1 FROM entries
    WHERE owner = ? AND parent_id IS ? AND name = ?
)
`

type ExistsWithNameParams struct {
	Owner    string
	ParentID sql.NullString
	Name     string
}

func (q *Queries) ExistsWithName(ctx context.Context, arg ExistsWithNameParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, existsWithName, arg.Owner, arg.ParentID, arg.Name)
	var column_1 int64
	err := row.Scan(&column_1)
	return column_1, err
}

const findEntriesByPath = `-- name: FindEntriesByPath :many
SELECT id, owner, parent_id, name, kind, path, content_ref, size, content_type, created_at, updated_at FROM entries
WHERE owner = ? AND path = ? AND kind = ?
`

type FindEntriesByPathParams struct {
	Owner string
	Path  string
	Kind  string
}

func (q *Queries) FindEntriesByPath(ctx context.Context, arg FindEntriesByPathParams) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, findEntriesByPath, arg.Owner, arg.Path, arg.Kind)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

const findEntry = `-- name: FindEntry :one
SELECT id, owner, parent_id, name, kind, path, content_ref, size, content_type, created_at, updated_at FROM entries
WHERE owner = ? AND parent_id IS ? AND name = ?
`

type FindEntryParams struct {
	Owner    string
	ParentID sql.NullString
	Name     string
}

func (q *Queries) FindEntry(ctx context.Context, arg FindEntryParams) (Entry, error) {
	row := q.db.QueryRowContext(ctx, findEntry, arg.Owner, arg.ParentID, arg.Name)
	return scanEntry(row)
}

const getEntry = `-- name: GetEntry :one
SELECT id, owner, parent_id, name, kind, path, content_ref, size, content_type, created_at, updated_at FROM entries
WHERE owner = ? AND id = ?
`

type GetEntryParams struct {
	Owner string
	ID    string
}

func (q *Queries) GetEntry(ctx context.Context, arg GetEntryParams) (Entry, error) {
	row := q.db.QueryRowContext(ctx, getEntry, arg.Owner, arg.ID)
	return scanEntry(row)
}

const insertEntry = `-- name: InsertEntry :exec
INSERT INTO entries (
    id, owner, parent_id, name, kind, path, content_ref, size, content_type, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertEntryParams struct {
	ID          string
	Owner       string
	ParentID    sql.NullString
	Name        string
	Kind        string
	Path        string
	ContentRef  sql.NullString
	Size        int64
	ContentType string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (q *Queries) InsertEntry(ctx context.Context, arg InsertEntryParams) error {
	_, err := q.db.ExecContext(ctx, insertEntry,
		arg.ID,
		arg.Owner,
		arg.ParentID,
		arg.Name,
		arg.Kind,
		arg.Path,
		arg.ContentRef,
		arg.Size,
		arg.ContentType,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const listByPathPrefix = `-- name: ListByPathPrefix :many
SELECT id, owner, parent_id, name, kind, path, content_ref, size, content_type, created_at, updated_at FROM entries
WHERE owner = ? AND path LIKE ? ESCAPE '\'
ORDER BY path, name
`

type ListByPathPrefixParams struct {
	Owner string
	Path  string
}

func (q *Queries) ListByPathPrefix(ctx context.Context, arg ListByPathPrefixParams) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, listByPathPrefix, arg.Owner, arg.Path)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

const listChildren = `-- name: ListChildren :many
SELECT id, owner, parent_id, name, kind, path, content_ref, size, content_type, created_at, updated_at FROM entries
WHERE owner = ? AND parent_id IS ?
ORDER BY CASE kind WHEN 'directory' THEN 0 ELSE 1 END, name
`

type ListChildrenParams struct {
	Owner    string
	ParentID sql.NullString
}

func (q *Queries) ListChildren(ctx context.Context, arg ListChildrenParams) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, listChildren, arg.Owner, arg.ParentID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

const listMoveTargets = `-- name: ListMoveTargets :many
SELECT id, owner, parent_id, name, kind, path, content_ref, size, content_type, created_at, updated_at FROM entries
WHERE owner = ?
  AND kind = 'directory'
  AND id IS NOT ?
  AND path NOT LIKE ? ESCAPE '\'
ORDER BY path
`

type ListMoveTargetsParams struct {
	Owner string
	ID    sql.NullString
	Path  string
}

func (q *Queries) ListMoveTargets(ctx context.Context, arg ListMoveTargetsParams) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, listMoveTargets, arg.Owner, arg.ID, arg.Path)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

const searchByName = `-- name: SearchByName :many
SELECT id, owner, parent_id, name, kind, path, content_ref, size, content_type, created_at, updated_at FROM entries
WHERE owner = ? AND lower(name) LIKE ? ESCAPE '\'
ORDER BY CASE kind WHEN 'directory' THEN 0 ELSE 1 END, name, path
`

type SearchByNameParams struct {
	Owner string
	Name  string
}

func (q *Queries) SearchByName(ctx context.Context, arg SearchByNameParams) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, searchByName, arg.Owner, arg.Name)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

const rewritePathPrefix = `-- name: RewritePathPrefix :execrows
UPDATE entries
SET path = ?1 || substr(path, length(?2) + 1),
    content_ref = CASE
        WHEN content_ref IS NULL THEN NULL
        ELSE ?1 || substr(content_ref, length(?2) + 1)
    END,
    updated_at = ?3
WHERE owner = ?4 AND path LIKE ?5 ESCAPE '\'
`

type RewritePathPrefixParams struct {
	NewPrefix string
	OldPrefix string
	UpdatedAt time.Time
	Owner     string
	Pattern   string
}

func (q *Queries) RewritePathPrefix(ctx context.Context, arg RewritePathPrefixParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, rewritePathPrefix,
		arg.NewPrefix,
		arg.OldPrefix,
		arg.UpdatedAt,
		arg.Owner,
		arg.Pattern,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateEntry = `-- name: UpdateEntry :execrows
UPDATE entries
SET parent_id = ?, name = ?, path = ?, content_ref = ?, updated_at = ?
WHERE owner = ? AND id = ?
`

type UpdateEntryParams struct {
	ParentID   sql.NullString
	Name       string
	Path       string
	ContentRef sql.NullString
	UpdatedAt  time.Time
	Owner      string
	ID         string
}

func (q *Queries) UpdateEntry(ctx context.Context, arg UpdateEntryParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateEntry,
		arg.ParentID,
		arg.Name,
		arg.Path,
		arg.ContentRef,
		arg.UpdatedAt,
		arg.Owner,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntry(row *sql.Row) (Entry, error) {
	var i Entry
	err := row.Scan(
		&i.ID,
		&i.Owner,
		&i.ParentID,
		&i.Name,
		&i.Kind,
		&i.Path,
		&i.ContentRef,
		&i.Size,
		&i.ContentType,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var items []Entry
	for rows.Next() {
		var i Entry
		if err := rows.Scan(
			&i.ID,
			&i.Owner,
			&i.ParentID,
			&i.Name,
			&i.Kind,
			&i.Path,
			&i.ContentRef,
			&i.Size,
			&i.ContentType,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
