package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"clouddrive/internal/database/migrations"
	"clouddrive/internal/database/sqlc"
	"clouddrive/internal/drive"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements drive.Catalog on SQLite.
type SQLiteCatalog struct {
	db      *sql.DB
	queries *sqlc.Queries
	tx      *sql.Tx // set on catalogs handed to RunInTx callbacks
	path    string
}

// NewSQLiteCatalog opens the database at path and migrates it to the latest
// schema. path can be a file path or ":memory:".
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db, migrations.SQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog: %w", err)
	}
	return NewSQLiteCatalogFromDB(db, path), nil
}

// NewSQLiteCatalogFromDB wraps an existing connection. The caller is
// responsible for configuring it and applying the schema.
func NewSQLiteCatalogFromDB(db *sql.DB, path string) *SQLiteCatalog {
	return &SQLiteCatalog{
		db:      db,
		queries: sqlc.New(db),
		path:    path,
	}
}

// OpenConnection opens a SQLite connection configured for the catalog:
// foreign keys on, case-sensitive LIKE for prefix queries, a busy timeout,
// and a single pooled connection since SQLite has one writer.
func OpenConnection(path string) (*sql.DB, error) {
	params := "_foreign_keys=on&_case_sensitive_like=on&_busy_timeout=5000"
	if path != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	db, err := sql.Open("sqlite3", path+sep+params)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteCatalog) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, migrations.SQLite)
}

func (s *SQLiteCatalog) Close() error {
	if s.tx != nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteCatalog) RunInTx(ctx context.Context, fn func(ctx context.Context, tx drive.Catalog) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin transaction", err)
	}
	defer tx.Rollback()

	bound := &SQLiteCatalog{db: s.db, queries: s.queries.WithTx(tx), tx: tx, path: s.path}
	if err := fn(ctx, bound); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit transaction", err)
	}
	return nil
}

func (s *SQLiteCatalog) GetEntry(ctx context.Context, owner, id string) (*drive.Entry, error) {
	row, err := s.queries.GetEntry(ctx, sqlc.GetEntryParams{Owner: owner, ID: id})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &drive.NotFoundError{Resource: "entry", ID: id}
		}
		return nil, wrapErr("getting entry", err)
	}
	return fromRow(row), nil
}

func (s *SQLiteCatalog) FindEntry(ctx context.Context, owner string, parentID *string, name string) (*drive.Entry, error) {
	row, err := s.queries.FindEntry(ctx, sqlc.FindEntryParams{
		Owner:    owner,
		ParentID: nullString(parentID),
		Name:     name,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, wrapErr("finding entry", err)
	}
	return fromRow(row), nil
}

func (s *SQLiteCatalog) ExistsWithName(ctx context.Context, owner, name string, parentID *string) (bool, error) {
	n, err := s.queries.ExistsWithName(ctx, sqlc.ExistsWithNameParams{
		Owner:    owner,
		ParentID: nullString(parentID),
		Name:     name,
	})
	if err != nil {
		return false, wrapErr("checking name", err)
	}
	return n != 0, nil
}

func (s *SQLiteCatalog) FindByPath(ctx context.Context, owner, path string, kind drive.Kind) ([]*drive.Entry, error) {
	rows, err := s.queries.FindEntriesByPath(ctx, sqlc.FindEntriesByPathParams{
		Owner: owner,
		Path:  path,
		Kind:  string(kind),
	})
	if err != nil {
		return nil, wrapErr("finding entries by path", err)
	}
	return fromRows(rows), nil
}

func (s *SQLiteCatalog) ListChildren(ctx context.Context, owner string, parentID *string) ([]*drive.Entry, error) {
	rows, err := s.queries.ListChildren(ctx, sqlc.ListChildrenParams{
		Owner:    owner,
		ParentID: nullString(parentID),
	})
	if err != nil {
		return nil, wrapErr("listing children", err)
	}
	return fromRows(rows), nil
}

func (s *SQLiteCatalog) ListSubtree(ctx context.Context, owner string, dir *drive.Entry) ([]*drive.Entry, error) {
	if dir == nil || !dir.IsDir() {
		return nil, nil
	}
	rows, err := s.queries.ListByPathPrefix(ctx, sqlc.ListByPathPrefixParams{
		Owner: owner,
		Path:  likePrefix(dir.Path),
	})
	if err != nil {
		return nil, wrapErr("listing subtree", err)
	}
	return fromRows(rows), nil
}

// SearchByName folds case with lower(), which only covers ASCII letters.
func (s *SQLiteCatalog) SearchByName(ctx context.Context, owner, query string) ([]*drive.Entry, error) {
	rows, err := s.queries.SearchByName(ctx, sqlc.SearchByNameParams{
		Owner: owner,
		Name:  likeContains(strings.ToLower(query)),
	})
	if err != nil {
		return nil, wrapErr("searching entries", err)
	}
	return fromRows(rows), nil
}

func (s *SQLiteCatalog) AvailableMoveTargets(ctx context.Context, owner string, item *drive.Entry) ([]*drive.Entry, error) {
	rows, err := s.queries.ListMoveTargets(ctx, sqlc.ListMoveTargetsParams{
		Owner: owner,
		ID:    nullString(item.ParentID),
		Path:  moveExclusionPattern(item),
	})
	if err != nil {
		return nil, wrapErr("listing move targets", err)
	}
	return fromRows(rows), nil
}

func (s *SQLiteCatalog) InsertEntry(ctx context.Context, e *drive.Entry) error {
	err := s.queries.InsertEntry(ctx, sqlc.InsertEntryParams{
		ID:          e.ID,
		Owner:       e.Owner,
		ParentID:    nullString(e.ParentID),
		Name:        e.Name,
		Kind:        string(e.Kind),
		Path:        e.Path,
		ContentRef:  contentRef(e),
		Size:        e.Size,
		ContentType: e.ContentType,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	})
	return wrapErr("inserting entry", err)
}

func (s *SQLiteCatalog) UpdateEntry(ctx context.Context, e *drive.Entry) error {
	n, err := s.queries.UpdateEntry(ctx, sqlc.UpdateEntryParams{
		ParentID:   nullString(e.ParentID),
		Name:       e.Name,
		Path:       e.Path,
		ContentRef: contentRef(e),
		UpdatedAt:  e.UpdatedAt,
		Owner:      e.Owner,
		ID:         e.ID,
	})
	if err != nil {
		return wrapErr("updating entry", err)
	}
	if n == 0 {
		return &drive.NotFoundError{Resource: "entry", ID: e.ID}
	}
	return nil
}

func (s *SQLiteCatalog) DeleteEntry(ctx context.Context, owner, id string) error {
	n, err := s.queries.DeleteEntry(ctx, sqlc.DeleteEntryParams{Owner: owner, ID: id})
	if err != nil {
		return wrapErr("deleting entry", err)
	}
	if n == 0 {
		return &drive.NotFoundError{Resource: "entry", ID: id}
	}
	return nil
}

func (s *SQLiteCatalog) RewritePathPrefix(ctx context.Context, owner, oldPrefix, newPrefix string, now time.Time) (int64, error) {
	n, err := s.queries.RewritePathPrefix(ctx, sqlc.RewritePathPrefixParams{
		NewPrefix: newPrefix,
		OldPrefix: oldPrefix,
		UpdatedAt: now,
		Owner:     owner,
		Pattern:   likePrefix(oldPrefix),
	})
	if err != nil {
		return 0, wrapErr("rewriting path prefix", err)
	}
	return n, nil
}

func (s *SQLiteCatalog) BulkDeleteSubtree(ctx context.Context, owner string, dir *drive.Entry) (int64, error) {
	if dir == nil || !dir.IsDir() {
		return 0, fmt.Errorf("bulk delete requires a directory")
	}
	n, err := s.queries.DeleteByPathPrefix(ctx, sqlc.DeleteByPathPrefixParams{
		Owner: owner,
		Path:  likePrefix(dir.Path),
	})
	if err != nil {
		return 0, wrapErr("deleting subtree", err)
	}
	return n, nil
}

// moveExclusionPattern matches the paths an item may not be moved into: its
// own subtree for a directory, nothing for a file.
func moveExclusionPattern(item *drive.Entry) string {
	if !item.IsDir() {
		return ""
	}
	return likePrefix(item.Path)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func contentRef(e *drive.Entry) sql.NullString {
	if e.IsDir() {
		return sql.NullString{}
	}
	return sql.NullString{String: e.ContentRef, Valid: true}
}

func fromRow(r sqlc.Entry) *drive.Entry {
	e := &drive.Entry{
		ID:          r.ID,
		Owner:       r.Owner,
		Name:        r.Name,
		Kind:        drive.Kind(r.Kind),
		Path:        r.Path,
		ContentRef:  r.ContentRef.String,
		Size:        r.Size,
		ContentType: r.ContentType,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.ParentID.Valid {
		pid := r.ParentID.String
		e.ParentID = &pid
	}
	return e
}

func fromRows(rows []sqlc.Entry) []*drive.Entry {
	entries := make([]*drive.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, fromRow(r))
	}
	return entries
}

var _ drive.Catalog = (*SQLiteCatalog)(nil)
