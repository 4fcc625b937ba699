package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"clouddrive/internal/database/migrations"
	"clouddrive/internal/drive"
)

// pgExecutor is the query surface shared by *pgxpool.Pool and pgx.Tx.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresCatalog implements drive.Catalog on PostgreSQL through pgx.
type PostgresCatalog struct {
	pool *pgxpool.Pool
	exec pgExecutor
	tx   pgx.Tx
}

// CreateConnectionPool parses dsn and opens a verified pgx pool.
func CreateConnectionPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	// PgBouncer in transaction mode (6543) cannot hold prepared statements.
	if cfg.ConnConfig.Port == 6543 && cfg.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresCatalog connects to dsn and migrates the schema.
func NewPostgresCatalog(ctx context.Context, dsn string, maxConns int32) (*PostgresCatalog, error) {
	pool, err := CreateConnectionPool(ctx, dsn, maxConns)
	if err != nil {
		return nil, err
	}
	c := NewPostgresCatalogFromPool(pool)
	if err := c.Migrate(); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// NewPostgresCatalogFromPool wraps an existing pool without migrating.
func NewPostgresCatalogFromPool(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool, exec: pool}
}

// Migrate applies pending migrations through a database/sql view of the pool.
func (c *PostgresCatalog) Migrate() error {
	db := stdlib.OpenDBFromPool(c.pool)
	if err := migrations.MigrateUp(db, migrations.Postgres); err != nil {
		return fmt.Errorf("migrating catalog: %w", err)
	}
	return nil
}

// CheckMigrations verifies the schema is at the latest version.
func (c *PostgresCatalog) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(stdlib.OpenDBFromPool(c.pool), migrations.Postgres)
}

func (c *PostgresCatalog) Close() error {
	if c.tx == nil {
		c.pool.Close()
	}
	return nil
}

func (c *PostgresCatalog) RunInTx(ctx context.Context, fn func(ctx context.Context, tx drive.Catalog) error) error {
	if c.tx != nil {
		return fn(ctx, c)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin transaction", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, &PostgresCatalog{pool: c.pool, exec: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr("commit transaction", err)
	}
	return nil
}

const entryColumns = `id, owner, parent_id, name, kind, path, content_ref, size, content_type, created_at, updated_at`

func scanPgEntry(row pgx.Row) (*drive.Entry, error) {
	var (
		e          drive.Entry
		kind       string
		contentRef *string
	)
	err := row.Scan(&e.ID, &e.Owner, &e.ParentID, &e.Name, &kind, &e.Path,
		&contentRef, &e.Size, &e.ContentType, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Kind = drive.Kind(kind)
	if contentRef != nil {
		e.ContentRef = *contentRef
	}
	return &e, nil
}

func (c *PostgresCatalog) queryEntries(ctx context.Context, op, query string, args ...any) ([]*drive.Entry, error) {
	rows, err := c.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var entries []*drive.Entry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return entries, nil
}

func (c *PostgresCatalog) GetEntry(ctx context.Context, owner, id string) (*drive.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE owner = $1 AND id = $2`
	e, err := scanPgEntry(c.exec.QueryRow(ctx, query, owner, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &drive.NotFoundError{Resource: "entry", ID: id}
		}
		return nil, wrapErr("getting entry", err)
	}
	return e, nil
}

func (c *PostgresCatalog) FindEntry(ctx context.Context, owner string, parentID *string, name string) (*drive.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE owner = $1 AND parent_id IS NOT DISTINCT FROM $2 AND name = $3`
	e, err := scanPgEntry(c.exec.QueryRow(ctx, query, owner, parentID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("finding entry", err)
	}
	return e, nil
}

func (c *PostgresCatalog) ExistsWithName(ctx context.Context, owner, name string, parentID *string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM entries
		WHERE owner = $1 AND parent_id IS NOT DISTINCT FROM $2 AND name = $3)`
	var exists bool
	if err := c.exec.QueryRow(ctx, query, owner, parentID, name).Scan(&exists); err != nil {
		return false, wrapErr("checking name", err)
	}
	return exists, nil
}

func (c *PostgresCatalog) FindByPath(ctx context.Context, owner, path string, kind drive.Kind) ([]*drive.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE owner = $1 AND path = $2 AND kind = $3`
	return c.queryEntries(ctx, "finding entries by path", query, owner, path, string(kind))
}

func (c *PostgresCatalog) ListChildren(ctx context.Context, owner string, parentID *string) ([]*drive.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE owner = $1 AND parent_id IS NOT DISTINCT FROM $2
		ORDER BY CASE kind WHEN 'directory' THEN 0 ELSE 1 END, name`
	return c.queryEntries(ctx, "listing children", query, owner, parentID)
}

func (c *PostgresCatalog) ListSubtree(ctx context.Context, owner string, dir *drive.Entry) ([]*drive.Entry, error) {
	if dir == nil || !dir.IsDir() {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE owner = $1 AND path LIKE $2
		ORDER BY path, name`
	return c.queryEntries(ctx, "listing subtree", query, owner, likePrefix(dir.Path))
}

func (c *PostgresCatalog) AvailableMoveTargets(ctx context.Context, owner string, item *drive.Entry) ([]*drive.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE owner = $1
		  AND kind = 'directory'
		  AND id IS DISTINCT FROM $2
		  AND path NOT LIKE $3
		ORDER BY path`
	return c.queryEntries(ctx, "listing move targets", query, owner, item.ParentID, moveExclusionPattern(item))
}

func (c *PostgresCatalog) SearchByName(ctx context.Context, owner, query string) ([]*drive.Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM entries
		WHERE owner = $1 AND name ILIKE $2
		ORDER BY CASE kind WHEN 'directory' THEN 0 ELSE 1 END, name, path`
	return c.queryEntries(ctx, "searching entries", q, owner, likeContains(query))
}

func (c *PostgresCatalog) InsertEntry(ctx context.Context, e *drive.Entry) error {
	query := `INSERT INTO entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := c.exec.Exec(ctx, query,
		e.ID, e.Owner, e.ParentID, e.Name, string(e.Kind), e.Path,
		pgContentRef(e), e.Size, e.ContentType, e.CreatedAt, e.UpdatedAt)
	return wrapErr("inserting entry", err)
}

func (c *PostgresCatalog) UpdateEntry(ctx context.Context, e *drive.Entry) error {
	query := `UPDATE entries
		SET parent_id = $1, name = $2, path = $3, content_ref = $4, updated_at = $5
		WHERE owner = $6 AND id = $7`
	tag, err := c.exec.Exec(ctx, query, e.ParentID, e.Name, e.Path, pgContentRef(e), e.UpdatedAt, e.Owner, e.ID)
	if err != nil {
		return wrapErr("updating entry", err)
	}
	if tag.RowsAffected() == 0 {
		return &drive.NotFoundError{Resource: "entry", ID: e.ID}
	}
	return nil
}

func (c *PostgresCatalog) DeleteEntry(ctx context.Context, owner, id string) error {
	tag, err := c.exec.Exec(ctx, `DELETE FROM entries WHERE owner = $1 AND id = $2`, owner, id)
	if err != nil {
		return wrapErr("deleting entry", err)
	}
	if tag.RowsAffected() == 0 {
		return &drive.NotFoundError{Resource: "entry", ID: id}
	}
	return nil
}

func (c *PostgresCatalog) RewritePathPrefix(ctx context.Context, owner, oldPrefix, newPrefix string, now time.Time) (int64, error) {
	query := `UPDATE entries
		SET path = $1::text || substr(path, length($2::text) + 1),
		    content_ref = CASE
		        WHEN content_ref IS NULL THEN NULL
		        ELSE $1::text || substr(content_ref, length($2::text) + 1)
		    END,
		    updated_at = $3
		WHERE owner = $4 AND path LIKE $5`
	tag, err := c.exec.Exec(ctx, query, newPrefix, oldPrefix, now, owner, likePrefix(oldPrefix))
	if err != nil {
		return 0, wrapErr("rewriting path prefix", err)
	}
	return tag.RowsAffected(), nil
}

func (c *PostgresCatalog) BulkDeleteSubtree(ctx context.Context, owner string, dir *drive.Entry) (int64, error) {
	if dir == nil || !dir.IsDir() {
		return 0, fmt.Errorf("bulk delete requires a directory")
	}
	tag, err := c.exec.Exec(ctx, `DELETE FROM entries WHERE owner = $1 AND path LIKE $2`, owner, likePrefix(dir.Path))
	if err != nil {
		return 0, wrapErr("deleting subtree", err)
	}
	return tag.RowsAffected(), nil
}

func pgContentRef(e *drive.Entry) *string {
	if e.IsDir() {
		return nil
	}
	ref := e.ContentRef
	return &ref
}

var _ drive.Catalog = (*PostgresCatalog)(nil)
