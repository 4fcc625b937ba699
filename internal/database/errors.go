package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"clouddrive/internal/drive"
)

// PostgreSQL error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// isConstraintViolation reports whether err is an integrity failure from
// either backend.
func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgForeignKeyViolation, pgCheckViolation:
			return true
		}
	}
	return false
}

// wrapErr turns a driver error into a *drive.DatabaseError.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var dbErr *drive.DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}
	return &drive.DatabaseError{Op: op, Integrity: isConstraintViolation(err), Err: err}
}

// escapeLike backslash-escapes LIKE wildcards in s.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// likeContains builds a LIKE pattern matching every string containing s.
func likeContains(s string) string {
	return "%" + escapeLike(s) + "%"
}

// likePrefix builds a LIKE pattern matching every string that starts with
// prefix, escaping wildcard characters with a backslash.
func likePrefix(prefix string) string {
	return escapeLike(prefix) + "%"
}
