package sqlc

import (
	"database/sql"
	"time"
)

type Entry struct {
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
