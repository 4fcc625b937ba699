// Command generate_schema applies the SQLite migrations to a scratch
// database and writes the resulting schema where sqlc reads it.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"clouddrive/internal/database"
	"clouddrive/internal/database/migrations"
)

const schemaHeader = `-- Generated from internal/database/migrations/files/sqlite.
-- Do not edit; run 'go generate ./internal/database' instead.

`

// schemaQuery lists user objects in a stable order: tables, then indexes and
// triggers, each by name. The migrate bookkeeping table is left out.
const schemaQuery = `
	SELECT type, name, sql
	FROM sqlite_master
	WHERE sql IS NOT NULL
	  AND name NOT LIKE 'sqlite_%'
	  AND tbl_name != 'schema_migrations'
	ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 ELSE 2 END, name`

func main() {
	out := flag.String("out", "internal/database/sqlc/schema.sql", "schema file to write")
	flag.Parse()
	log.SetFlags(0)

	db, err := database.OpenConnection(":memory:")
	if err != nil {
		log.Fatalf("opening scratch catalog: %v", err)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db, migrations.SQLite); err != nil {
		log.Fatalf("applying migrations: %v", err)
	}
	if err := migrations.CheckDBMigrationStatus(db, migrations.SQLite); err != nil {
		log.Fatalf("checking migrations: %v", err)
	}

	schema, err := dumpSchema(db)
	if err != nil {
		log.Fatalf("reading schema: %v", err)
	}
	if err := os.WriteFile(*out, []byte(schema), 0644); err != nil {
		log.Fatalf("writing %s: %v", *out, err)
	}
	fmt.Printf("wrote %s\n", *out)
}

func dumpSchema(db *sql.DB) (string, error) {
	rows, err := db.Query(schemaQuery)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteString(schemaHeader)
	n := 0
	for rows.Next() {
		var kind, name, stmt string
		if err := rows.Scan(&kind, &name, &stmt); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "-- %s %s\n%s;\n\n", kind, name, strings.TrimSpace(stmt))
		n++
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("migrations produced no schema objects")
	}
	return b.String(), nil
}
