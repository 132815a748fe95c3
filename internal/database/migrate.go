package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the embedded schema for the given driver.  Every
// statement is written with IF NOT EXISTS so running it twice is harmless.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	if driver == "" {
		driver = DriverMySQL
	}
	stmts, err := Statements(driver)
	if err != nil {
		return err
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// Statements returns the schema for driver split into single statements.
// The MySQL driver rejects multi-statement Exec calls by default.
func Statements(driver string) ([]string, error) {
	raw, err := schemaFS.ReadFile("schema/" + driver + ".sql")
	if err != nil {
		return nil, fmt.Errorf("no schema for driver %q: %w", driver, err)
	}
	var out []string
	for _, part := range strings.Split(string(raw), ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
