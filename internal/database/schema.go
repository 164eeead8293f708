package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL that creates the mobilepost table.
func Schema() string { return strings.TrimSuffix(strings.TrimSpace(schemaSQL), ";") }

// EnsureSchema creates the mobilepost table when it does not exist yet. It
// is idempotent and never alters an existing table.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
