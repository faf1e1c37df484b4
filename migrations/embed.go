// Package migrations embeds the PostgreSQL schema for the server, tests and tooling.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var FS embed.FS

// Up applies every *.up.sql file in name order. The statements are idempotent.
func Up(ctx context.Context, db *sql.DB) error {
	names, err := fs.Glob(FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", strings.TrimSuffix(name, ".up.sql"), err)
		}
	}
	return nil
}
