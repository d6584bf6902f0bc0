// Package dbtest opens throwaway SQLite databases carrying the production schema.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/digkill/figureshop/internal/database"
)

func Open(t testing.TB) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "figureshop.db") + "?_busy_timeout=1000&_time_format=sqlite"
	db, err := database.Connect(context.Background(), "sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
