package store

import (
	"context"
	"path/filepath"
	"testing"
)

// OpenTestDB opens a hardened SQLite store in t.TempDir(), runs all
// migrations, and registers cleanup.
func OpenTestDB(t testing.TB) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "identity.sqlite")

	db, err := Open(context.Background(), SQLite, path, Options{})
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if _, err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return db
}
