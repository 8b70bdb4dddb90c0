package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"icsforms/config"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "test.db"),
	}
	db, err := NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := ApplyMigrations(context.Background(), db, "sqlite", nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
