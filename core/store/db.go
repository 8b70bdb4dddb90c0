package store

import (
	"fmt"
	"os"
	"path/filepath"

	"database/sql"

	"icsforms/config"
	"icsforms/core/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// NewDB opens the configured database. The embedded sqlite driver is the
// default; postgres (pgx) is selected with db_driver=postgres and db_url.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	switch cfg.DBDriver {
	case "", "sqlite":
		path := cfg.DBPath
		if path == "" {
			path = "data/icsforms.db"
		}
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// modernc sqlite serializes writes; a single connection avoids
		// SQLITE_BUSY under concurrent handlers.
		db.SetMaxOpenConns(1)
		if logger != nil {
			logger.Printf("DB sqlite open path=%s", path)
		}
		return db, nil
	case "postgres":
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if logger != nil {
			logger.Printf("DB postgres open")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}
