package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"icsforms/core/utils"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// ApplyMigrations brings the schema up to date: versioned goose migrations
// first, then additive column guards for upgrades that predate them.
func ApplyMigrations(ctx context.Context, db *sql.DB, driver string, logger *utils.Logger) error {
	dialect := "sqlite3"
	if driver == "postgres" {
		dialect = "postgres"
	}
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if err := ensureFormColumns(ctx, db); err != nil {
		return err
	}
	if err := ensureUserColumns(ctx, db); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("DB schema up to date")
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func ensureFormColumns(ctx context.Context, db *sql.DB) error {
	type col struct {
		Name string
		SQL  string
	}
	cols := []col{
		{Name: "returned_at", SQL: "ALTER TABLE forms ADD COLUMN returned_at TIMESTAMP"},
		{Name: "archived_at", SQL: "ALTER TABLE forms ADD COLUMN archived_at TIMESTAMP"},
	}
	for _, c := range cols {
		exists, err := columnExists(ctx, db, "forms", c.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.ExecContext(ctx, c.SQL); err != nil {
			return fmt.Errorf("add column forms.%s: %w", c.Name, err)
		}
		logMigrationAudit(ctx, db, "migration.forms.add_column", c.Name)
	}
	return nil
}

func ensureUserColumns(ctx context.Context, db *sql.DB) error {
	type col struct {
		Name string
		SQL  string
	}
	cols := []col{
		{Name: "ics_position", SQL: "ALTER TABLE users ADD COLUMN ics_position TEXT NOT NULL DEFAULT ''"},
		{Name: "home_agency", SQL: "ALTER TABLE users ADD COLUMN home_agency TEXT NOT NULL DEFAULT ''"},
	}
	for _, c := range cols {
		exists, err := columnExists(ctx, db, "users", c.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.ExecContext(ctx, c.SQL); err != nil {
			return fmt.Errorf("add column users.%s: %w", c.Name, err)
		}
	}
	return nil
}

func logMigrationAudit(ctx context.Context, db *sql.DB, action, details string) {
	_, _ = db.ExecContext(ctx, `
		INSERT INTO audit_log(username, action, details, created_at)
		VALUES('system', ?, ?, CURRENT_TIMESTAMP)
	`, action, details)
}
