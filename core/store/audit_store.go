package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type AuditEntry struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditFilter struct {
	Username string
	Action   string
	Since    *time.Time
	Limit    int
	Offset   int
}

type AuditStore interface {
	// Log is best-effort; audit failures never fail the calling operation.
	Log(ctx context.Context, username, action, details string)
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type auditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) AuditStore {
	return &auditStore{db: db}
}

func (s *auditStore) Log(ctx context.Context, username, action, details string) {
	if strings.TrimSpace(username) == "" {
		username = "system"
	}
	_, _ = s.db.ExecContext(ctx, `
		INSERT INTO audit_log(username, action, details, created_at) VALUES(?,?,?,?)`,
		username, action, details, time.Now().UTC())
}

func (s *auditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	var clauses []string
	var args []any
	if filter.Username != "" {
		clauses = append(clauses, "username=?")
		args = append(args, filter.Username)
	}
	if filter.Action != "" {
		clauses = append(clauses, "action LIKE ?")
		args = append(args, filter.Action+"%")
	}
	if filter.Since != nil {
		clauses = append(clauses, "created_at>=?")
		args = append(args, filter.Since.UTC())
	}
	query := `SELECT id, username, action, details, created_at FROM audit_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Details = details.String
		out = append(out, e)
	}
	return out, rows.Err()
}
