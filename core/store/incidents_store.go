package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Incident struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	CreatedBy   int64      `json:"created_by"`
	UpdatedBy   int64      `json:"updated_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Version     int        `json:"version"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type OperationalPeriod struct {
	ID         int64     `json:"id"`
	IncidentID int64     `json:"incident_id"`
	Number     int       `json:"number"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type IncidentFilter struct {
	Search         string
	Status         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, incident *Incident, numberFormat string) (int64, error)
	UpdateIncident(ctx context.Context, incident *Incident, expectedVersion int) error
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	GetIncidentByNumber(ctx context.Context, number string) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	SoftDeleteIncident(ctx context.Context, id int64, updatedBy int64) error
	RestoreIncident(ctx context.Context, id int64, updatedBy int64) error

	CreateOperationalPeriod(ctx context.Context, period *OperationalPeriod) (int64, error)
	UpdateOperationalPeriod(ctx context.Context, period *OperationalPeriod) error
	DeleteOperationalPeriod(ctx context.Context, periodID int64) error
	GetOperationalPeriod(ctx context.Context, periodID int64) (*OperationalPeriod, error)
	ListOperationalPeriods(ctx context.Context, incidentID int64) ([]OperationalPeriod, error)
}

type incidentsStore struct {
	db *sql.DB
}

func NewIncidentsStore(db *sql.DB) IncidentsStore {
	return &incidentsStore{db: db}
}

func (s *incidentsStore) CreateIncident(ctx context.Context, incident *Incident, numberFormat string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if strings.TrimSpace(incident.Number) == "" {
		seq, err := nextIncidentSeqTx(ctx, tx, now.Year())
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		incident.Number = buildIncidentNumber(numberFormat, now.Year(), seq)
	}
	if incident.Version <= 0 {
		incident.Version = 1
	}
	if strings.TrimSpace(incident.Status) == "" {
		incident.Status = "active"
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO incidents(number, name, description, status, created_by, updated_by, created_at, updated_at, version, deleted_at)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		incident.Number, incident.Name, incident.Description, incident.Status, incident.CreatedBy, incident.UpdatedBy, now, now, incident.Version, nil)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	id, _ := res.LastInsertId()
	incident.ID = id
	incident.CreatedAt = now
	incident.UpdatedAt = now
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func nextIncidentSeqTx(ctx context.Context, tx *sql.Tx, year int) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `SELECT seq FROM incident_sequences WHERE year=?`, year).Scan(&seq)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO incident_sequences(year, seq) VALUES(?, 1)`, year); err != nil {
			return 0, err
		}
		return 1, nil
	}
	seq++
	if _, err := tx.ExecContext(ctx, `UPDATE incident_sequences SET seq=? WHERE year=?`, seq, year); err != nil {
		return 0, err
	}
	return seq, nil
}

// buildIncidentNumber expands {year} and {seq} or {seq:0N} in the configured
// format, e.g. "INC-{year}-{seq:04}" -> "INC-2026-0007".
func buildIncidentNumber(format string, year, seq int) string {
	out := format
	if strings.TrimSpace(out) == "" {
		out = "INC-{year}-{seq:04}"
	}
	out = strings.ReplaceAll(out, "{year}", fmt.Sprintf("%d", year))
	if idx := strings.Index(out, "{seq:0"); idx >= 0 {
		end := strings.Index(out[idx:], "}")
		if end > 0 {
			width := out[idx+len("{seq:0") : idx+end]
			out = out[:idx] + fmt.Sprintf("%0*d", atoiDefault(width, 4), seq) + out[idx+end+1:]
			return out
		}
	}
	return strings.ReplaceAll(out, "{seq}", fmt.Sprintf("%d", seq))
}

func atoiDefault(s string, def int) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return def
	}
	return n
}

func (s *incidentsStore) UpdateIncident(ctx context.Context, incident *Incident, expectedVersion int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET name=?, description=?, status=?, updated_by=?, updated_at=?, version=version+1
		WHERE id=? AND version=? AND deleted_at IS NULL`,
		incident.Name, incident.Description, incident.Status, incident.UpdatedBy, now, incident.ID, expectedVersion)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	incident.Version = expectedVersion + 1
	incident.UpdatedAt = now
	return nil
}

const incidentColumns = `id, number, name, description, status, created_by, updated_by, created_at, updated_at, version, deleted_at`

func (s *incidentsStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=?`, id)
	return scanIncident(row)
}

func (s *incidentsStore) GetIncidentByNumber(ctx context.Context, number string) (*Incident, error) {
	if strings.TrimSpace(number) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE number=?`, number)
	return scanIncident(row)
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var clauses []string
	var args []any
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		clauses = append(clauses, "(name LIKE ? OR number LIKE ? OR description LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like, like)
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

func (s *incidentsStore) SoftDeleteIncident(ctx context.Context, id int64, updatedBy int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET deleted_at=?, updated_at=?, updated_by=?, version=version+1 WHERE id=? AND deleted_at IS NULL`,
		now, now, updatedBy, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *incidentsStore) RestoreIncident(ctx context.Context, id int64, updatedBy int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET deleted_at=NULL, updated_at=?, updated_by=?, version=version+1 WHERE id=? AND deleted_at IS NOT NULL`,
		now, updatedBy, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var deletedAt sql.NullTime
	err := row.Scan(&inc.ID, &inc.Number, &inc.Name, &inc.Description, &inc.Status, &inc.CreatedBy, &inc.UpdatedBy, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	inc.DeletedAt = timePtr(deletedAt)
	return &inc, nil
}

func (s *incidentsStore) CreateOperationalPeriod(ctx context.Context, period *OperationalPeriod) (int64, error) {
	now := time.Now().UTC()
	if period.Number <= 0 {
		var next sql.NullInt64
		if err := s.db.QueryRowContext(ctx, `SELECT MAX(number) FROM operational_periods WHERE incident_id=?`, period.IncidentID).Scan(&next); err != nil {
			return 0, err
		}
		period.Number = int(next.Int64) + 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO operational_periods(incident_id, number, start_at, end_at, created_at, updated_at)
		VALUES(?,?,?,?,?,?)`,
		period.IncidentID, period.Number, period.StartAt.UTC(), period.EndAt.UTC(), now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	period.ID = id
	period.CreatedAt = now
	period.UpdatedAt = now
	return id, nil
}

func (s *incidentsStore) UpdateOperationalPeriod(ctx context.Context, period *OperationalPeriod) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE operational_periods SET start_at=?, end_at=?, updated_at=? WHERE id=?`,
		period.StartAt.UTC(), period.EndAt.UTC(), now, period.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	period.UpdatedAt = now
	return nil
}

func (s *incidentsStore) DeleteOperationalPeriod(ctx context.Context, periodID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM operational_periods WHERE id=?`, periodID)
	return err
}

func (s *incidentsStore) GetOperationalPeriod(ctx context.Context, periodID int64) (*OperationalPeriod, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, number, start_at, end_at, created_at, updated_at
		FROM operational_periods WHERE id=?`, periodID)
	var p OperationalPeriod
	if err := row.Scan(&p.ID, &p.IncidentID, &p.Number, &p.StartAt, &p.EndAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *incidentsStore) ListOperationalPeriods(ctx context.Context, incidentID int64) ([]OperationalPeriod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, number, start_at, end_at, created_at, updated_at
		FROM operational_periods WHERE incident_id=? ORDER BY number ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OperationalPeriod
	for rows.Next() {
		var p OperationalPeriod
		if err := rows.Scan(&p.ID, &p.IncidentID, &p.Number, &p.StartAt, &p.EndAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
