package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

var ErrConflict = errors.New("conflict")

type Form struct {
	ID                  int64      `json:"id"`
	UUID                string     `json:"uuid"`
	FormType            string     `json:"form_type"`
	State               string     `json:"state"`
	IncidentID          *int64     `json:"incident_id,omitempty"`
	OperationalPeriodID *int64     `json:"operational_period_id,omitempty"`
	PayloadJSON         string     `json:"payload"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	TransmittedAt       *time.Time `json:"transmitted_at,omitempty"`
	ReceivedAt          *time.Time `json:"received_at,omitempty"`
	RepliedAt           *time.Time `json:"replied_at,omitempty"`
	ReturnedAt          *time.Time `json:"returned_at,omitempty"`
	ArchivedAt          *time.Time `json:"archived_at,omitempty"`
	CreatedBy           int64      `json:"created_by"`
	UpdatedBy           int64      `json:"updated_by"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Version             int        `json:"version"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
}

// FormVersion is an append-only snapshot of a form's serialized content.
// Version numbers are unique and strictly increasing per form.
type FormVersion struct {
	ID           int64     `json:"id"`
	FormID       int64     `json:"form_id"`
	Version      int       `json:"version"`
	State        string    `json:"state"`
	PayloadJSON  string    `json:"payload"`
	ChangedBy    int64     `json:"changed_by"`
	ChangeReason string    `json:"change_reason"`
	CreatedAt    time.Time `json:"created_at"`
}

type FormFilter struct {
	IncidentID          int64
	OperationalPeriodID int64
	FormType            string
	State               string
	StateIn             []string
	Search              string
	CreatedByUserID     int64
	UpdatedBefore       *time.Time
	IncludeDeleted      bool
	Limit               int
	Offset              int
}

type FormsStore interface {
	CreateForm(ctx context.Context, form *Form) (int64, error)
	UpdateForm(ctx context.Context, form *Form, expectedVersion int, changeReason string) error
	GetForm(ctx context.Context, id int64) (*Form, error)
	GetFormByUUID(ctx context.Context, formUUID string) (*Form, error)
	ListForms(ctx context.Context, filter FormFilter) ([]Form, error)
	SoftDeleteForm(ctx context.Context, id int64, updatedBy int64) error
	RestoreForm(ctx context.Context, id int64, updatedBy int64) error

	ListFormVersions(ctx context.Context, formID int64) ([]FormVersion, error)
	GetFormVersion(ctx context.Context, formID int64, version int) (*FormVersion, error)

	ArchiveStaleForms(ctx context.Context, states []string, cutoff time.Time) (int64, error)
}

type formsStore struct {
	db           *sql.DB
	versionLimit int
}

func NewFormsStore(db *sql.DB) FormsStore {
	return &formsStore{db: db}
}

// NewFormsStoreWithVersionLimit keeps at most limit snapshots per form,
// pruning the oldest on write. Zero disables pruning.
func NewFormsStoreWithVersionLimit(db *sql.DB, limit int) FormsStore {
	return &formsStore{db: db, versionLimit: limit}
}

func (s *formsStore) CreateForm(ctx context.Context, form *Form) (int64, error) {
	if strings.TrimSpace(form.UUID) == "" {
		form.UUID = uuid.Must(uuid.NewV4()).String()
	}
	if strings.TrimSpace(form.State) == "" {
		form.State = "draft"
	}
	if form.Version <= 0 {
		form.Version = 1
	}
	if strings.TrimSpace(form.PayloadJSON) == "" {
		form.PayloadJSON = "{}"
	}
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO forms(uuid, form_type, state, incident_id, operational_period_id, payload_json, approved_at, transmitted_at, received_at, replied_at, returned_at, archived_at, created_by, updated_by, created_at, updated_at, version, deleted_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		form.UUID, form.FormType, form.State, nullableID(form.IncidentID), nullableID(form.OperationalPeriodID), form.PayloadJSON,
		nullableTime(form.ApprovedAt), nullableTime(form.TransmittedAt), nullableTime(form.ReceivedAt), nullableTime(form.RepliedAt), nullableTime(form.ReturnedAt), nullableTime(form.ArchivedAt),
		form.CreatedBy, form.UpdatedBy, now, now, form.Version, nil)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	formID, _ := res.LastInsertId()
	form.ID = formID
	form.CreatedAt = now
	form.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO form_versions(form_id, version, state, payload_json, changed_by, change_reason, created_at)
		VALUES(?,?,?,?,?,?,?)`,
		formID, form.Version, form.State, form.PayloadJSON, form.CreatedBy, "created", now); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return formID, nil
}

// UpdateForm persists field and lifecycle changes guarded by expectedVersion,
// bumping the version and appending a snapshot in the same transaction.
func (s *formsStore) UpdateForm(ctx context.Context, form *Form, expectedVersion int, changeReason string) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE forms SET state=?, incident_id=?, operational_period_id=?, payload_json=?, approved_at=?, transmitted_at=?, received_at=?, replied_at=?, returned_at=?, archived_at=?, updated_by=?, updated_at=?, version=version+1
		WHERE id=? AND version=? AND deleted_at IS NULL`,
		form.State, nullableID(form.IncidentID), nullableID(form.OperationalPeriodID), form.PayloadJSON,
		nullableTime(form.ApprovedAt), nullableTime(form.TransmittedAt), nullableTime(form.ReceivedAt), nullableTime(form.RepliedAt), nullableTime(form.ReturnedAt), nullableTime(form.ArchivedAt),
		form.UpdatedBy, now, form.ID, expectedVersion)
	if err != nil {
		tx.Rollback()
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrConflict
	}
	newVersion := expectedVersion + 1
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO form_versions(form_id, version, state, payload_json, changed_by, change_reason, created_at)
		VALUES(?,?,?,?,?,?,?)`,
		form.ID, newVersion, form.State, form.PayloadJSON, form.UpdatedBy, changeReason, now); err != nil {
		tx.Rollback()
		return err
	}
	if s.versionLimit > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM form_versions WHERE form_id=? AND version<=?`,
			form.ID, newVersion-s.versionLimit); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	form.Version = newVersion
	form.UpdatedAt = now
	return nil
}

const formColumns = `id, uuid, form_type, state, incident_id, operational_period_id, payload_json, approved_at, transmitted_at, received_at, replied_at, returned_at, archived_at, created_by, updated_by, created_at, updated_at, version, deleted_at`

func (s *formsStore) GetForm(ctx context.Context, id int64) (*Form, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms WHERE id=?`, id)
	return scanForm(row)
}

func (s *formsStore) GetFormByUUID(ctx context.Context, formUUID string) (*Form, error) {
	if strings.TrimSpace(formUUID) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms WHERE uuid=?`, formUUID)
	return scanForm(row)
}

func (s *formsStore) ListForms(ctx context.Context, filter FormFilter) ([]Form, error) {
	var clauses []string
	var args []any
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if filter.IncidentID > 0 {
		clauses = append(clauses, "incident_id=?")
		args = append(args, filter.IncidentID)
	}
	if filter.OperationalPeriodID > 0 {
		clauses = append(clauses, "operational_period_id=?")
		args = append(args, filter.OperationalPeriodID)
	}
	if filter.FormType != "" {
		clauses = append(clauses, "form_type=?")
		args = append(args, filter.FormType)
	}
	if len(filter.StateIn) > 0 {
		var in []string
		for _, raw := range filter.StateIn {
			if strings.TrimSpace(raw) != "" {
				in = append(in, strings.TrimSpace(raw))
			}
		}
		if len(in) > 0 {
			placeholders := strings.TrimRight(strings.Repeat("?,", len(in)), ",")
			clauses = append(clauses, fmt.Sprintf("state IN (%s)", placeholders))
			for _, val := range in {
				args = append(args, val)
			}
		}
	} else if filter.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, filter.State)
	}
	if filter.CreatedByUserID > 0 {
		clauses = append(clauses, "created_by=?")
		args = append(args, filter.CreatedByUserID)
	}
	if filter.UpdatedBefore != nil {
		clauses = append(clauses, "updated_at<?")
		args = append(args, filter.UpdatedBefore.UTC())
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		clauses = append(clauses, "(payload_json LIKE ? OR uuid LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	query := `SELECT ` + formColumns + ` FROM forms`
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
	var out []Form
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *form)
	}
	return out, rows.Err()
}

func (s *formsStore) SoftDeleteForm(ctx context.Context, id int64, updatedBy int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE forms SET deleted_at=?, updated_at=?, updated_by=?, version=version+1 WHERE id=? AND deleted_at IS NULL`,
		now, now, updatedBy, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *formsStore) RestoreForm(ctx context.Context, id int64, updatedBy int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE forms SET deleted_at=NULL, updated_at=?, updated_by=?, version=version+1 WHERE id=? AND deleted_at IS NOT NULL`,
		now, updatedBy, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *formsStore) ListFormVersions(ctx context.Context, formID int64) ([]FormVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, version, state, payload_json, changed_by, change_reason, created_at
		FROM form_versions WHERE form_id=? ORDER BY version ASC`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FormVersion
	for rows.Next() {
		var v FormVersion
		if err := rows.Scan(&v.ID, &v.FormID, &v.Version, &v.State, &v.PayloadJSON, &v.ChangedBy, &v.ChangeReason, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *formsStore) GetFormVersion(ctx context.Context, formID int64, version int) (*FormVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, form_id, version, state, payload_json, changed_by, change_reason, created_at
		FROM form_versions WHERE form_id=? AND version=?`, formID, version)
	var v FormVersion
	if err := row.Scan(&v.ID, &v.FormID, &v.Version, &v.State, &v.PayloadJSON, &v.ChangedBy, &v.ChangeReason, &v.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// ArchiveStaleForms moves forms in the given states whose last update is
// older than cutoff to the archived state, one snapshot per form.
func (s *formsStore) ArchiveStaleForms(ctx context.Context, states []string, cutoff time.Time) (int64, error) {
	if len(states) == 0 {
		return 0, nil
	}
	items, err := s.ListForms(ctx, FormFilter{StateIn: states, UpdatedBefore: &cutoff})
	if err != nil {
		return 0, err
	}
	var archived int64
	now := time.Now().UTC()
	for i := range items {
		form := items[i]
		form.State = "archived"
		form.ArchivedAt = &now
		form.UpdatedBy = 0
		if err := s.UpdateForm(ctx, &form, form.Version, "retention archive"); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return archived, err
		}
		archived++
	}
	return archived, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanForm(row rowScanner) (*Form, error) {
	var f Form
	var incidentID, periodID sql.NullInt64
	var approvedAt, transmittedAt, receivedAt, repliedAt, returnedAt, archivedAt, deletedAt sql.NullTime
	err := row.Scan(&f.ID, &f.UUID, &f.FormType, &f.State, &incidentID, &periodID, &f.PayloadJSON,
		&approvedAt, &transmittedAt, &receivedAt, &repliedAt, &returnedAt, &archivedAt,
		&f.CreatedBy, &f.UpdatedBy, &f.CreatedAt, &f.UpdatedAt, &f.Version, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if incidentID.Valid {
		f.IncidentID = &incidentID.Int64
	}
	if periodID.Valid {
		f.OperationalPeriodID = &periodID.Int64
	}
	f.ApprovedAt = timePtr(approvedAt)
	f.TransmittedAt = timePtr(transmittedAt)
	f.ReceivedAt = timePtr(receivedAt)
	f.RepliedAt = timePtr(repliedAt)
	f.ReturnedAt = timePtr(returnedAt)
	f.ArchivedAt = timePtr(archivedAt)
	f.DeletedAt = timePtr(deletedAt)
	return &f, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableID(id *int64) any {
	if id == nil || *id == 0 {
		return nil
	}
	return *id
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
