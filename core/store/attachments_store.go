package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Attachment struct {
	ID          int64      `json:"id"`
	FormID      int64      `json:"form_id"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	SHA256      string     `json:"sha256"`
	Path        string     `json:"-"`
	UploadedBy  int64      `json:"uploaded_by"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type AttachmentsStore interface {
	AddAttachment(ctx context.Context, att *Attachment) (int64, error)
	GetAttachment(ctx context.Context, formID, attachmentID int64) (*Attachment, error)
	ListAttachments(ctx context.Context, formID int64) ([]Attachment, error)
	SoftDeleteAttachment(ctx context.Context, attachmentID int64) error
}

type attachmentsStore struct {
	db *sql.DB
}

func NewAttachmentsStore(db *sql.DB) AttachmentsStore {
	return &attachmentsStore{db: db}
}

func (s *attachmentsStore) AddAttachment(ctx context.Context, att *Attachment) (int64, error) {
	now := time.Now().UTC()
	if att.ContentType == "" {
		att.ContentType = "application/octet-stream"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments(form_id, filename, content_type, size_bytes, sha256, path, uploaded_by, uploaded_at, deleted_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		att.FormID, att.Filename, att.ContentType, att.SizeBytes, att.SHA256, att.Path, att.UploadedBy, now, nil)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	att.ID = id
	att.UploadedAt = now
	return id, nil
}

func (s *attachmentsStore) GetAttachment(ctx context.Context, formID, attachmentID int64) (*Attachment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, form_id, filename, content_type, size_bytes, sha256, path, uploaded_by, uploaded_at, deleted_at
		FROM attachments WHERE id=? AND form_id=?`, attachmentID, formID)
	var a Attachment
	var deletedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.FormID, &a.Filename, &a.ContentType, &a.SizeBytes, &a.SHA256, &a.Path, &a.UploadedBy, &a.UploadedAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.DeletedAt = timePtr(deletedAt)
	return &a, nil
}

func (s *attachmentsStore) ListAttachments(ctx context.Context, formID int64) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, filename, content_type, size_bytes, sha256, path, uploaded_by, uploaded_at, deleted_at
		FROM attachments WHERE form_id=? AND deleted_at IS NULL ORDER BY uploaded_at ASC, id ASC`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attachment
	for rows.Next() {
		var a Attachment
		var deletedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.FormID, &a.Filename, &a.ContentType, &a.SizeBytes, &a.SHA256, &a.Path, &a.UploadedBy, &a.UploadedAt, &deletedAt); err != nil {
			return nil, err
		}
		a.DeletedAt = timePtr(deletedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *attachmentsStore) SoftDeleteAttachment(ctx context.Context, attachmentID int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE attachments SET deleted_at=? WHERE id=? AND deleted_at IS NULL`, now, attachmentID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}
