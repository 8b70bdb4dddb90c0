package forms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"icsforms/config"
	"icsforms/core/store"
	"icsforms/core/utils"
)

var ErrNotFound = errors.New("form not found")

// Actor identifies who is driving an operation, for snapshots and audit.
type Actor struct {
	UserID   int64
	Username string
}

type CreateInput struct {
	FormType            FormType
	IncidentID          *int64
	OperationalPeriodID *int64
	Payload             any
}

type ApproveInput struct {
	By       string
	Position string
}

type ReplyInput struct {
	Body string
	By   string
	Date string
}

// Service orchestrates the forms store, version snapshots, validation and
// the audit trail. Lifecycle methods return (form, validation, error):
// validation is non-empty when the payload blocks the transition, error
// covers conflicts, unknown forms and storage failures.
type Service struct {
	cfg    *config.AppConfig
	store  store.FormsStore
	audits store.AuditStore
	logger *utils.Logger
}

func NewService(cfg *config.AppConfig, fs store.FormsStore, audits store.AuditStore, logger *utils.Logger) *Service {
	return &Service{cfg: cfg, store: fs, audits: audits, logger: logger}
}

func (s *Service) Store() store.FormsStore { return s.store }

func (s *Service) limits() Limits {
	l := DefaultLimits()
	if s.cfg != nil {
		if s.cfg.Forms.MaxSubjectChars > 0 {
			l.MaxSubjectChars = s.cfg.Forms.MaxSubjectChars
		}
		if s.cfg.Forms.MaxBodyChars > 0 {
			l.MaxBodyChars = s.cfg.Forms.MaxBodyChars
		}
	}
	return l
}

func (s *Service) Create(ctx context.Context, in CreateInput, actor Actor) (*store.Form, ValidationErrors, error) {
	if verrs := Validate(in.FormType, StateDraft, in.Payload, s.limits()); !verrs.Ok() {
		return nil, verrs, nil
	}
	raw, err := EncodePayload(in.FormType, in.Payload)
	if err != nil {
		return nil, nil, err
	}
	form := &store.Form{
		FormType:            string(in.FormType),
		State:               string(StateDraft),
		IncidentID:          in.IncidentID,
		OperationalPeriodID: in.OperationalPeriodID,
		PayloadJSON:         raw,
		CreatedBy:           actor.UserID,
		UpdatedBy:           actor.UserID,
	}
	if _, err := s.store.CreateForm(ctx, form); err != nil {
		return nil, nil, fmt.Errorf("create form: %w", err)
	}
	s.audits.Log(ctx, actor.Username, "forms.create", fmt.Sprintf("form_id=%d type=%s", form.ID, form.FormType))
	return form, nil, nil
}

// Update replaces the payload of a form that is still editable. Drafts are
// fully editable; received forms accept edits so a reply can be drafted.
func (s *Service) Update(ctx context.Context, id int64, expectedVersion int, payload any, actor Actor) (*store.Form, ValidationErrors, error) {
	form, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	switch FormState(form.State) {
	case StateDraft, StateReceived:
	default:
		return nil, nil, transitionErr("edit", FormState(form.State))
	}
	if expectedVersion > 0 && form.Version != expectedVersion {
		return nil, nil, store.ErrConflict
	}
	formType := FormType(form.FormType)
	if verrs := Validate(formType, FormState(form.State), payload, s.limits()); !verrs.Ok() {
		return nil, verrs, nil
	}
	raw, err := EncodePayload(formType, payload)
	if err != nil {
		return nil, nil, err
	}
	form.PayloadJSON = raw
	form.UpdatedBy = actor.UserID
	if err := s.store.UpdateForm(ctx, form, form.Version, "edited"); err != nil {
		return nil, nil, err
	}
	s.audits.Log(ctx, actor.Username, "forms.update", fmt.Sprintf("form_id=%d version=%d", form.ID, form.Version))
	return form, nil, nil
}

func (s *Service) Approve(ctx context.Context, id int64, expectedVersion int, in ApproveInput, actor Actor) (*store.Form, ValidationErrors, error) {
	return s.transition(ctx, id, expectedVersion, actor, "forms.approve", func(form *store.Form, payload any, now time.Time) error {
		switch p := payload.(type) {
		case *ICS213:
			if strings.TrimSpace(in.By) != "" {
				p.ApprovedBy = in.By
				p.ApprovedPosition = in.Position
			}
		case *ICS214:
			if strings.TrimSpace(in.By) != "" {
				p.PreparedBy = in.By
			}
		}
		return Approve(form, now)
	})
}

func (s *Service) Transmit(ctx context.Context, id int64, expectedVersion int, actor Actor) (*store.Form, ValidationErrors, error) {
	return s.transition(ctx, id, expectedVersion, actor, "forms.transmit", func(form *store.Form, _ any, now time.Time) error {
		return Transmit(form, now)
	})
}

func (s *Service) Receive(ctx context.Context, id int64, expectedVersion int, actor Actor) (*store.Form, ValidationErrors, error) {
	return s.transition(ctx, id, expectedVersion, actor, "forms.receive", func(form *store.Form, _ any, now time.Time) error {
		return Receive(form, now)
	})
}

func (s *Service) Reply(ctx context.Context, id int64, expectedVersion int, in ReplyInput, actor Actor) (*store.Form, ValidationErrors, error) {
	return s.transition(ctx, id, expectedVersion, actor, "forms.reply", func(form *store.Form, payload any, now time.Time) error {
		if p, ok := payload.(*ICS213); ok {
			if strings.TrimSpace(in.Body) != "" {
				p.ReplyBody = in.Body
			}
			if strings.TrimSpace(in.By) != "" {
				p.RepliedBy = in.By
			}
			p.ReplyDate = in.Date
			if strings.TrimSpace(p.ReplyDate) == "" {
				p.ReplyDate = now.UTC().Format(DateLayout)
			}
		}
		return Reply(form, now)
	})
}

func (s *Service) Return(ctx context.Context, id int64, expectedVersion int, actor Actor) (*store.Form, ValidationErrors, error) {
	return s.transition(ctx, id, expectedVersion, actor, "forms.return", func(form *store.Form, _ any, now time.Time) error {
		return Return(form, now)
	})
}

func (s *Service) Archive(ctx context.Context, id int64, expectedVersion int, actor Actor) (*store.Form, ValidationErrors, error) {
	return s.transition(ctx, id, expectedVersion, actor, "forms.archive", func(form *store.Form, _ any, now time.Time) error {
		return Archive(form, now)
	})
}

func (s *Service) Delete(ctx context.Context, id int64, actor Actor) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.store.SoftDeleteForm(ctx, id, actor.UserID); err != nil {
		return err
	}
	s.audits.Log(ctx, actor.Username, "forms.delete", fmt.Sprintf("form_id=%d", id))
	return nil
}

func (s *Service) Restore(ctx context.Context, id int64, actor Actor) error {
	if err := s.store.RestoreForm(ctx, id, actor.UserID); err != nil {
		return err
	}
	s.audits.Log(ctx, actor.Username, "forms.restore", fmt.Sprintf("form_id=%d", id))
	return nil
}

func (s *Service) transition(ctx context.Context, id int64, expectedVersion int, actor Actor, auditAction string, apply func(form *store.Form, payload any, now time.Time) error) (*store.Form, ValidationErrors, error) {
	form, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if expectedVersion > 0 && form.Version != expectedVersion {
		return nil, nil, store.ErrConflict
	}
	formType := FormType(form.FormType)
	payload, err := DecodePayload(formType, form.PayloadJSON)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	if err := apply(form, payload, now); err != nil {
		return nil, nil, err
	}
	if verrs := Validate(formType, FormState(form.State), payload, s.limits()); !verrs.Ok() {
		return nil, verrs, nil
	}
	raw, err := EncodePayload(formType, payload)
	if err != nil {
		return nil, nil, err
	}
	form.PayloadJSON = raw
	form.UpdatedBy = actor.UserID
	reason := strings.TrimPrefix(auditAction, "forms.")
	if err := s.store.UpdateForm(ctx, form, form.Version, reason); err != nil {
		return nil, nil, err
	}
	s.audits.Log(ctx, actor.Username, auditAction, fmt.Sprintf("form_id=%d state=%s version=%d", form.ID, form.State, form.Version))
	return form, nil, nil
}

func (s *Service) load(ctx context.Context, id int64) (*store.Form, error) {
	form, err := s.store.GetForm(ctx, id)
	if err != nil {
		return nil, err
	}
	if form == nil || form.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return form, nil
}
