package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"icsforms/config"
	"icsforms/core/auth"
	"icsforms/core/forms"
	"icsforms/core/rbac"
	"icsforms/core/store"
	"icsforms/core/utils"
)

type FormsHandler struct {
	cfg    *config.AppConfig
	svc    *forms.Service
	policy *rbac.Policy
	audits store.AuditStore
	logger *utils.Logger
}

func NewFormsHandler(cfg *config.AppConfig, svc *forms.Service, policy *rbac.Policy, audits store.AuditStore, logger *utils.Logger) *FormsHandler {
	return &FormsHandler{cfg: cfg, svc: svc, policy: policy, audits: audits, logger: logger}
}

func sessionActor(r *http.Request) forms.Actor {
	if v := r.Context().Value(auth.SessionContextKey); v != nil {
		sr := v.(*store.SessionRecord)
		return forms.Actor{UserID: sr.UserID, Username: sr.Username}
	}
	return forms.Actor{}
}

func formResponse(form *store.Form) map[string]any {
	return map[string]any{
		"form":    form,
		"payload": json.RawMessage(form.PayloadJSON),
	}
}

// writeFormError maps service errors onto HTTP statuses. Invalid lifecycle
// transitions and stale versions are both conflicts from the client's view,
// but the transition error carries the offending state in its message.
func (h *FormsHandler) writeFormError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, forms.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, forms.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "version conflict", http.StatusConflict)
	default:
		if h.logger != nil {
			h.logger.Errorf("forms handler: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func (h *FormsHandler) List(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	q := r.URL.Query()
	filter := store.FormFilter{
		FormType: strings.ToLower(strings.TrimSpace(q.Get("type"))),
		State:    strings.ToLower(strings.TrimSpace(q.Get("state"))),
		Search:   q.Get("q"),
		Limit:    parseIntDefault(q.Get("limit"), 0),
		Offset:   parseIntDefault(q.Get("offset"), 0),
	}
	if id, ok := parseID(q.Get("incident_id")); ok {
		filter.IncidentID = id
	}
	if id, ok := parseID(q.Get("period_id")); ok {
		filter.OperationalPeriodID = id
	}
	if raw := strings.TrimSpace(q.Get("state_in")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if clean := strings.ToLower(strings.TrimSpace(part)); clean != "" {
				filter.StateIn = append(filter.StateIn, clean)
			}
		}
	}
	if q.Get("mine") == "1" || strings.ToLower(q.Get("mine")) == "true" {
		filter.CreatedByUserID = sr.UserID
	}
	canManage := h.policy.Allowed(sr.Roles, "forms.manage")
	if canManage && (q.Get("include_deleted") == "1" || strings.ToLower(q.Get("include_deleted")) == "true") {
		filter.IncludeDeleted = true
	}
	items, err := h.svc.Store().ListForms(r.Context(), filter)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *FormsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FormType            string          `json:"form_type"`
		IncidentID          *int64          `json:"incident_id"`
		OperationalPeriodID *int64          `json:"operational_period_id"`
		Payload             json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	formType, ok := forms.ParseFormType(payload.FormType)
	if !ok {
		http.Error(w, "unknown form type", http.StatusBadRequest)
		return
	}
	body, err := forms.DecodePayload(formType, string(payload.Payload))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	form, verrs, err := h.svc.Create(r.Context(), forms.CreateInput{
		FormType:            formType,
		IncidentID:          payload.IncidentID,
		OperationalPeriodID: payload.OperationalPeriodID,
		Payload:             body,
	}, sessionActor(r))
	if err != nil {
		h.writeFormError(w, err)
		return
	}
	if !verrs.Ok() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": verrs})
		return
	}
	writeJSON(w, http.StatusCreated, formResponse(form))
}

func (h *FormsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form, err := h.svc.Store().GetForm(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if form == nil || form.DeletedAt != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, formResponse(form))
}

func (h *FormsHandler) GetByUUID(w http.ResponseWriter, r *http.Request) {
	formUUID := strings.TrimSpace(urlParam(r, "uuid"))
	form, err := h.svc.Store().GetFormByUUID(r.Context(), formUUID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if form == nil || form.DeletedAt != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, formResponse(form))
}

func (h *FormsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Version int             `json:"version"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form, err := h.svc.Store().GetForm(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if form == nil || form.DeletedAt != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	body, err := forms.DecodePayload(forms.FormType(form.FormType), string(payload.Payload))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	updated, verrs, err := h.svc.Update(r.Context(), id, payload.Version, body, sessionActor(r))
	if err != nil {
		h.writeFormError(w, err)
		return
	}
	if !verrs.Ok() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": verrs})
		return
	}
	writeJSON(w, http.StatusOK, formResponse(updated))
}

type lifecycleRequest struct {
	Version  int    `json:"version"`
	By       string `json:"by"`
	Position string `json:"position"`
	Body     string `json:"body"`
	Date     string `json:"date"`
}

func decodeLifecycle(r *http.Request) (int64, lifecycleRequest, bool) {
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		return 0, lifecycleRequest{}, false
	}
	var req lifecycleRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return id, req, true
}

func (h *FormsHandler) writeTransitionResult(w http.ResponseWriter, form *store.Form, verrs forms.ValidationErrors, err error) {
	if err != nil {
		h.writeFormError(w, err)
		return
	}
	if !verrs.Ok() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": verrs})
		return
	}
	writeJSON(w, http.StatusOK, formResponse(form))
}

func (h *FormsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, req, ok := decodeLifecycle(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form, verrs, err := h.svc.Approve(r.Context(), id, req.Version, forms.ApproveInput{By: req.By, Position: req.Position}, sessionActor(r))
	h.writeTransitionResult(w, form, verrs, err)
}

func (h *FormsHandler) Transmit(w http.ResponseWriter, r *http.Request) {
	id, req, ok := decodeLifecycle(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form, verrs, err := h.svc.Transmit(r.Context(), id, req.Version, sessionActor(r))
	h.writeTransitionResult(w, form, verrs, err)
}

func (h *FormsHandler) Receive(w http.ResponseWriter, r *http.Request) {
	id, req, ok := decodeLifecycle(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form, verrs, err := h.svc.Receive(r.Context(), id, req.Version, sessionActor(r))
	h.writeTransitionResult(w, form, verrs, err)
}

func (h *FormsHandler) Reply(w http.ResponseWriter, r *http.Request) {
	id, req, ok := decodeLifecycle(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form, verrs, err := h.svc.Reply(r.Context(), id, req.Version, forms.ReplyInput{Body: req.Body, By: req.By, Date: req.Date}, sessionActor(r))
	h.writeTransitionResult(w, form, verrs, err)
}

func (h *FormsHandler) Return(w http.ResponseWriter, r *http.Request) {
	id, req, ok := decodeLifecycle(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form, verrs, err := h.svc.Return(r.Context(), id, req.Version, sessionActor(r))
	h.writeTransitionResult(w, form, verrs, err)
}

func (h *FormsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, req, ok := decodeLifecycle(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form, verrs, err := h.svc.Archive(r.Context(), id, req.Version, sessionActor(r))
	h.writeTransitionResult(w, form, verrs, err)
}

func (h *FormsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.Delete(r.Context(), id, sessionActor(r)); err != nil {
		h.writeFormError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FormsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.Restore(r.Context(), id, sessionActor(r)); err != nil {
		h.writeFormError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FormsHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	versions, err := h.svc.Store().ListFormVersions(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": versions})
}

func (h *FormsHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	params := pathParams(r)
	id, ok := parseID(params["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ver := parseIntDefault(params["ver"], 0)
	if ver <= 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	version, err := h.svc.Store().GetFormVersion(r.Context(), id, ver)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if version == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": version,
		"payload": json.RawMessage(version.PayloadJSON),
	})
}
