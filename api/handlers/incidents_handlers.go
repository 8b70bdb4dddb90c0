package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"icsforms/config"
	"icsforms/core/auth"
	"icsforms/core/rbac"
	"icsforms/core/store"
	"icsforms/core/utils"
)

type IncidentsHandler struct {
	cfg    *config.AppConfig
	store  store.IncidentsStore
	policy *rbac.Policy
	audits store.AuditStore
	logger *utils.Logger
}

func NewIncidentsHandler(cfg *config.AppConfig, is store.IncidentsStore, policy *rbac.Policy, audits store.AuditStore, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{cfg: cfg, store: is, policy: policy, audits: audits, logger: logger}
}

var validIncidentStatus = map[string]struct{}{
	"active": {},
	"closed": {},
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	q := r.URL.Query()
	filter := store.IncidentFilter{
		Search: q.Get("q"),
		Status: strings.ToLower(strings.TrimSpace(q.Get("status"))),
		Limit:  parseIntDefault(q.Get("limit"), 0),
		Offset: parseIntDefault(q.Get("offset"), 0),
	}
	canManage := h.policy.Allowed(sr.Roles, "incidents.manage")
	if canManage && (q.Get("include_deleted") == "1" || strings.ToLower(q.Get("include_deleted")) == "true") {
		filter.IncludeDeleted = true
	}
	items, err := h.store.ListIncidents(r.Context(), filter)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	var payload struct {
		Number      string `json:"number"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Status      string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	status := strings.ToLower(strings.TrimSpace(payload.Status))
	if status != "" {
		if _, ok := validIncidentStatus[status]; !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
	}
	incident := &store.Incident{
		Number:      strings.TrimSpace(payload.Number),
		Name:        strings.TrimSpace(payload.Name),
		Description: payload.Description,
		Status:      status,
		CreatedBy:   sr.UserID,
		UpdatedBy:   sr.UserID,
	}
	if _, err := h.store.CreateIncident(r.Context(), incident, h.cfg.Incidents.NumberFormat); err != nil {
		if h.logger != nil {
			h.logger.Errorf("create incident: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "incidents.create", "incident_id="+incident.Number)
	writeJSON(w, http.StatusCreated, incident)
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	incident, err := h.store.GetIncident(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if incident == nil || incident.DeletedAt != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	periods, err := h.store.ListOperationalPeriods(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incident": incident, "periods": periods})
}

func (h *IncidentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Status      string `json:"status"`
		Version     int    `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	incident, err := h.store.GetIncident(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if incident == nil || incident.DeletedAt != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if strings.TrimSpace(payload.Name) != "" {
		incident.Name = strings.TrimSpace(payload.Name)
	}
	incident.Description = payload.Description
	if status := strings.ToLower(strings.TrimSpace(payload.Status)); status != "" {
		if _, ok := validIncidentStatus[status]; !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		incident.Status = status
	}
	incident.UpdatedBy = sr.UserID
	expected := payload.Version
	if expected <= 0 {
		expected = incident.Version
	}
	if err := h.store.UpdateIncident(r.Context(), incident, expected); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "version conflict", http.StatusConflict)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "incidents.update", "incident_id="+incident.Number)
	writeJSON(w, http.StatusOK, incident)
}

func (h *IncidentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.store.SoftDeleteIncident(r.Context(), id, sr.UserID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "incidents.delete", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IncidentsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.store.RestoreIncident(r.Context(), id, sr.UserID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "incidents.restore", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IncidentsHandler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	periods, err := h.store.ListOperationalPeriods(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": periods})
}

func (h *IncidentsHandler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	incident, err := h.store.GetIncident(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if incident == nil || incident.DeletedAt != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var payload struct {
		Number  int       `json:"number"`
		StartAt time.Time `json:"start_at"`
		EndAt   time.Time `json:"end_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if payload.StartAt.IsZero() || payload.EndAt.IsZero() || !payload.EndAt.After(payload.StartAt) {
		http.Error(w, "period end must be after start", http.StatusBadRequest)
		return
	}
	period := &store.OperationalPeriod{
		IncidentID: id,
		Number:     payload.Number,
		StartAt:    payload.StartAt,
		EndAt:      payload.EndAt,
	}
	if _, err := h.store.CreateOperationalPeriod(r.Context(), period); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "incidents.period_create", "incident_id="+incident.Number)
	writeJSON(w, http.StatusCreated, period)
}

func (h *IncidentsHandler) UpdatePeriod(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	periodID, ok := parseID(pathParams(r)["period_id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	period, err := h.store.GetOperationalPeriod(r.Context(), periodID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if period == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var payload struct {
		StartAt time.Time `json:"start_at"`
		EndAt   time.Time `json:"end_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if payload.StartAt.IsZero() || payload.EndAt.IsZero() || !payload.EndAt.After(payload.StartAt) {
		http.Error(w, "period end must be after start", http.StatusBadRequest)
		return
	}
	period.StartAt = payload.StartAt
	period.EndAt = payload.EndAt
	if err := h.store.UpdateOperationalPeriod(r.Context(), period); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "incidents.period_update", "")
	writeJSON(w, http.StatusOK, period)
}

func (h *IncidentsHandler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	periodID, ok := parseID(pathParams(r)["period_id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.store.DeleteOperationalPeriod(r.Context(), periodID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "incidents.period_delete", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
