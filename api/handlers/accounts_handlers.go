package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"icsforms/config"
	"icsforms/core/auth"
	"icsforms/core/rbac"
	"icsforms/core/store"
	"icsforms/core/utils"
)

type AccountsHandler struct {
	cfg           *config.AppConfig
	users         store.UsersStore
	policy        *rbac.Policy
	audits        store.AuditStore
	logger        *utils.Logger
	refreshPolicy func()
}

func NewAccountsHandler(cfg *config.AppConfig, users store.UsersStore, policy *rbac.Policy, audits store.AuditStore, logger *utils.Logger, refreshPolicy func()) *AccountsHandler {
	return &AccountsHandler{cfg: cfg, users: users, policy: policy, audits: audits, logger: logger, refreshPolicy: refreshPolicy}
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	items := make([]map[string]any, 0, len(users))
	for i := range users {
		roles, _ := h.users.UserRoles(r.Context(), users[i].ID)
		items = append(items, map[string]any{"user": users[i], "roles": roles})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AccountsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	user, roles, err := h.users.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "roles": roles})
}

type accountPayload struct {
	Username    string   `json:"username"`
	FullName    string   `json:"full_name"`
	Email       string   `json:"email"`
	ICSPosition string   `json:"ics_position"`
	HomeAgency  string   `json:"home_agency"`
	Password    string   `json:"password"`
	Roles       []string `json:"roles"`
	Active      *bool    `json:"active"`
}

func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	var payload accountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	payload.Username = strings.ToLower(strings.TrimSpace(payload.Username))
	if err := utils.ValidateUsername(payload.Username); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := utils.ValidatePassword(payload.Password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	existing, _, err := h.users.FindByUsername(r.Context(), payload.Username)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "username already taken", http.StatusConflict)
		return
	}
	ph, err := auth.HashPassword(payload.Password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	user := &store.User{
		Username:              payload.Username,
		FullName:              strings.TrimSpace(payload.FullName),
		Email:                 strings.TrimSpace(payload.Email),
		ICSPosition:           strings.TrimSpace(payload.ICSPosition),
		HomeAgency:            strings.TrimSpace(payload.HomeAgency),
		PasswordHash:          ph.Hash,
		Salt:                  ph.Salt,
		RequirePasswordChange: true,
		Active:                true,
	}
	if _, err := h.users.Create(r.Context(), user, payload.Roles); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "accounts.create", "username="+user.Username)
	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "roles": payload.Roles})
}

func (h *AccountsHandler) Update(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload accountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	user, _, err := h.users.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	user.FullName = strings.TrimSpace(payload.FullName)
	user.Email = strings.TrimSpace(payload.Email)
	user.ICSPosition = strings.TrimSpace(payload.ICSPosition)
	user.HomeAgency = strings.TrimSpace(payload.HomeAgency)
	if payload.Active != nil {
		if !*payload.Active && user.ID == sr.UserID {
			http.Error(w, "cannot deactivate own account", http.StatusBadRequest)
			return
		}
		user.Active = *payload.Active
	}
	if payload.Password != "" {
		if err := utils.ValidatePassword(payload.Password); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ph, err := auth.HashPassword(payload.Password, h.cfg.Pepper)
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		user.PasswordHash = ph.Hash
		user.Salt = ph.Salt
		user.RequirePasswordChange = true
	}
	if err := h.users.Update(r.Context(), user, payload.Roles); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if payload.Roles != nil && h.refreshPolicy != nil {
		h.refreshPolicy()
	}
	h.audits.Log(r.Context(), sr.Username, "accounts.update", "username="+user.Username)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AccountsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	id, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if id == sr.UserID {
		http.Error(w, "cannot deactivate own account", http.StatusBadRequest)
		return
	}
	if err := h.users.Deactivate(r.Context(), id); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "accounts.deactivate", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccountsHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.users.ListRoles(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": roles})
}
