package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"icsforms/core/auth"
	"icsforms/core/store"
)

type SettingsHandler struct {
	settings store.SettingsStore
	audits   store.AuditStore
}

func NewSettingsHandler(settings store.SettingsStore, audits store.AuditStore) *SettingsHandler {
	return &SettingsHandler{settings: settings, audits: audits}
}

func (h *SettingsHandler) All(w http.ResponseWriter, r *http.Request) {
	values, err := h.settings.All(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": values})
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(urlParam(r, "key"))
	if key == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	value, found, err := h.settings.Get(r.Context(), key)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (h *SettingsHandler) Set(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	key := strings.TrimSpace(urlParam(r, "key"))
	if key == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.settings.Set(r.Context(), key, payload.Value); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "settings.set", "key="+key)
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": payload.Value})
}

func (h *SettingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	key := strings.TrimSpace(urlParam(r, "key"))
	if key == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.settings.Delete(r.Context(), key); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "settings.delete", "key="+key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
