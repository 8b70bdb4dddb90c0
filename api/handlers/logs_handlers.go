package handlers

import (
	"net/http"
	"strings"
	"time"

	"icsforms/core/store"
)

type LogsHandler struct {
	audits store.AuditStore
}

func NewLogsHandler(audits store.AuditStore) *LogsHandler {
	return &LogsHandler{audits: audits}
}

func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AuditFilter{
		Username: strings.TrimSpace(q.Get("username")),
		Action:   strings.TrimSpace(q.Get("action")),
		Limit:    parseIntDefault(q.Get("limit"), 0),
		Offset:   parseIntDefault(q.Get("offset"), 0),
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		filter.Since = &since
	}
	items, err := h.audits.List(r.Context(), filter)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
