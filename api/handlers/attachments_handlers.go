package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"icsforms/config"
	"icsforms/core/auth"
	"icsforms/core/store"
	"icsforms/core/utils"
)

type AttachmentsHandler struct {
	cfg         *config.AppConfig
	forms       store.FormsStore
	attachments store.AttachmentsStore
	audits      store.AuditStore
	logger      *utils.Logger
}

func NewAttachmentsHandler(cfg *config.AppConfig, fs store.FormsStore, as store.AttachmentsStore, audits store.AuditStore, logger *utils.Logger) *AttachmentsHandler {
	return &AttachmentsHandler{cfg: cfg, forms: fs, attachments: as, audits: audits, logger: logger}
}

func (h *AttachmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	formID, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	items, err := h.attachments.ListAttachments(r.Context(), formID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Upload stores the file under attachments_dir/<form_id>/<sha256> so
// re-uploads of identical content share one file on disk.
func (h *AttachmentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	formID, ok := parseID(pathParams(r)["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	form, err := h.forms.GetForm(r.Context(), formID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if form == nil || form.DeletedAt != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	maxBytes := h.cfg.Storage.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	formDir := filepath.Join(h.cfg.Storage.AttachmentsDir, fmt.Sprintf("%d", formID))
	if err := os.MkdirAll(formDir, 0o750); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	tmp, err := os.CreateTemp(formDir, ".upload-*")
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	tmpName := tmp.Name()
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), file)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	finalPath := filepath.Join(formDir, sum)
	if _, err := os.Stat(finalPath); err == nil {
		_ = os.Remove(tmpName)
	} else if err := os.Rename(tmpName, finalPath); err != nil {
		_ = os.Remove(tmpName)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	att := &store.Attachment{
		FormID:      formID,
		Filename:    filepath.Base(strings.TrimSpace(header.Filename)),
		ContentType: header.Header.Get("Content-Type"),
		SizeBytes:   size,
		SHA256:      sum,
		Path:        finalPath,
		UploadedBy:  sr.UserID,
	}
	if _, err := h.attachments.AddAttachment(r.Context(), att); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "forms.attach", fmt.Sprintf("form_id=%d file=%s size=%d", formID, att.Filename, size))
	writeJSON(w, http.StatusCreated, att)
}

func (h *AttachmentsHandler) Download(w http.ResponseWriter, r *http.Request) {
	params := pathParams(r)
	formID, ok := parseID(params["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	attID, ok := parseID(params["att_id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	att, err := h.attachments.GetAttachment(r.Context(), formID, attID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if att == nil || att.DeletedAt != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	f, err := os.Open(att.Path)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("attachment %d missing on disk: %v", att.ID, err)
		}
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", att.SizeBytes))
	_, _ = io.Copy(w, f)
}

func (h *AttachmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	params := pathParams(r)
	formID, ok := parseID(params["id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	attID, ok := parseID(params["att_id"])
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	att, err := h.attachments.GetAttachment(r.Context(), formID, attID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if att == nil || att.DeletedAt != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	// The file stays on disk; identical content may back other rows.
	if err := h.attachments.SoftDeleteAttachment(r.Context(), attID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "forms.detach", fmt.Sprintf("form_id=%d attachment_id=%d", formID, attID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
