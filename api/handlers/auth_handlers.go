package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"icsforms/config"
	"icsforms/core/auth"
	"icsforms/core/bootstrap"
	"icsforms/core/rbac"
	"icsforms/core/store"
	"icsforms/core/utils"
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 15 * time.Minute
)

type AuthHandler struct {
	cfg            *config.AppConfig
	users          store.UsersStore
	sessions       store.SessionStore
	sessionManager *auth.SessionManager
	policy         *rbac.Policy
	audits         store.AuditStore
	logger         *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, users store.UsersStore, sessions store.SessionStore, sm *auth.SessionManager, policy *rbac.Policy, audits store.AuditStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, sessions: sessions, sessionManager: sm, policy: policy, audits: audits, logger: logger}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	// Safety net: always ensure default admin exists before processing logins.
	if err := bootstrap.EnsureDefaultAdmin(r.Context(), h.users, h.cfg, h.logger); err != nil && h.logger != nil {
		h.logger.Errorf("ensure default admin: %v", err)
	}
	var cred auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	cred.Username = strings.ToLower(strings.TrimSpace(cred.Username))
	if err := utils.ValidateUsername(cred.Username); err != nil {
		http.Error(w, "invalid username", http.StatusBadRequest)
		return
	}
	user, roles, err := h.users.FindByUsername(r.Context(), cred.Username)
	if err != nil || user == nil || !user.Active {
		h.audits.Log(r.Context(), cred.Username, "auth.login_failed", "user missing or inactive")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	now := time.Now().UTC()
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		h.audits.Log(r.Context(), cred.Username, "auth.login_blocked", "locked until "+user.LockedUntil.Format(time.RFC3339))
		http.Error(w, "account locked until "+user.LockedUntil.Format("2006-01-02 15:04"), http.StatusForbidden)
		return
	}
	if user.LockedUntil != nil && now.After(*user.LockedUntil) {
		user.LockedUntil = nil
		user.FailedAttempts = 0
	}
	ph, _ := auth.ParsePasswordHash(user.PasswordHash, user.Salt)
	ok, err := auth.VerifyPassword(cred.Password, h.cfg.Pepper, ph)
	if err != nil || !ok {
		user.FailedAttempts++
		if user.FailedAttempts >= maxFailedAttempts {
			until := now.Add(lockoutDuration)
			user.LockedUntil = &until
			user.FailedAttempts = 0
			_ = h.users.Update(r.Context(), user, nil)
			h.audits.Log(r.Context(), cred.Username, "auth.lockout", "too many failed attempts")
			http.Error(w, "account locked until "+until.Format("2006-01-02 15:04"), http.StatusForbidden)
			return
		}
		_ = h.users.Update(r.Context(), user, nil)
		h.audits.Log(r.Context(), cred.Username, "auth.login_failed", "invalid password")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	sess, err := h.sessionManager.Create(r.Context(), user, roles, clientIP(r, h.cfg), r.UserAgent())
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("auth login session create failed for %s: %v", cred.Username, err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	user.LastLoginAt = &now
	user.FailedAttempts = 0
	user.LockedUntil = nil
	_ = h.users.Update(r.Context(), user, nil)
	h.audits.Log(r.Context(), user.Username, "auth.login_success", "")
	cookieSecure := isSecureRequest(r, h.cfg)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    sess.CSRFToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       h.userDTO(user, roles),
		"csrf_token": sess.CSRFToken,
		"session":    sess,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	actor := ""
	if ctxSess := r.Context().Value(auth.SessionContextKey); ctxSess != nil {
		actor = ctxSess.(*store.SessionRecord).Username
	}
	if err == nil && cookie.Value != "" {
		_ = h.sessions.DeleteSession(r.Context(), cookie.Value, actor)
	}
	cookieSecure := isSecureRequest(r, h.cfg)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.audits.Log(r.Context(), actor, "auth.logout", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	now := time.Now().UTC()
	_ = h.sessions.UpdateActivity(r.Context(), sr.ID, now, h.cfg.EffectiveSessionTTL())
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "last_seen_at": now})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	user, roles, err := h.users.FindByUsername(r.Context(), sr.Username)
	if err != nil || user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       h.userDTO(user, roles),
		"csrf_token": sr.CSRFToken,
	})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sr := r.Context().Value(auth.SessionContextKey).(*store.SessionRecord)
	var payload struct {
		Current  string `json:"current_password"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	user, _, err := h.users.Get(r.Context(), sr.UserID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := utils.ValidatePassword(payload.Password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if user.PasswordSet {
		phCurrent, _ := auth.ParsePasswordHash(user.PasswordHash, user.Salt)
		ok, _ := auth.VerifyPassword(payload.Current, h.cfg.Pepper, phCurrent)
		if !ok {
			http.Error(w, "current password is invalid", http.StatusBadRequest)
			return
		}
	}
	ph, err := auth.HashPassword(payload.Password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	user.PasswordHash = ph.Hash
	user.Salt = ph.Salt
	user.RequirePasswordChange = false
	if err := h.users.Update(r.Context(), user, nil); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "auth.password_changed", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) userDTO(user *store.User, roles []string) auth.UserDTO {
	return auth.UserDTO{
		ID:                    user.ID,
		Username:              user.Username,
		FullName:              user.FullName,
		ICSPosition:           user.ICSPosition,
		HomeAgency:            user.HomeAgency,
		Roles:                 roles,
		Active:                user.Active,
		RequirePasswordChange: user.RequirePasswordChange,
		Permissions:           h.policy.RolePermissions(roles),
	}
}
