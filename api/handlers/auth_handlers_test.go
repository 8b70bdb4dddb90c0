package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"icsforms/config"
	"icsforms/core/auth"
	"icsforms/core/bootstrap"
	"icsforms/core/rbac"
	"icsforms/core/store"
)

func newAuthFixture(t *testing.T) (*AuthHandler, store.UsersStore) {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "test.db"),
		Pepper:   "unit-test-pepper",
	}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, "sqlite", nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	users := store.NewUsersStore(db)
	if err := users.EnsureBuiltinRoles(ctx, []store.Role{
		{Name: "admin", Permissions: []string{"forms.view", "forms.manage"}},
	}); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	if err := bootstrap.EnsureDefaultAdmin(ctx, users, cfg, nil); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	sessions := store.NewSessionsStore(db)
	policy := rbac.NewPolicy([]rbac.Role{
		{Name: "admin", Permissions: []rbac.Permission{"forms.view", "forms.manage"}},
	})
	sm := auth.NewSessionManager(sessions, cfg, nil)
	h := NewAuthHandler(cfg, users, sessions, sm, policy, store.NewAuditStore(db), nil)
	return h, users
}

func postLogin(t *testing.T, h *AuthHandler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		t.Fatalf("marshal credentials: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Login(rr, req)
	return rr
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	h, users := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if rr := postLogin(t, h, "admin", "wrong-password"); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}
	rr := postLogin(t, h, "admin", "wrong-password")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected lock on fifth failure, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "account locked until") {
		t.Fatalf("expected lock message, got %q", rr.Body.String())
	}

	// Correct credentials do not bypass an active lock.
	if rr := postLogin(t, h, "admin", "icsforms-admin"); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 while locked, got %d", rr.Code)
	}

	user, _, err := users.FindByUsername(ctx, "admin")
	if err != nil || user == nil {
		t.Fatalf("lookup admin: %v", err)
	}
	if user.LockedUntil == nil {
		t.Fatalf("expected locked_until to be recorded")
	}

	past := time.Now().UTC().Add(-time.Minute)
	user.LockedUntil = &past
	if err := users.Update(ctx, user, nil); err != nil {
		t.Fatalf("expire lock: %v", err)
	}

	rr = postLogin(t, h, "admin", "icsforms-admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected login after lock expiry, got %d: %s", rr.Code, rr.Body.String())
	}

	user, _, err = users.FindByUsername(ctx, "admin")
	if err != nil || user == nil {
		t.Fatalf("lookup admin after login: %v", err)
	}
	if user.LockedUntil != nil || user.FailedAttempts != 0 {
		t.Fatalf("expected lock state cleared, got until=%v attempts=%d", user.LockedUntil, user.FailedAttempts)
	}
}

func TestLoginFailureCounterResetsOnSuccess(t *testing.T) {
	h, users := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if rr := postLogin(t, h, "admin", "wrong-password"); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}
	if rr := postLogin(t, h, "admin", "icsforms-admin"); rr.Code != http.StatusOK {
		t.Fatalf("expected login, got %d: %s", rr.Code, rr.Body.String())
	}
	user, _, err := users.FindByUsername(ctx, "admin")
	if err != nil || user == nil {
		t.Fatalf("lookup admin: %v", err)
	}
	if user.FailedAttempts != 0 {
		t.Fatalf("expected failed attempts reset, got %d", user.FailedAttempts)
	}
}
