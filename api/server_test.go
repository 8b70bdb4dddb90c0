package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"icsforms/config"
	"icsforms/core/auth"
	"icsforms/core/bootstrap"
	"icsforms/core/forms"
	"icsforms/core/rbac"
	"icsforms/core/store"
	"icsforms/core/utils"
)

func adminRoles() []store.Role {
	return []store.Role{
		{
			Name:        "admin",
			Description: "Full access",
			Permissions: []string{
				"forms.view", "forms.manage", "forms.approve",
				"incidents.view", "incidents.manage",
				"accounts.manage", "settings.manage", "logs.view",
			},
		},
	}
}

func toPolicyRoles(roles []store.Role) []rbac.Role {
	out := make([]rbac.Role, 0, len(roles))
	for _, role := range roles {
		perms := make([]rbac.Permission, 0, len(role.Permissions))
		for _, p := range role.Permissions {
			perms = append(perms, rbac.Permission(p))
		}
		out = append(out, rbac.Role{Name: role.Name, Permissions: perms})
	}
	return out
}

func newAPITestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(dir, "test.db"),
		CSRFKey:  "test-csrf-key",
		Pepper:   "test-pepper",
		Forms:    config.FormsConfig{MaxSubjectChars: 140, MaxBodyChars: 4000},
		Storage:  config.StorageConfig{AttachmentsDir: filepath.Join(dir, "attachments")},
	}
	logger := utils.NewLogger()
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
	if err := users.EnsureBuiltinRoles(ctx, adminRoles()); err != nil {
		t.Fatalf("ensure roles: %v", err)
	}
	if err := bootstrap.EnsureDefaultAdmin(ctx, users, cfg, logger); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	roles, err := users.ListRoles(ctx)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	policy := rbac.NewPolicy(toPolicyRoles(roles))

	sessions := store.NewSessionsStore(db)
	audits := store.NewAuditStore(db)
	srv := NewServer(ServerDeps{
		Config:         cfg,
		Users:          users,
		Sessions:       sessions,
		Incidents:      store.NewIncidentsStore(db),
		Attachments:    store.NewAttachmentsStore(db),
		Settings:       store.NewSettingsStore(db),
		Audits:         audits,
		FormsSvc:       forms.NewService(cfg, store.NewFormsStore(db), audits, logger),
		SessionManager: auth.NewSessionManager(sessions, cfg, logger),
		Policy:         policy,
		RefreshPolicy:  func() {},
		Logger:         logger,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

type apiClient struct {
	t    *testing.T
	base string
	http *http.Client
	csrf string
}

func newAPIClient(t *testing.T, ts *httptest.Server) *apiClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &apiClient{t: t, base: ts.URL, http: &http.Client{Jar: jar}}
}

func (c *apiClient) do(method, path string, body any) (*http.Response, map[string]json.RawMessage) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (c *apiClient) login(username, password string) *http.Response {
	c.t.Helper()
	resp, body := c.do(http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	if resp.StatusCode == http.StatusOK {
		var token string
		if err := json.Unmarshal(body["csrf_token"], &token); err != nil || token == "" {
			c.t.Fatalf("login response missing csrf token: %v", err)
		}
		c.csrf = token
	}
	return resp
}

func TestHealthzNeedsNoSession(t *testing.T) {
	ts := newAPITestServer(t)
	resp, err := http.Get(ts.URL + "/api/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestFormsRequireSession(t *testing.T) {
	ts := newAPITestServer(t)
	resp, err := http.Get(ts.URL + "/api/forms/")
	if err != nil {
		t.Fatalf("get forms: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAdminJourneyThroughFormLifecycle(t *testing.T) {
	ts := newAPITestServer(t)
	client := newAPIClient(t, ts)

	if resp := client.login(bootstrap.DefaultAdminUsername, "wrong-password"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad credentials: expected 401, got %d", resp.StatusCode)
	}
	if resp := client.login(bootstrap.DefaultAdminUsername, "icsforms-admin"); resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}

	// The shipped default password forces a change before anything else.
	resp, _ := client.do(http.MethodGet, "/api/forms/", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("password gate: expected 403, got %d", resp.StatusCode)
	}
	resp, _ = client.do(http.MethodPost, "/api/auth/change-password", map[string]string{
		"current_password": "icsforms-admin",
		"password":         "Operations2026",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change password: expected 200, got %d", resp.StatusCode)
	}

	payload := map[string]any{
		"form_type": "ics213",
		"payload": map[string]string{
			"to":           "Planning Section Chief",
			"from":         "Ops Section Chief",
			"subject":      "Road closure on Route 9",
			"message_date": "2026-08-25",
			"body":         "Route 9 closed at mile marker 12 due to flooding.",
		},
	}
	resp, body := client.do(http.MethodPost, "/api/forms/", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create form: expected 201, got %d", resp.StatusCode)
	}
	var created store.Form
	if err := json.Unmarshal(body["form"], &created); err != nil {
		t.Fatalf("decode created form: %v", err)
	}
	if created.State != "draft" || created.Version != 1 {
		t.Fatalf("expected draft v1, got %s v%d", created.State, created.Version)
	}

	invalid := map[string]any{
		"form_type": "ics213",
		"payload":   map[string]string{"to": "Plans"},
	}
	resp, body = client.do(http.MethodPost, "/api/forms/", invalid)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid payload: expected 422, got %d", resp.StatusCode)
	}
	var verrs map[string]string
	if err := json.Unmarshal(body["errors"], &verrs); err != nil || verrs["subject"] == "" {
		t.Fatalf("expected subject validation error, got %v %v", verrs, err)
	}

	formPath := fmt.Sprintf("/api/forms/%d", created.ID)
	resp, body = client.do(http.MethodPost, formPath+"/approve", map[string]any{"version": 1})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("approve without signature: expected 422, got %d", resp.StatusCode)
	}
	resp, body = client.do(http.MethodPost, formPath+"/approve", map[string]any{"version": 1, "by": "Incident Commander"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", resp.StatusCode)
	}
	var approved store.Form
	if err := json.Unmarshal(body["form"], &approved); err != nil {
		t.Fatalf("decode approved form: %v", err)
	}
	if approved.State != "approved" || approved.ApprovedAt == nil {
		t.Fatalf("expected approved with timestamp, got %+v", approved)
	}

	resp, _ = client.do(http.MethodPost, formPath+"/transmit", map[string]any{"version": approved.Version})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transmit: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = client.do(http.MethodPost, formPath+"/approve", map[string]any{"by": "IC"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-approve transmitted form: expected 409, got %d", resp.StatusCode)
	}

	resp, body = client.do(http.MethodGet, formPath+"/versions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("versions: expected 200, got %d", resp.StatusCode)
	}
	var versions []store.FormVersion
	if err := json.Unmarshal(body["items"], &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 snapshots after create+approve+transmit, got %d", len(versions))
	}
}

func TestStateChangingRequestNeedsCSRF(t *testing.T) {
	ts := newAPITestServer(t)
	client := newAPIClient(t, ts)
	if resp := client.login(bootstrap.DefaultAdminUsername, "icsforms-admin"); resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	client.csrf = ""
	resp, _ := client.do(http.MethodPost, "/api/auth/change-password", map[string]string{
		"current_password": "icsforms-admin",
		"password":         "Operations2026",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf header, got %d", resp.StatusCode)
	}
}
