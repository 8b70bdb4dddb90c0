package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"icsforms/api"
	"icsforms/config"
	"icsforms/core/auth"
	"icsforms/core/bootstrap"
	"icsforms/core/forms"
	"icsforms/core/rbac"
	"icsforms/core/retention"
	"icsforms/core/store"
	"icsforms/core/utils"
)

func builtinRoles() []store.Role {
	return []store.Role{
		{
			Name:        "admin",
			Description: "Full access, including accounts and settings",
			Permissions: []string{
				"forms.view", "forms.manage", "forms.approve",
				"incidents.view", "incidents.manage",
				"accounts.manage", "settings.manage", "logs.view",
			},
		},
		{
			Name:        "operator",
			Description: "Works forms and incidents",
			Permissions: []string{
				"forms.view", "forms.manage", "forms.approve",
				"incidents.view", "incidents.manage", "logs.view",
			},
		},
		{
			Name:        "viewer",
			Description: "Read-only access to forms and incidents",
			Permissions: []string{"forms.view", "incidents.view"},
		},
	}
}

func policyRoles(roles []store.Role) []rbac.Role {
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

func main() {
	configPath := flag.String("config", "", "path to YAML config (env-only when empty)")
	flag.Parse()

	logger := utils.NewLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg, logger)
	if err != nil {
		logger.Errorf("open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.DBDriver, logger); err != nil {
		logger.Errorf("apply migrations: %v", err)
		os.Exit(1)
	}

	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	incidents := store.NewIncidentsStore(db)
	attachments := store.NewAttachmentsStore(db)
	settings := store.NewSettingsStore(db)
	audits := store.NewAuditStore(db)
	formsStore := store.NewFormsStoreWithVersionLimit(db, cfg.Forms.VersionLimit)

	if err := users.EnsureBuiltinRoles(ctx, builtinRoles()); err != nil {
		logger.Errorf("ensure builtin roles: %v", err)
		os.Exit(1)
	}
	if err := bootstrap.EnsureDefaultAdmin(ctx, users, cfg, logger); err != nil {
		logger.Errorf("ensure default admin: %v", err)
		os.Exit(1)
	}

	roles, err := users.ListRoles(ctx)
	if err != nil {
		logger.Errorf("list roles: %v", err)
		os.Exit(1)
	}
	policy := rbac.NewPolicy(policyRoles(roles))
	refreshPolicy := func() {
		current, err := users.ListRoles(context.Background())
		if err != nil {
			logger.Errorf("refresh policy: %v", err)
			return
		}
		policy.Reload(policyRoles(current))
	}

	formsSvc := forms.NewService(cfg, formsStore, audits, logger)
	sessionManager := auth.NewSessionManager(sessions, cfg, logger)
	sweeper := retention.NewSweeper(cfg, formsStore, sessions, audits, logger)

	server := api.NewServer(api.ServerDeps{
		Config:         cfg,
		Users:          users,
		Sessions:       sessions,
		Incidents:      incidents,
		Attachments:    attachments,
		Settings:       settings,
		Audits:         audits,
		FormsSvc:       formsSvc,
		SessionManager: sessionManager,
		Policy:         policy,
		RefreshPolicy:  refreshPolicy,
		Logger:         logger,
		Workers:        []api.BackgroundWorker{sweeper},
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Errorf("server: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
