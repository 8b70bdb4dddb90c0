package api

import (
	"context"
	"net/http"
	"time"

	"icsforms/api/handlers"
	"icsforms/api/routegroups"
	"icsforms/config"
	"icsforms/core/auth"
	"icsforms/core/forms"
	"icsforms/core/rbac"
	"icsforms/core/store"
	"icsforms/core/utils"

	"github.com/go-chi/chi/v5"
)

// BackgroundWorker is anything the server starts alongside the listener
// and stops during shutdown.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context) error
	StopWithContext(ctx context.Context) error
}

type ServerDeps struct {
	Config         *config.AppConfig
	Users          store.UsersStore
	Sessions       store.SessionStore
	Incidents      store.IncidentsStore
	Attachments    store.AttachmentsStore
	Settings       store.SettingsStore
	Audits         store.AuditStore
	FormsSvc       *forms.Service
	SessionManager *auth.SessionManager
	Policy         *rbac.Policy
	RefreshPolicy  func()
	Logger         *utils.Logger
	Workers        []BackgroundWorker
}

type Server struct {
	cfg            *config.AppConfig
	users          store.UsersStore
	sessions       store.SessionStore
	incidents      store.IncidentsStore
	attachments    store.AttachmentsStore
	settings       store.SettingsStore
	audits         store.AuditStore
	formsSvc       *forms.Service
	sessionManager *auth.SessionManager
	policy         *rbac.Policy
	refreshPolicy  func()
	logger         *utils.Logger
	workers        []BackgroundWorker

	activityTracker *sessionActivity
	httpServer      *http.Server
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		cfg:             deps.Config,
		users:           deps.Users,
		sessions:        deps.Sessions,
		incidents:       deps.Incidents,
		attachments:     deps.Attachments,
		settings:        deps.Settings,
		audits:          deps.Audits,
		formsSvc:        deps.FormsSvc,
		sessionManager:  deps.SessionManager,
		policy:          deps.Policy,
		refreshPolicy:   deps.RefreshPolicy,
		logger:          deps.Logger,
		workers:         deps.Workers,
		activityTracker: newSessionActivity(),
	}
}

type routeHandlers struct {
	auth        *handlers.AuthHandler
	accounts    *handlers.AccountsHandler
	forms       *handlers.FormsHandler
	attachments *handlers.AttachmentsHandler
	incidents   *handlers.IncidentsHandler
	settings    *handlers.SettingsHandler
	logs        *handlers.LogsHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		auth:        handlers.NewAuthHandler(s.cfg, s.users, s.sessions, s.sessionManager, s.policy, s.audits, s.logger),
		accounts:    handlers.NewAccountsHandler(s.cfg, s.users, s.policy, s.audits, s.logger, s.refreshPolicy),
		forms:       handlers.NewFormsHandler(s.cfg, s.formsSvc, s.policy, s.audits, s.logger),
		attachments: handlers.NewAttachmentsHandler(s.cfg, s.formsSvc.Store(), s.attachments, s.audits, s.logger),
		incidents:   handlers.NewIncidentsHandler(s.cfg, s.incidents, s.policy, s.audits, s.logger),
		settings:    handlers.NewSettingsHandler(s.settings, s.audits),
		logs:        handlers.NewLogsHandler(s.audits),
	}
}

func (s *Server) Router() http.Handler {
	h := s.newRouteHandlers()
	g := routegroups.Guards{
		WithSession: s.withSession,
		Require:     s.requirePermission,
		RequireAny:  s.requireAnyPermission,
	}

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.loggingMiddleware)

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)

		apiRouter.MethodFunc("GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		apiRouter.Route("/auth", func(authRouter chi.Router) {
			authRouter.MethodFunc("POST", "/login", s.rateLimitMiddleware(h.auth.Login))
			authRouter.MethodFunc("POST", "/logout", g.SessionOnly(h.auth.Logout))
			authRouter.MethodFunc("POST", "/ping", g.SessionOnly(h.auth.Ping))
			authRouter.MethodFunc("GET", "/me", g.SessionOnly(h.auth.Me))
			authRouter.MethodFunc("POST", "/change-password", g.SessionOnly(h.auth.ChangePassword))
		})

		apiRouter.Route("/users", func(usersRouter chi.Router) {
			usersRouter.MethodFunc("GET", "/", g.SessionPerm("accounts.manage", h.accounts.List))
			usersRouter.MethodFunc("POST", "/", g.SessionPerm("accounts.manage", h.accounts.Create))
			usersRouter.MethodFunc("GET", "/roles", g.SessionPerm("accounts.manage", h.accounts.ListRoles))
			usersRouter.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm("accounts.manage", h.accounts.Get))
			usersRouter.MethodFunc("PUT", "/{id:[0-9]+}", g.SessionPerm("accounts.manage", h.accounts.Update))
			usersRouter.MethodFunc("DELETE", "/{id:[0-9]+}", g.SessionPerm("accounts.manage", h.accounts.Deactivate))
		})

		routegroups.RegisterForms(apiRouter, g, h.forms, h.attachments)
		routegroups.RegisterIncidents(apiRouter, g, h.incidents)

		apiRouter.Route("/settings", func(settingsRouter chi.Router) {
			settingsRouter.MethodFunc("GET", "/", g.SessionPerm("settings.manage", h.settings.All))
			settingsRouter.MethodFunc("GET", "/{key}", g.SessionPerm("settings.manage", h.settings.Get))
			settingsRouter.MethodFunc("PUT", "/{key}", g.SessionPerm("settings.manage", h.settings.Set))
			settingsRouter.MethodFunc("DELETE", "/{key}", g.SessionPerm("settings.manage", h.settings.Delete))
		})

		apiRouter.MethodFunc("GET", "/logs", g.SessionPerm("logs.view", h.logs.List))
	})

	return r
}

func (s *Server) Start(ctx context.Context) error {
	for _, worker := range s.workers {
		if err := worker.StartWithContext(ctx); err != nil {
			return err
		}
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Printf("listening on %s", s.cfg.ListenAddr)
	var err error
	if s.cfg.TLSEnabled {
		err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	for _, worker := range s.workers {
		if err := worker.StopWithContext(ctx); err != nil && s.logger != nil {
			s.logger.Warnf("worker stop: %v", err)
		}
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
