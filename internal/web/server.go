// Package web serves the HydroFirma site: public pages, the auth flows, the
// dashboard behind the route guard and the admin panel behind the admin gate.
package web

import (
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"hydrofirma/internal/admin"
	"hydrofirma/internal/audit"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/observability"
	"hydrofirma/internal/profile"
	"hydrofirma/internal/sensors"
	"hydrofirma/internal/session"
	assets "hydrofirma/web"
)

var errNoClient = errors.New("no client session on request")

// AuthRateLimit bounds sign-in and sign-up submissions per client IP.
type AuthRateLimit struct {
	PerMinute float64
	Burst     int
}

// Options wires a Server. Registry, Identity, Profiles and CookieSecret are
// required.
type Options struct {
	Registry *session.Registry
	Identity *identity.Service
	Profiles profile.Store
	Admin    *admin.Service
	Audit    audit.Logger
	Sensors  *sensors.Simulator
	Metrics  *observability.Metrics
	Logger   observability.Logger

	CookieSecret  []byte
	SecureCookies bool
	IdleTimeout   time.Duration
	RateLimit     RateLimitConfig
	AuthRateLimit AuthRateLimit
}

// Server is the HTTP front end.
type Server struct {
	mux       *http.ServeMux
	handler   http.Handler
	templates map[string]*template.Template
	flashes   *sessions.CookieStore

	registry *session.Registry
	identity *identity.Service
	profiles profile.Store
	admin    *admin.Service
	sensors  *sensors.Simulator
	metrics  *observability.Metrics
	logger   observability.Logger

	secureCookies bool
	idleTimeout   time.Duration
	authLimit     Middleware
}

// New builds the Server and registers its routes.
func New(opts Options) (*Server, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("web: registry is required")
	case opts.Identity == nil:
		return nil, errors.New("web: identity service is required")
	case opts.Profiles == nil:
		return nil, errors.New("web: profile store is required")
	case len(opts.CookieSecret) == 0:
		return nil, errors.New("web: cookie secret is required")
	}
	templates, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	logger = logger.WithComponent("web")
	adm := opts.Admin
	if adm == nil {
		adm = admin.NewService(opts.Profiles, admin.Options{Audit: opts.Audit, Logger: logger, Now: opts.Identity.Now})
	}
	sim := opts.Sensors
	if sim == nil {
		sim = sensors.NewSimulator(nil)
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = session.DefaultIdleTimeout
	}

	s := &Server{
		mux:           http.NewServeMux(),
		templates:     templates,
		flashes:       newFlashStore(opts.CookieSecret, opts.SecureCookies),
		registry:      opts.Registry,
		identity:      opts.Identity,
		profiles:      opts.Profiles,
		admin:         adm,
		sensors:       sim,
		metrics:       opts.Metrics,
		logger:        logger,
		secureCookies: opts.SecureCookies,
		idleTimeout:   idle,
		authLimit:     AuthRateLimitMiddleware(opts.AuthRateLimit.PerMinute, opts.AuthRateLimit.Burst, opts.Metrics),
	}
	s.routes()
	s.handler = ApplyMiddlewares(s.mux,
		opts.Metrics.Middleware,
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		RateLimitMiddleware(opts.RateLimit, logger, opts.Metrics),
		CSRFMiddleware(opts.SecureCookies),
	)
	return s, nil
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() {
	static, _ := fs.Sub(assets.Static, "static")
	s.handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	s.handle("GET /healthz", http.HandlerFunc(s.handleHealth))
	if s.metrics != nil {
		s.handle("GET /metrics", s.metrics.Handler())
	}

	s.page("GET /{$}", s.handleIndex)
	s.page("GET /signin", s.handleSignInForm)
	s.page("POST /signin", s.handleSignIn, s.authLimit)
	s.page("GET /signup", s.handleSignUpForm)
	s.page("POST /signup", s.handleSignUp, s.authLimit)
	s.page("POST /signout", s.handleSignOut)
	s.page("GET /forgot-password", s.handleForgotPasswordForm)
	s.page("POST /forgot-password", s.handleForgotPassword, s.authLimit)
	s.page("GET /reset-password", s.handleResetPasswordForm)
	s.page("POST /reset-password", s.handleResetPassword, s.authLimit)
	s.page("GET /verify-email", s.handleVerifyEmail)

	s.page("GET /dashboard", s.handleDashboard, s.requireSignIn)
	s.page("GET /settings", s.handleSettings, s.requireSignIn)
	s.page("POST /settings/profile", s.handleUpdateProfile, s.requireSignIn)
	s.page("POST /settings/email", s.handleUpdateEmail, s.requireSignIn)
	s.page("POST /settings/password", s.handleUpdatePassword, s.requireSignIn)
	s.page("POST /settings/verify", s.handleSendVerification, s.requireSignIn)

	s.page("GET /admin", s.handleAdmin, s.requireSignIn)
	s.page("POST /admin/users/{id}/role", s.handleToggleRole, s.requireSignIn)
	s.page("POST /admin/users/{id}/delete", s.handleDeleteProfile, s.requireSignIn)

	s.page("GET /api/v1/session", s.handleAPISession)
	s.page("GET /api/v1/role", s.handleAPIRole, s.requireSignIn)
	s.page("GET /api/v1/sensors", s.handleAPISensors, s.requireSignIn)
}

// handle registers h and tags the metrics route label before any
// middleware clones the request.
func (s *Server) handle(pattern string, h http.Handler, mws ...Middleware) {
	inner := ApplyMiddlewares(h, mws...)
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observability.TagRoute(r)
		inner.ServeHTTP(w, r)
	}))
}

// page registers a route that needs the browser's session.
func (s *Server) page(pattern string, h http.HandlerFunc, mws ...Middleware) {
	s.handle(pattern, h, append([]Middleware{s.withClient}, mws...)...)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.registry.Len(),
	})
}
