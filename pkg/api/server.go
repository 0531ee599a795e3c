package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Permission codes that guard the administrative routes.
const (
	PermissionView   = "permission.view"
	PermissionGrant  = "permission.grant"
	PermissionRevoke = "permission.revoke"
)

// Deps are the collaborators of a Server. Authenticator, Sessions,
// Permissions and Gateway are required.
type Deps struct {
	Authenticator Authenticator
	Sessions      SessionLister
	Permissions   PermissionService
	Gateway       *middleware.Gateway

	// LoginLimiter throttles POST /auth/login per client IP. Nil disables
	// throttling.
	LoginLimiter middleware.Limiter
	LoginLimit   middleware.RateLimitConfig

	Health   *observability.HealthChecker
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Logger   *observability.Logger

	// RequestTimeout bounds the context of every request. Zero disables it.
	RequestTimeout time.Duration

	// TracerProvider overrides the global provider for server spans.
	TracerProvider trace.TracerProvider
}

// Server is the HTTP surface of the authorization core.
type Server struct {
	deps    Deps
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		logger: observability.OrNop(deps.Logger),
	}
	s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RequestContext(s.logger),
		httputil.Recovery,
		httputil.Logging,
		httputil.Timeout(deps.RequestTimeout),
	)
	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + s.routeTemplate(r)
		}),
	}
	if deps.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(deps.TracerProvider))
	}
	s.handler = otelhttp.NewHandler(chain(s.router), "turnstile", opts...)
	return s
}

// routeTemplate names r by its route template so IDs and permission codes in
// the path stay out of span names.
func (s *Server) routeTemplate(r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if tmpl, err := match.Route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	g := s.deps.Gateway

	// Operational routes
	if s.deps.Health != nil {
		s.deps.Health.RegisterRoutes(s.router)
	}
	if s.deps.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.deps.Registry)).Methods(http.MethodGet)
	}

	// Authentication routes
	login := http.Handler(http.HandlerFunc(s.login))
	if s.deps.LoginLimiter != nil {
		login = middleware.RateLimit(s.deps.LoginLimiter, s.deps.LoginLimit, s.logger)(login)
	}
	s.router.Handle("/auth/login", login).Methods(http.MethodPost)
	s.router.HandleFunc("/auth/refresh", s.refresh).Methods(http.MethodPost)

	s.handle("/auth/logout", s.logout, http.MethodPost, g.Authenticate)
	s.handle("/auth/logout-all", s.logoutAll, http.MethodPost, g.Authenticate)
	s.handle("/auth/sessions", s.listSessions, http.MethodGet, g.Authenticate)
	s.handle("/auth/sessions/{id}", s.revokeSession, http.MethodDelete, g.Authenticate)
	s.handle("/auth/me/permissions", s.myPermissions, http.MethodGet, g.Authenticate)

	// Permission administration routes
	s.handle("/permissions/hierarchy", s.permissionHierarchy, http.MethodGet, g.RequirePermission(PermissionView))
	s.handle("/permissions/templates", s.listTemplates, http.MethodGet, g.RequirePermission(PermissionView))
	s.handle("/users/{id}/permissions", s.userPermissions, http.MethodGet, g.RequirePermission(PermissionView))
	s.handle("/users/{id}/permissions", s.grantPermissions, http.MethodPost, g.RequirePermission(PermissionGrant))
	s.handle("/users/{id}/permissions", s.revokePermissions, http.MethodDelete, g.RequirePermission(PermissionRevoke))
	s.handle("/users/{id}/permissions/temporary", s.grantTemporary, http.MethodPost, g.RequireSensitive(PermissionGrant))
	s.handle("/users/{id}/permissions/clone", s.clonePermissions, http.MethodPost, g.RequirePermission(PermissionGrant))
	s.handle("/users/{id}/permissions/templates/{name}", s.applyTemplate, http.MethodPost, g.RequirePermission(PermissionGrant))
	s.handle("/users/{id}/permissions/requirements/{code}", s.permissionRequirements, http.MethodGet, g.RequirePermission(PermissionView))
}

func (s *Server) handle(path string, h http.HandlerFunc, method string, guard mux.MiddlewareFunc) {
	s.router.Handle(path, guard(h)).Methods(method)
}

// Router exposes the router so callers can mount extra routes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
