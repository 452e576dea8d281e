package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/nagare/internal/auth"
	"github.com/ashita-ai/nagare/internal/connector"
	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/ratelimit"
	"github.com/ashita-ai/nagare/internal/service/executor"
	"github.com/ashita-ai/nagare/internal/service/flows"
	"github.com/ashita-ai/nagare/internal/service/runs"
	"github.com/ashita-ai/nagare/internal/storage"
)

// Server is the Nagare HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, AuthLimiter, Broker, MCPServer,
// OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	DB       *storage.DB
	JWTMgr   *auth.JWTManager
	Flows    *flows.Service
	Tracker  *runs.Tracker
	Executor *executor.Executor
	Registry *connector.Registry
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter     ratelimit.Limiter
	AuthLimiter ratelimit.Limiter
	Broker      *Broker
	MCPServer   *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	AuthDisabled        bool

	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Flows:               cfg.Flows,
		Tracker:             cfg.Tracker,
		Executor:            cfg.Executor,
		Registry:            cfg.Registry,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	executeRL := ratelimit.Middleware(cfg.Limiter, subjectKeyFunc, rejectRateLimited, cfg.Logger)
	authRL := ratelimit.Middleware(cfg.AuthLimiter, ratelimit.IPKeyFunc, rejectRateLimited, cfg.Logger)

	mux := http.NewServeMux()

	// Token issuance (no auth, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	readRole := requireRole(model.RoleViewer)
	writeRole := requireRole(model.RoleEditor)
	adminOnly := requireRole(model.RoleAdmin)

	// Flow definitions and versions.
	mux.Handle("POST /v1/flows", writeRole(http.HandlerFunc(h.HandleCreateFlow)))
	mux.Handle("GET /v1/flows", readRole(http.HandlerFunc(h.HandleListFlows)))
	mux.Handle("GET /v1/flows/{flow_id}", readRole(http.HandlerFunc(h.HandleGetFlow)))
	mux.Handle("DELETE /v1/flows/{flow_id}", adminOnly(http.HandlerFunc(h.HandleDeleteFlow)))
	mux.Handle("GET /v1/flows/{flow_id}/versions", readRole(http.HandlerFunc(h.HandleListVersions)))
	mux.Handle("POST /v1/flows/{flow_id}/versions", writeRole(http.HandlerFunc(h.HandleCreateVersion)))
	mux.Handle("GET /v1/flows/{flow_id}/versions/{version_no}", readRole(http.HandlerFunc(h.HandleGetVersion)))
	mux.Handle("POST /v1/flows/{flow_id}/modify", writeRole(http.HandlerFunc(h.HandleModifyFlow)))
	mux.Handle("POST /v1/validate", readRole(http.HandlerFunc(h.HandleValidate)))

	// Execution (editor+, rate limited per subject).
	mux.Handle("POST /v1/flows/{flow_id}/execute", writeRole(executeRL(http.HandlerFunc(h.HandleExecuteFlow))))
	mux.Handle("GET /v1/flows/{flow_id}/runs", readRole(http.HandlerFunc(h.HandleListRuns)))
	mux.Handle("GET /v1/runs/{run_id}", readRole(http.HandlerFunc(h.HandleGetRun)))

	// Run change stream (viewer+, long-lived connection).
	mux.Handle("GET /v1/runs/{run_id}/events", readRole(http.HandlerFunc(h.HandleRunEvents)))

	// Connectors.
	mux.Handle("GET /v1/connectors", readRole(http.HandlerFunc(h.HandleListConnectors)))
	mux.Handle("POST /v1/connectors/{name}/test", writeRole(http.HandlerFunc(h.HandleTestConnector)))

	// MCP StreamableHTTP transport (auth required, viewer+). Tools that
	// write check the caller's role themselves.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, cfg.AuthDisabled, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// subjectKeyFunc keys execution rate limits by principal. Admins are exempt.
func subjectKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil || model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return claims.Subject
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "rate limit exceeded")
}

// Handlers returns the underlying Handlers for access to SeedAdmin.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
