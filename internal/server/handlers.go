package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/nagare/internal/auth"
	"github.com/ashita-ai/nagare/internal/connector"
	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/service/executor"
	"github.com/ashita-ai/nagare/internal/service/flows"
	"github.com/ashita-ai/nagare/internal/service/runs"
	"github.com/ashita-ai/nagare/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	flows               *flows.Service
	tracker             *runs.Tracker
	executor            *executor.Executor
	registry            *connector.Registry
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker, OpenAPISpec.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	Flows               *flows.Service
	Tracker             *runs.Tracker
	Executor            *executor.Executor
	Registry            *connector.Registry
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		flows:               d.Flows,
		tracker:             d.Tracker,
		executor:            d.Executor,
		registry:            d.Registry,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Subject == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "subject and api_key are required")
		return
	}

	principal, err := h.db.GetPrincipalBySubject(r.Context(), req.Subject)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			h.writeInternalError(w, r, "failed to look up principal", err)
			return
		}
		// Keep timing uniform for unknown subjects.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, principal.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(principal)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	h.logger.Info("token issued", "subject", principal.Subject, "role", principal.Role)

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Postgres: "connected",
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	status := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		resp.Postgres = "disconnected"
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	if h.broker != nil {
		resp.SSEBroker = "running"
	}
	if h.registry != nil {
		resp.Connectors = len(h.registry.Names())
	}

	writeJSON(w, r, status, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// AdminSubject is the principal bootstrapped from the admin API key.
const AdminSubject = "admin"

// SeedAdmin creates or refreshes the admin principal from adminAPIKey.
// An empty key leaves principals untouched.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	if adminAPIKey == "" {
		h.logger.Info("no admin API key configured, skipping admin seed")
		return nil
	}

	if existing, err := h.db.GetPrincipalBySubject(ctx, AdminSubject); err == nil {
		if ok, _ := auth.VerifyAPIKey(adminAPIKey, existing.APIKeyHash); ok && existing.Role == model.RoleAdmin {
			return nil
		}
	} else if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("seed admin: look up principal: %w", err)
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}
	if _, err := h.db.UpsertPrincipal(ctx, AdminSubject, model.RoleAdmin, hash); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	h.logger.Info("seeded admin principal", "subject", AdminSubject)
	return nil
}

// writeInternalError logs err and writes a 500 without exposing details.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// writeServiceError maps a service error to its HTTP response. what names
// the missing entity for generic not-found errors.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error, what string) {
	var (
		validation  *model.ValidationError
		unknownOp   *model.UnknownOperationError
		unsupported *model.UnsupportedActionError
		stepMissing *model.StepNotFoundError
		connMissing *connector.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		writeErrorDetails(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"validation failed", map[string]any{"errors": validation.Problems})
	case errors.As(err, &unknownOp):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, unknownOp.Error())
	case errors.As(err, &unsupported):
		writeErrorDetails(w, r, http.StatusUnprocessableEntity, model.ErrCodeUnsupportedAction,
			unsupported.Error(), map[string]any{"supported_actions": unsupported.Supported})
	case errors.As(err, &stepMissing):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, stepMissing.Error())
	case errors.As(err, &connMissing):
		writeErrorDetails(w, r, http.StatusNotFound, model.ErrCodeNotFound,
			connMissing.Error(), map[string]any{"available_connectors": connMissing.Available})
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, what+" not found")
	default:
		h.writeInternalError(w, r, "internal error", err)
	}
}

// --- Shared helpers ---

func pathInt64(r *http.Request, key string) (int64, error) {
	v := r.PathValue(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return id, nil
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

// maxQueryOffset prevents absurdly large offset values that cause expensive sequential scans.
const maxQueryOffset = 100_000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// queryOffset returns a bounded, non-negative offset from query params.
func queryOffset(r *http.Request) int {
	return min(max(queryInt(r, "offset", 0), 0), maxQueryOffset)
}

// queryLimit returns a limit clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	return min(max(queryInt(r, "limit", defaultVal), 1), maxQueryLimit)
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
