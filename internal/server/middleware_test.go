package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/nagare/internal/auth"
	"github.com/ashita-ai/nagare/internal/connector"
	"github.com/ashita-ai/nagare/internal/ctxutil"
	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/ratelimit"
	"github.com/ashita-ai/nagare/internal/storage"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.APIError {
	t.Helper()
	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"subject": ctxutil.SubjectFromContext(r.Context())})
})

func TestRequestIDMiddleware(t *testing.T) {
	h := requestIDMiddleware(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := rec.Header().Get("X-Request-ID")
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))

	var body model.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "caller-id", body.Meta.RequestID)
}

func TestAuthMiddleware(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	h := authMiddleware(mgr, false, okHandler)

	t.Run("public path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/flows", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, model.ErrCodeUnauthorized, decodeError(t, rec).Error.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/flows", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/flows", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, _, err := mgr.IssueToken(model.Principal{ID: uuid.New(), Subject: "ops", Role: model.RoleEditor})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/v1/flows", nil)
		req.Header.Set("Authorization", "bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"subject":"ops"`)
	})
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	h := authMiddleware(nil, true, requireRole(model.RoleAdmin)(okHandler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/flows/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"subject":"anonymous"`)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		role model.Role
		want int
	}{
		{model.RoleViewer, http.StatusForbidden},
		{model.RoleEditor, http.StatusOK},
		{model.RoleAdmin, http.StatusOK},
	}
	h := requireRole(model.RoleEditor)(okHandler)
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/flows", nil)
			req = req.WithContext(ctxutil.WithClaims(req.Context(), &auth.Claims{Name: "x", Role: tt.role}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/flows", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(testLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, model.ErrCodeInternalError, decodeError(t, rec).Error.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	securityHeadersMiddleware(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestLoggingRecordsSubject(t *testing.T) {
	var seen *statusWriter
	h := loggingMiddleware(testLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recordSubject(w, "ops")
		seen = w.(*statusWriter)
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, seen)
	assert.Equal(t, "ops", seen.subject)
	assert.Equal(t, http.StatusTeapot, seen.statusCode)
}

func TestExecuteRateLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 2)
	defer func() { _ = limiter.Close() }()

	h := ratelimit.Middleware(limiter, subjectKeyFunc, rejectRateLimited, testLogger())(okHandler)
	call := func(role model.Role) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/flows/1/execute", nil)
		claims := &auth.Claims{Name: "ops", Role: role}
		claims.Subject = "7d0d2c9e-0000-0000-0000-000000000001"
		req = req.WithContext(ctxutil.WithClaims(req.Context(), claims))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call(model.RoleEditor).Code)
	assert.Equal(t, http.StatusOK, call(model.RoleEditor).Code)
	rec := call(model.RoleEditor)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, model.ErrCodeRateLimited, decodeError(t, rec).Error.Code)

	// Admins are exempt.
	assert.Equal(t, http.StatusOK, call(model.RoleAdmin).Code)
}

func TestDecodeJSON(t *testing.T) {
	var target model.ExecuteRequest

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"version_no":2}`))
	require.NoError(t, decodeJSON(rec, req, &target, 1024))
	assert.Equal(t, 2, *target.VersionNo)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	assert.Error(t, decodeJSON(rec, req, &target, 1024))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{} {}`))
	assert.Error(t, decodeJSON(rec, req, &target, 1024))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"version_no":`+strings.Repeat("1", 64)+`}`))
	err := decodeJSON(rec, req, &target, 16)
	require.Error(t, err)
	handleDecodeError(rec, req, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWriteServiceError(t *testing.T) {
	h := &Handlers{logger: testLogger()}
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &model.ValidationError{Problems: []string{"Missing flow name"}}, http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"unknown op", &model.UnknownOperationError{Operation: "swap"}, http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"unsupported", &model.UnsupportedActionError{Connector: "sql", Action: "drop", Supported: []string{"query"}}, http.StatusUnprocessableEntity, model.ErrCodeUnsupportedAction},
		{"step missing", &model.StepNotFoundError{StepID: "s9"}, http.StatusNotFound, model.ErrCodeNotFound},
		{"connector missing", &connector.NotFoundError{Name: "ftp", Available: []string{"sql"}}, http.StatusNotFound, model.ErrCodeNotFound},
		{"flow missing", fmt.Errorf("wrapped: %w", storage.ErrFlowNotFound), http.StatusNotFound, model.ErrCodeNotFound},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, model.ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, "flow")
			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotContains(t, body.Error.Message, "disk on fire")
		})
	}
}

func TestWriteServiceErrorDetails(t *testing.T) {
	h := &Handlers{logger: testLogger()}
	rec := httptest.NewRecorder()
	h.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		&model.ValidationError{Problems: []string{"Step 0 missing ID", "Step 0 missing name"}}, "flow")
	assert.JSONEq(t, `{"errors":["Step 0 missing ID","Step 0 missing name"]}`,
		mustJSON(t, decodeError(t, rec).Error.Details))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestRunFinished(t *testing.T) {
	assert.True(t, runFinished(formatSSE("nagare_runs", `{"run_id":1,"flow_id":2,"status":"completed"}`)))
	assert.True(t, runFinished(formatSSE("nagare_runs", `{"run_id":1,"flow_id":2,"status":"failed"}`)))
	assert.False(t, runFinished(formatSSE("nagare_runs", `{"run_id":1,"flow_id":2,"step_id":"s1","status":"failed"}`)))
	assert.False(t, runFinished(formatSSE("nagare_runs", `{"run_id":1,"flow_id":2,"status":"running"}`)))
	assert.False(t, runFinished([]byte(":keepalive\n\n")))
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=5000&offset=-3&async=true", nil)
	assert.Equal(t, maxQueryLimit, queryLimit(req, 50))
	assert.Equal(t, 0, queryOffset(req))
	assert.True(t, queryBool(req, "async"))

	req = httptest.NewRequest(http.MethodGet, "/?limit=0", nil)
	assert.Equal(t, 1, queryLimit(req, 50))
}
