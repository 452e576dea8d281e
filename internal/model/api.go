package model

import "time"

// APIResponse wraps all successful JSON responses.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError wraps all error JSON responses.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ResponseMeta contains request metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Standard error codes.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeUnsupportedAction = "UNSUPPORTED_ACTION"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Subject string `json:"subject"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateVersionRequest replaces a flow's step list wholesale.
type CreateVersionRequest struct {
	Steps       []Step  `json:"steps"`
	Description *string `json:"description,omitempty"`
	Author      string  `json:"author,omitempty"`
}

// ExecuteRequest is the request body for POST /v1/flows/{flow_id}/execute.
type ExecuteRequest struct {
	VersionNo *int `json:"version_no,omitempty"`
}

// ExecuteResponse is returned after an execution request.
type ExecuteResponse struct {
	RunID      int64      `json:"run_id"`
	FlowID     int64      `json:"flow_id"`
	VersionNo  int        `json:"version_no"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// ValidateResponse is returned by POST /v1/validate.
type ValidateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ListResponse is a page of items with a total count.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Postgres   string `json:"postgres"`
	SSEBroker  string `json:"sse_broker,omitempty"`
	Connectors int    `json:"connectors"`
	Uptime     int64  `json:"uptime_seconds"`
}

// TestConnectorRequest optionally runs one action during a connector test.
type TestConnectorRequest struct {
	Action string         `json:"action,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}
