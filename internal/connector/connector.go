// Package connector defines the connector contract, the process-wide
// Registry that dispatches step actions, and the built-in connectors.
//
// A connector declares a fixed capability list and dispatches actions by
// name. Expected failures (a missing file, bad SQL, an invalid recipient)
// come back as an error Result; a Go error from Run means the connector
// itself malfunctioned.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
)

// Connector is a named adapter that performs step actions.
type Connector interface {
	Type() string
	Capabilities() []string
	Run(ctx context.Context, action string, params Params) (Result, error)
}

// Status tags a Result as success or error.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the tagged outcome of a connector action. Fields carry the
// action-specific payload and are flattened next to status and message when
// serialized.
type Result struct {
	Status  Status
	Message string
	Fields  map[string]any
}

// Success builds a success result.
func Success(fields map[string]any) Result {
	return Result{Status: StatusSuccess, Fields: fields}
}

// Failure builds an error result with a formatted message.
func Failure(format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// With returns a copy of r with key set in its fields.
func (r Result) With(key string, value any) Result {
	fields := make(map[string]any, len(r.Fields)+1)
	maps.Copy(fields, r.Fields)
	fields[key] = value
	r.Fields = fields
	return r
}

// IsError reports whether the result is an error result.
func (r Result) IsError() bool {
	return r.Status == StatusError
}

// Map flattens the result into the shape persisted as a run step result.
func (r Result) Map() map[string]any {
	out := make(map[string]any, len(r.Fields)+2)
	maps.Copy(out, r.Fields)
	out["status"] = string(r.Status)
	if r.Message != "" {
		out["message"] = r.Message
	}
	return out
}

// MarshalJSON encodes the flattened form.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// Params are the parameters of one step action.
type Params map[string]any

// String returns a string parameter. Non-string scalars are formatted.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	default:
		return fmt.Sprint(s), true
	}
}

// StringOr returns a string parameter or def when it is absent or empty.
func (p Params) StringOr(key, def string) string {
	if s, ok := p.String(key); ok && s != "" {
		return s
	}
	return def
}

// First returns the first non-empty string among keys.
func (p Params) First(keys ...string) string {
	for _, k := range keys {
		if s, ok := p.String(k); ok && s != "" {
			return s
		}
	}
	return ""
}

// Slice returns a list parameter; a single scalar becomes a one-item list.
func (p Params) Slice(key string) []any {
	switch v := p[key].(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// Map returns a nested object parameter.
func (p Params) Map(key string) map[string]any {
	if m, ok := p[key].(map[string]any); ok {
		return m
	}
	return nil
}
