// Package ctxutil provides shared context key accessors.
//
// The server's auth middleware stores claims here and the MCP tools read
// them back. server imports mcp, so neither can own the key.
package ctxutil

import (
	"context"

	"github.com/ashita-ai/nagare/internal/auth"
	"github.com/ashita-ai/nagare/internal/model"
)

type contextKey string

const keyClaims contextKey = "claims"

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// SubjectFromContext returns the caller's principal name, or "" when the
// context carries no claims.
func SubjectFromContext(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.Name
	}
	return ""
}

// HasRole reports whether the caller holds at least role min.
func HasRole(ctx context.Context, min model.Role) bool {
	c := ClaimsFromContext(ctx)
	return c != nil && model.RoleAtLeast(c.Role, min)
}
