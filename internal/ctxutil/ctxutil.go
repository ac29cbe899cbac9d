// Package ctxutil carries the authenticated request scope through a
// context. The server's auth middleware writes it; handlers read it back
// without importing server.
package ctxutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/Agenta-AI/agenta-sub004/internal/auth"
)

type claimsKey struct{}

// WithClaims attaches validated token claims to ctx.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims attached by WithClaims, or nil.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// ProjectIDFromContext returns the project every storage call of this
// request is scoped to. uuid.Nil means the request is unauthenticated.
func ProjectIDFromContext(ctx context.Context) uuid.UUID {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.ProjectID
	}
	return uuid.Nil
}

// UserIDFromContext returns the acting user recorded as created_by or
// updated_by on writes.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.UserID()
	}
	return uuid.Nil
}
