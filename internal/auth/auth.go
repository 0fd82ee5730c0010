// Package auth establishes the caller's identity from a bearer token.
package auth

import (
	"context"
	"strings"
)

// Identity is the authenticated caller. TenantID scopes every stored record and engine.
type Identity struct {
	TenantID string `json:"id"`
	Email    string `json:"email"`
}

// Verifier turns a bearer token into an Identity or a KindAuthentication error
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.TenantID != ""
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
