package middleware

import (
	"context"
)

type contextKey string

const (
	ContextKeyToken contextKey = "session_token"
	ContextKeyOwner contextKey = "owner"
)

// TokenFromContext returns the upstream bearer token of the request.
func TokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyToken).(string)
	return v, ok && v != ""
}

// OwnerFromContext returns the identity the session token belongs to.
func OwnerFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyOwner).(string)
	return v, ok && v != ""
}

// WithSession returns ctx carrying the session token and its owner.
func WithSession(ctx context.Context, token, owner string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyToken, token)
	return context.WithValue(ctx, ContextKeyOwner, owner)
}
