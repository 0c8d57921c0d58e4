package auth

import (
	"context"
	"time"
)

// Identity is the authenticated caller. Subject is the user id every
// conversation is scoped to.
type Identity struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type contextKey int

const identityKey contextKey = iota

// FromContext returns the identity the middleware attached, or nil for
// requests to public paths.
func FromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityKey).(*Identity)
	return identity
}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}
