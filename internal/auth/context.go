package auth

import "context"

type identityKey struct{}

// Identity is the verified caller of a request.
type Identity struct {
	Subject string
	Role    Role
	Yard    string
}

// WithIdentity stores the caller in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller, if the request was authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// SubjectOr returns the caller's subject or fallback for anonymous requests.
func SubjectOr(ctx context.Context, fallback string) string {
	if id, ok := IdentityFromContext(ctx); ok && id.Subject != "" {
		return id.Subject
	}
	return fallback
}
