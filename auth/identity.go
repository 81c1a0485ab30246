package auth

import (
	"context"
	"slices"
	"time"
)

// Method names the credential that established an Identity.
type Method string

const (
	MethodAnonymous Method = "anonymous"
	MethodAPIKey    Method = "api_key"
	MethodJWT       Method = "jwt"
)

// Identity is the authenticated caller of the admin API.
type Identity struct {
	// Subject is the API key id or the token's subject claim.
	Subject string
	Method  Method
	Roles   []string
	// ExpiresAt is zero for credentials that never expire.
	ExpiresAt time.Time
}

// HasRole reports whether role was granted to the identity.
func (id *Identity) HasRole(role string) bool {
	return id != nil && slices.Contains(id.Roles, role)
}

// Anonymous is the identity given to requests when authentication is off.
func Anonymous() *Identity {
	return &Identity{Subject: "anonymous", Method: MethodAnonymous}
}

type identityKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by NewContext, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// SubjectFromContext returns the subject of the identity in ctx, or "".
func SubjectFromContext(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.Subject
	}
	return ""
}
