package auth

import (
	"context"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	TokenKey     contextKey = "bearer_token"
)

// RoleAdmin grants access to draft maintenance and satisfies every role
// check.
const RoleAdmin = "admin"

// Identity is the caller resolved from a bearer token. Anonymous patients
// have the zero Identity.
type Identity struct {
	UserID string
	Roles  []string
	Token  string
}

// Anonymous reports whether no user is attached.
func (id Identity) Anonymous() bool { return id.UserID == "" }

// HasRole reports whether the identity carries role, or is an admin.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, id.UserID)
	ctx = context.WithValue(ctx, UserRolesKey, id.Roles)
	if id.Token != "" {
		ctx = context.WithValue(ctx, TokenKey, id.Token)
	}
	return ctx
}

// IdentityFromContext collects the identity values set by the middleware.
func IdentityFromContext(ctx context.Context) Identity {
	return Identity{
		UserID: UserIDFromContext(ctx),
		Roles:  RolesFromContext(ctx),
		Token:  TokenFromContext(ctx),
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// TokenFromContext returns the raw bearer token, forwarded to the clinic
// backend on the patient's behalf.
func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(TokenKey).(string)
	return tok
}

// publicPaths bypass authentication, tenant resolution and rate limiting.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
