// Package auth carries the already-authenticated caller identity through a request.
// The engine never authenticates; the gateway in front of it does.
package auth

import (
	"context"

	"ojcore/pkg/utils/contextkey"
)

// RoleAdmin grants access to every submission and contest.
const RoleAdmin = "admin"

// Principal is the verified caller supplied by the identity provider.
type Principal struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Anonymous reports whether no user identity was supplied.
func (p Principal) Anonymous() bool {
	return p.UserID <= 0
}

// CanAccessOwned reports whether the principal may read a resource owned by ownerID.
func (p Principal) CanAccessOwned(ownerID int64) bool {
	return p.IsAdmin() || (!p.Anonymous() && p.UserID == ownerID)
}

// WithPrincipal stores the principal in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, contextkey.UserID, p.UserID)
	return context.WithValue(ctx, contextkey.UserRole, p.Role)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	id, ok := ctx.Value(contextkey.UserID).(int64)
	if !ok {
		return Principal{}, false
	}
	role, _ := ctx.Value(contextkey.UserRole).(string)
	return Principal{UserID: id, Role: role}, true
}
