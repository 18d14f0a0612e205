// Package auth carries caller identity through request contexts and issues
// and validates the bearer tokens that establish it.
package auth

import (
	"context"
	"slices"

	"opsplane/internal/store"

	"github.com/google/uuid"
)

// RoleAdmin may act on any device of its tenant.
const RoleAdmin = "admin"

// Principal is the authenticated caller of a request.
// Device is set when the caller is a device acting for itself.
type Principal struct {
	TenantID    uuid.UUID
	Username    string
	Roles       []string
	Permissions []string
	Device      *store.DeviceIdentifier
}

// HasRole reports whether the principal holds role.
func (p *Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// HasPermission reports whether the principal was granted permission.
func (p *Principal) HasPermission(permission string) bool {
	return slices.Contains(p.Permissions, permission)
}

// System returns the identity used by scheduled tasks. It has no username,
// so operations it adds are attributed to "system".
func System(tenantID uuid.UUID) *Principal {
	return &Principal{TenantID: tenantID}
}

type principalKey struct{}

// WithPrincipal returns a new context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the caller from the context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
