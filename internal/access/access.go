// Package access holds the single ownership capability every core operation consults.
package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
)

// Principal is the authenticated caller as asserted by the identity provider.
type Principal struct {
	UserID   uuid.UUID
	Role     enums.Role
	TailorID *uuid.UUID
}

// System is the principal used by background jobs.
var System = Principal{Role: enums.RoleAdmin}

// IsAdmin reports whether the principal bypasses ownership checks.
func (p Principal) IsAdmin() bool {
	return p.Role == enums.RoleAdmin
}

// IsTailor reports whether the principal acts for a tailor business.
func (p Principal) IsTailor() bool {
	return p.Role == enums.RoleTailor && p.TailorID != nil
}

// Validate rejects principals that could not have come from a verified token.
func (p Principal) Validate() error {
	if !p.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "unknown role")
	}
	if p.UserID == uuid.Nil && !p.IsAdmin() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id")
	}
	if p.Role == enums.RoleTailor && p.TailorID == nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "tailor principal requires tailor id")
	}
	return nil
}

// RequireOwner fails with Forbidden unless the principal owns the resource.
func RequireOwner(p Principal, ownerID uuid.UUID) error {
	if p.IsAdmin() {
		return nil
	}
	if ownerID == uuid.Nil || p.UserID != ownerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "resource belongs to another user")
	}
	return nil
}

// RequireTailorOf fails with Forbidden unless the principal is a tailor owning one of the ids.
func RequireTailorOf(p Principal, tailorIDs []uuid.UUID) error {
	if p.IsAdmin() {
		return nil
	}
	if !p.IsTailor() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "tailor role required")
	}
	for _, id := range tailorIDs {
		if id == *p.TailorID {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order has no lines for this tailor")
}

// RequireOwnerOrTailor passes for the owner, a tailor of one of the lines, or an admin.
func RequireOwnerOrTailor(p Principal, ownerID uuid.UUID, tailorIDs []uuid.UUID) error {
	if err := RequireOwner(p, ownerID); err == nil {
		return nil
	}
	return RequireTailorOf(p, tailorIDs)
}

type principalKey struct{}

// WithPrincipal stores the principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal placed by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
