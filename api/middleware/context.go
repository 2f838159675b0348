package middleware

import (
	"context"

	"github.com/NorikGo/tailormp-sub002/internal/access"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// WithPrincipal stores the verified caller on the context.
func WithPrincipal(ctx context.Context, p access.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalFromContext returns the caller placed by Auth, if any.
func PrincipalFromContext(ctx context.Context) (access.Principal, bool) {
	if ctx == nil {
		return access.Principal{}, false
	}
	p, ok := ctx.Value(ctxPrincipal).(access.Principal)
	return p, ok
}

// UserIDFromContext returns the caller's user id as a string, or "".
func UserIDFromContext(ctx context.Context) string {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return ""
	}
	return p.UserID.String()
}

// RequirePrincipal returns the caller or an Unauthorized error when the
// route was mounted without Auth.
func RequirePrincipal(ctx context.Context) (access.Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return access.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return p, nil
}
