package middleware

import (
	"net/http"
	"strings"

	"github.com/NorikGo/tailormp-sub002/api/responses"
	"github.com/NorikGo/tailormp-sub002/internal/access"
	pkgAuth "github.com/NorikGo/tailormp-sub002/pkg/auth"
	"github.com/NorikGo/tailormp-sub002/pkg/config"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
)

// Auth verifies the bearer token issued by the identity provider and seeds
// the request context with the resulting principal. Identity is never read
// from request bodies or query strings.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			principal := access.Principal{
				UserID:   claims.UserID,
				Role:     claims.Role,
				TailorID: claims.TailorID,
			}
			if err := principal.Validate(); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
				ctx = logg.WithActorRole(ctx, string(claims.Role))
				if claims.TailorID != nil {
					ctx = logg.WithField(ctx, "tailor_id", claims.TailorID.String())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	raw := strings.TrimSpace(header)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return ""
}
