package checkout

import (
	"net/http"

	"github.com/NorikGo/tailormp-sub002/api/middleware"
	"github.com/NorikGo/tailormp-sub002/api/responses"
	"github.com/NorikGo/tailormp-sub002/api/validators"
	checkoutsvc "github.com/NorikGo/tailormp-sub002/internal/checkout"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
)

// CreateSession prices the cart or single item, records a pending order
// and returns the hosted payment page. Replays under the same
// Idempotency-Key are answered by the idempotency middleware.
func CreateSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		p, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createSessionRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateSession(r.Context(), p, p.UserID, payload.toRequest())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// LookupSession backs the return page: GET /checkout/session?session_id=.
func LookupSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		p, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionRef, err := validators.RequiredQuery(r, "session_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.LookupSession(r.Context(), p, sessionRef)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
