package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/api/middleware"
	"github.com/NorikGo/tailormp-sub002/api/responses"
	"github.com/NorikGo/tailormp-sub002/api/validators"
	"github.com/NorikGo/tailormp-sub002/internal/access"
	internalorders "github.com/NorikGo/tailormp-sub002/internal/orders"
	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
)

// ListCustomer returns the caller's own orders, newest first.
func ListCustomer(query internalorders.QueryService, logg *logger.Logger) http.HandlerFunc {
	return listHandler(query, logg, func(ctx context.Context, p access.Principal, params internalorders.ListParams) (*internalorders.OrderList, error) {
		return query.ListForCustomer(ctx, p, params)
	})
}

// ListTailor returns orders containing the calling tailor's lines.
func ListTailor(query internalorders.QueryService, logg *logger.Logger) http.HandlerFunc {
	return listHandler(query, logg, func(ctx context.Context, p access.Principal, params internalorders.ListParams) (*internalorders.OrderList, error) {
		return query.ListForTailor(ctx, p, params)
	})
}

type listFunc func(ctx context.Context, p access.Principal, params internalorders.ListParams) (*internalorders.OrderList, error)

func listHandler(query internalorders.QueryService, logg *logger.Logger, list listFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if query == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order query service unavailable"))
			return
		}
		p, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := parseListParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := list(r.Context(), p, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePage(w, page.Orders, page.NextCursor)
	}
}

// Detail returns one order as visible to the caller.
func Detail(query internalorders.QueryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if query == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order query service unavailable"))
			return
		}
		p, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.URLParamUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := query.Get(r.Context(), p, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// Cancel accepts an optional {"reason"} body.
func Cancel(svc internalorders.Service, query internalorders.QueryService, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, query, logg, func(w http.ResponseWriter, r *http.Request, p access.Principal, id uuid.UUID) (*models.Order, error) {
		var payload cancelRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
				return nil, err
			}
		}
		return svc.Cancel(r.Context(), p, id, payload.Reason)
	})
}

func MarkProcessing(svc internalorders.Service, query internalorders.QueryService, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, query, logg, func(w http.ResponseWriter, r *http.Request, p access.Principal, id uuid.UUID) (*models.Order, error) {
		return svc.MarkProcessing(r.Context(), p, id)
	})
}

// Ship requires {"trackingRef","carrier"}.
func Ship(svc internalorders.Service, query internalorders.QueryService, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, query, logg, func(w http.ResponseWriter, r *http.Request, p access.Principal, id uuid.UUID) (*models.Order, error) {
		var payload shipRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			return nil, err
		}
		return svc.Ship(r.Context(), p, id, internalorders.ShipInput{
			TrackingRef: payload.TrackingRef,
			Carrier:     payload.Carrier,
		})
	})
}

func Deliver(svc internalorders.Service, query internalorders.QueryService, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, query, logg, func(w http.ResponseWriter, r *http.Request, p access.Principal, id uuid.UUID) (*models.Order, error) {
		return svc.Deliver(r.Context(), p, id)
	})
}

type lifecycleAction func(w http.ResponseWriter, r *http.Request, p access.Principal, id uuid.UUID) (*models.Order, error)

// lifecycleHandler runs the action and answers with the order as the
// caller is allowed to see it, so a tailor never receives other
// tailors' lines.
func lifecycleHandler(svc internalorders.Service, query internalorders.QueryService, logg *logger.Logger, action lifecycleAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || query == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		p, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.URLParamUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		if _, err := action(w, r.WithContext(ctx), p, orderID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		dto, err := query.Get(ctx, p, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}
