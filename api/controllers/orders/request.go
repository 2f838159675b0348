package orders

import (
	"net/http"
	"strings"

	"github.com/NorikGo/tailormp-sub002/api/validators"
	internalorders "github.com/NorikGo/tailormp-sub002/internal/orders"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/pagination"
)

type cancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type shipRequest struct {
	TrackingRef string `json:"trackingRef" validate:"required,max=128"`
	Carrier     string `json:"carrier" validate:"required,max=64"`
}

func parseListParams(r *http.Request) (internalorders.ListParams, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return internalorders.ListParams{}, err
	}
	params := internalorders.ListParams{
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		Limit:  limit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return internalorders.ListParams{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").
				WithDetails(map[string]any{"field": "status"})
		}
		params.Status = &status
	}
	return params, nil
}
