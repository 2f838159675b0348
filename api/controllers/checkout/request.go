package checkout

import (
	"github.com/google/uuid"

	checkoutsvc "github.com/NorikGo/tailormp-sub002/internal/checkout"
	"github.com/NorikGo/tailormp-sub002/pkg/types"
)

type itemRequest struct {
	ProductID            uuid.UUID  `json:"productId" validate:"required"`
	Quantity             int        `json:"quantity"`
	FabricChoice         *string    `json:"fabricChoice,omitempty" validate:"omitempty,max=200"`
	Notes                *string    `json:"notes,omitempty" validate:"omitempty,max=2000"`
	MeasurementSessionID *uuid.UUID `json:"measurementSessionId,omitempty"`
}

// createSessionRequest carries exactly one of cartId or item; the service
// enforces that rule and validates the address.
type createSessionRequest struct {
	CartID               *uuid.UUID    `json:"cartId,omitempty"`
	Item                 *itemRequest  `json:"item,omitempty"`
	ShippingAddress      types.Address `json:"shippingAddress"`
	ShippingMethod       string        `json:"shippingMethod" validate:"required,max=64"`
	Notes                *string       `json:"notes,omitempty" validate:"omitempty,max=2000"`
	MeasurementSessionID *uuid.UUID    `json:"measurementSessionId,omitempty"`
}

func (r createSessionRequest) toRequest() checkoutsvc.Request {
	req := checkoutsvc.Request{
		CartID:               r.CartID,
		ShippingAddress:      r.ShippingAddress,
		ShippingMethod:       r.ShippingMethod,
		Notes:                r.Notes,
		MeasurementSessionID: r.MeasurementSessionID,
	}
	if r.Item != nil {
		req.Item = &checkoutsvc.ItemRequest{
			ProductID:            r.Item.ProductID,
			Quantity:             r.Item.Quantity,
			FabricChoice:         r.Item.FabricChoice,
			Notes:                r.Item.Notes,
			MeasurementSessionID: r.Item.MeasurementSessionID,
		}
	}
	return req
}
