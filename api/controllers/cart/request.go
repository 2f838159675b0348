package cart

import (
	"github.com/google/uuid"

	cartsvc "github.com/NorikGo/tailormp-sub002/internal/cart"
)

type addItemRequest struct {
	ProductID            uuid.UUID  `json:"productId" validate:"required"`
	Quantity             int        `json:"quantity"`
	FabricChoice         *string    `json:"fabricChoice,omitempty" validate:"omitempty,max=200"`
	Notes                *string    `json:"notes,omitempty" validate:"omitempty,max=2000"`
	MeasurementSessionID *uuid.UUID `json:"measurementSessionId,omitempty"`
}

func (r addItemRequest) toInput() cartsvc.AddItemInput {
	return cartsvc.AddItemInput{
		ProductID:            r.ProductID,
		Quantity:             r.Quantity,
		FabricChoice:         r.FabricChoice,
		Notes:                r.Notes,
		MeasurementSessionID: r.MeasurementSessionID,
	}
}

// Quantity bounds are left to the service so every entry point reports
// INVALID_QUANTITY the same way.
type updateItemRequest struct {
	Quantity             *int       `json:"quantity,omitempty"`
	FabricChoice         *string    `json:"fabricChoice,omitempty" validate:"omitempty,max=200"`
	Notes                *string    `json:"notes,omitempty" validate:"omitempty,max=2000"`
	MeasurementSessionID *uuid.UUID `json:"measurementSessionId,omitempty"`
}

func (r updateItemRequest) toPatch() cartsvc.ItemPatch {
	return cartsvc.ItemPatch{
		Quantity:             r.Quantity,
		FabricChoice:         r.FabricChoice,
		Notes:                r.Notes,
		MeasurementSessionID: r.MeasurementSessionID,
	}
}
