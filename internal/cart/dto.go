package cart

import (
	"time"

	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
)

// AddItemInput is one product request with its customization.
type AddItemInput struct {
	ProductID            uuid.UUID
	Quantity             int
	FabricChoice         *string
	Notes                *string
	MeasurementSessionID *uuid.UUID
}

// ItemPatch changes a line in place. Nil fields are left alone.
type ItemPatch struct {
	Quantity             *int
	FabricChoice         *string
	Notes                *string
	MeasurementSessionID *uuid.UUID
}

// ItemView is a cart line as returned to the owner.
type ItemView struct {
	ID                   uuid.UUID  `json:"id"`
	ProductID            uuid.UUID  `json:"product_id"`
	Quantity             int        `json:"quantity"`
	UnitPriceCents       int64      `json:"unit_price_cents"`
	SubtotalCents        int64      `json:"subtotal_cents"`
	FabricChoice         *string    `json:"fabric_choice,omitempty"`
	Notes                *string    `json:"notes,omitempty"`
	MeasurementSessionID *uuid.UUID `json:"measurement_session_id,omitempty"`
}

// View is the cart snapshot. ID is nil when the owner has never had a cart.
type View struct {
	ID            *uuid.UUID `json:"id,omitempty"`
	OwnerID       uuid.UUID  `json:"owner_id"`
	Version       int64      `json:"version"`
	Items         []ItemView `json:"items"`
	ItemCount     int        `json:"item_count"`
	SubtotalCents int64      `json:"subtotal_cents"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

func emptyView(ownerID uuid.UUID) *View {
	return &View{OwnerID: ownerID, Items: []ItemView{}}
}

func newView(cart *models.Cart) *View {
	id := cart.ID
	updated := cart.UpdatedAt
	view := &View{
		ID:        &id,
		OwnerID:   cart.OwnerID,
		Version:   cart.Version,
		Items:     make([]ItemView, 0, len(cart.Items)),
		UpdatedAt: &updated,
	}
	for _, item := range cart.Items {
		subtotal := item.UnitPriceCents * int64(item.Quantity)
		view.Items = append(view.Items, ItemView{
			ID:                   item.ID,
			ProductID:            item.ProductID,
			Quantity:             item.Quantity,
			UnitPriceCents:       item.UnitPriceCents,
			SubtotalCents:        subtotal,
			FabricChoice:         item.FabricChoice,
			Notes:                item.Notes,
			MeasurementSessionID: item.MeasurementSessionID,
		})
		view.ItemCount += item.Quantity
		view.SubtotalCents += subtotal
	}
	return view
}
