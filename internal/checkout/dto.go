package checkout

import (
	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/internal/orders"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	"github.com/NorikGo/tailormp-sub002/pkg/types"
)

// ItemRequest checks out a single product without a cart.
type ItemRequest struct {
	ProductID            uuid.UUID
	Quantity             int
	FabricChoice         *string
	Notes                *string
	MeasurementSessionID *uuid.UUID
}

// Request opens a checkout for exactly one of CartID or Item.
type Request struct {
	CartID               *uuid.UUID
	Item                 *ItemRequest
	ShippingAddress      types.Address
	ShippingMethod       string
	Notes                *string
	MeasurementSessionID *uuid.UUID
}

// SessionResult is returned once the hosted payment page exists.
type SessionResult struct {
	SessionReference string    `json:"sessionReference"`
	OrderID          uuid.UUID `json:"orderId"`
	URL              string    `json:"url"`
}

// LookupResult pairs an order with the gateway's view of its payment.
type LookupResult struct {
	Order         orders.OrderDTO     `json:"order"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatus"`
}

// line is a resolved purchase line before pricing.
type line struct {
	ProductID            uuid.UUID
	Quantity             int
	CapturedPriceCents   *int64
	FabricChoice         *string
	Notes                *string
	MeasurementSessionID *uuid.UUID
}
