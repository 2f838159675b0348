package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	"github.com/NorikGo/tailormp-sub002/pkg/types"
)

// OrderItemDTO is one receipt line as exposed over HTTP.
type OrderItemDTO struct {
	ID                   uuid.UUID  `json:"id"`
	ProductID            uuid.UUID  `json:"product_id"`
	TailorID             uuid.UUID  `json:"tailor_id"`
	Title                string     `json:"title"`
	Description          *string    `json:"description,omitempty"`
	Quantity             int        `json:"quantity"`
	UnitPriceCents       int64      `json:"unit_price_cents"`
	SubtotalCents        int64      `json:"subtotal_cents"`
	FabricChoice         *string    `json:"fabric_choice,omitempty"`
	Notes                *string    `json:"notes,omitempty"`
	MeasurementSessionID *uuid.UUID `json:"measurement_session_id,omitempty"`
}

// OrderDTO is the order detail returned by the query endpoints.
type OrderDTO struct {
	ID                   uuid.UUID         `json:"id"`
	OwnerID              uuid.UUID         `json:"owner_id"`
	Status               enums.OrderStatus `json:"status"`
	TotalCents           int64             `json:"total_cents"`
	PlatformFeeCents     int64             `json:"platform_fee_cents"`
	TailorAmountCents    int64             `json:"tailor_amount_cents"`
	Currency             enums.Currency    `json:"currency"`
	GatewaySessionRef    *string           `json:"gateway_session_ref,omitempty"`
	PaymentIntentRef     *string           `json:"payment_intent_ref,omitempty"`
	ShippingAddress      types.Address     `json:"shipping_address"`
	ShippingMethod       string            `json:"shipping_method"`
	Notes                *string           `json:"notes,omitempty"`
	TrackingRef          *string           `json:"tracking_ref,omitempty"`
	Carrier              *string           `json:"carrier,omitempty"`
	MeasurementSessionID *uuid.UUID        `json:"measurement_session_id,omitempty"`
	CancelReason         *string           `json:"cancel_reason,omitempty"`
	Items                []OrderItemDTO    `json:"items"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	PaidAt               *time.Time        `json:"paid_at,omitempty"`
	ShippedAt            *time.Time        `json:"shipped_at,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	CancelledAt          *time.Time        `json:"cancelled_at,omitempty"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// ListParams are the query inputs shared by the customer and tailor lists.
type ListParams struct {
	Status *enums.OrderStatus
	Cursor string
	Limit  int
}

// NewOrderDTO maps the stored order to its API shape.
func NewOrderDTO(order *models.Order) OrderDTO {
	return newOrderDTO(order, nil)
}

// newOrderDTO maps the order, keeping only the lines accepted by keep when it is set.
func newOrderDTO(order *models.Order, keep func(models.OrderItem) bool) OrderDTO {
	items := make([]OrderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		if keep != nil && !keep(item) {
			continue
		}
		items = append(items, OrderItemDTO{
			ID:                   item.ID,
			ProductID:            item.ProductID,
			TailorID:             item.TailorID,
			Title:                item.Title,
			Description:          item.Description,
			Quantity:             item.Quantity,
			UnitPriceCents:       item.UnitPriceCents,
			SubtotalCents:        item.SubtotalCents,
			FabricChoice:         item.FabricChoice,
			Notes:                item.Notes,
			MeasurementSessionID: item.MeasurementSessionID,
		})
	}
	return OrderDTO{
		ID:                   order.ID,
		OwnerID:              order.OwnerID,
		Status:               order.Status,
		TotalCents:           order.TotalCents,
		PlatformFeeCents:     order.PlatformFeeCents,
		TailorAmountCents:    order.TailorAmountCents,
		Currency:             order.Currency,
		GatewaySessionRef:    order.GatewaySessionRef,
		PaymentIntentRef:     order.PaymentIntentRef,
		ShippingAddress:      order.ShippingAddress,
		ShippingMethod:       order.ShippingMethod,
		Notes:                order.Notes,
		TrackingRef:          order.TrackingRef,
		Carrier:              order.Carrier,
		MeasurementSessionID: order.MeasurementSessionID,
		CancelReason:         order.CancelReason,
		Items:                items,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
		PaidAt:               order.PaidAt,
		ShippedAt:            order.ShippedAt,
		CompletedAt:          order.CompletedAt,
		CancelledAt:          order.CancelledAt,
	}
}
