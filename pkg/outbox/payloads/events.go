package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/pkg/enums"
)

// TailorPayout is one tailor's share of an order's tailor amount.
type TailorPayout struct {
	TailorID      uuid.UUID `json:"tailor_id"`
	SubtotalCents int64     `json:"subtotal_cents"`
	PayoutCents   int64     `json:"payout_cents"`
}

// OrderCreatedEvent is emitted when checkout persists a pending order.
type OrderCreatedEvent struct {
	OrderID           uuid.UUID      `json:"order_id"`
	OwnerID           uuid.UUID      `json:"owner_id"`
	CartID            *uuid.UUID     `json:"cart_id,omitempty"`
	Currency          enums.Currency `json:"currency"`
	TotalCents        int64          `json:"total_cents"`
	PlatformFeeCents  int64          `json:"platform_fee_cents"`
	TailorAmountCents int64          `json:"tailor_amount_cents"`
	Payouts           []TailorPayout `json:"payouts"`
}

// OrderStatusChangedEvent is emitted for every accepted transition.
type OrderStatusChangedEvent struct {
	OrderID        uuid.UUID               `json:"order_id"`
	OwnerID        uuid.UUID               `json:"owner_id"`
	TailorIDs      []uuid.UUID             `json:"tailor_ids"`
	FromStatus     enums.OrderStatus       `json:"from_status"`
	ToStatus       enums.OrderStatus       `json:"to_status"`
	Trigger        enums.TransitionTrigger `json:"trigger"`
	GatewayEventID *string                 `json:"gateway_event_id,omitempty"`
	Reason         *string                 `json:"reason,omitempty"`
	ChangedAt      time.Time               `json:"changed_at"`
}

// CartConvertedEvent is emitted when a paid order clears the cart it came from.
type CartConvertedEvent struct {
	CartID  uuid.UUID `json:"cart_id"`
	OwnerID uuid.UUID `json:"owner_id"`
	OrderID uuid.UUID `json:"order_id"`
}
