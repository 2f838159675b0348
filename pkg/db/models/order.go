package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	"github.com/NorikGo/tailormp-sub002/pkg/types"
)

// Order is the authoritative purchase record driven by the order state machine.
type Order struct {
	ID                   uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID              uuid.UUID         `gorm:"column:owner_id;type:uuid;not null;index"`
	Status               enums.OrderStatus `gorm:"column:status;not null"`
	TotalCents           int64             `gorm:"column:total_cents;not null"`
	PlatformFeeCents     int64             `gorm:"column:platform_fee_cents;not null"`
	TailorAmountCents    int64             `gorm:"column:tailor_amount_cents;not null"`
	Currency             enums.Currency    `gorm:"column:currency;not null"`
	GatewaySessionRef    *string           `gorm:"column:gateway_session_ref;uniqueIndex:ux_orders_gateway_session_ref"`
	SessionExpiresAt     *time.Time        `gorm:"column:session_expires_at"`
	PaymentIntentRef     *string           `gorm:"column:payment_intent_ref;index"`
	ShippingAddress      types.Address     `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	ShippingMethod       string            `gorm:"column:shipping_method;not null"`
	Notes                *string           `gorm:"column:notes"`
	TrackingRef          *string           `gorm:"column:tracking_ref"`
	Carrier              *string           `gorm:"column:carrier"`
	MeasurementSessionID *uuid.UUID        `gorm:"column:measurement_session_id;type:uuid"`
	CheckoutKey          string            `gorm:"column:checkout_key;not null"`
	CartID               *uuid.UUID        `gorm:"column:cart_id;type:uuid"`
	CancelReason         *string           `gorm:"column:cancel_reason"`
	Version              int64             `gorm:"column:version;not null;default:0"`
	Items                []OrderItem       `gorm:"foreignKey:OrderID;references:ID"`
	CreatedAt            time.Time         `gorm:"column:created_at"`
	UpdatedAt            time.Time         `gorm:"column:updated_at"`
	PaidAt               *time.Time        `gorm:"column:paid_at"`
	ShippedAt            *time.Time        `gorm:"column:shipped_at"`
	CompletedAt          *time.Time        `gorm:"column:completed_at"`
	CancelledAt          *time.Time        `gorm:"column:cancelled_at"`
}

func (Order) TableName() string { return "orders" }

// TailorIDs returns the distinct tailors owning lines of the order.
func (o Order) TailorIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(o.Items))
	ids := make([]uuid.UUID, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.TailorID]; ok {
			continue
		}
		seen[item.TailorID] = struct{}{}
		ids = append(ids, item.TailorID)
	}
	return ids
}
