package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem is an immutable receipt line captured at checkout.
type OrderItem struct {
	ID                   uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID              uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID            uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	TailorID             uuid.UUID  `gorm:"column:tailor_id;type:uuid;not null;index"`
	Title                string     `gorm:"column:title;not null"`
	Description          *string    `gorm:"column:description"`
	Quantity             int        `gorm:"column:quantity;not null"`
	UnitPriceCents       int64      `gorm:"column:unit_price_cents;not null"`
	SubtotalCents        int64      `gorm:"column:subtotal_cents;not null"`
	FabricChoice         *string    `gorm:"column:fabric_choice"`
	Notes                *string    `gorm:"column:notes"`
	MeasurementSessionID *uuid.UUID `gorm:"column:measurement_session_id;type:uuid"`
	Position             int        `gorm:"column:position;not null;default:0"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
}

func (OrderItem) TableName() string { return "order_items" }
