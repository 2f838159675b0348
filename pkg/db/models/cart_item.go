package models

import (
	"time"

	"github.com/google/uuid"
)

// CartItem is one requested product with its add-time price and customization.
type CartItem struct {
	ID                   uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CartID               uuid.UUID  `gorm:"column:cart_id;type:uuid;not null;index"`
	ProductID            uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	Quantity             int        `gorm:"column:quantity;not null"`
	UnitPriceCents       int64      `gorm:"column:unit_price_cents;not null"`
	FabricChoice         *string    `gorm:"column:fabric_choice"`
	Notes                *string    `gorm:"column:notes"`
	MeasurementSessionID *uuid.UUID `gorm:"column:measurement_session_id;type:uuid"`
	Position             int        `gorm:"column:position;not null;default:0"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

func (CartItem) TableName() string { return "cart_items" }
