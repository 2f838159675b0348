package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/pkg/enums"
)

// Product is the catalog listing read during checkout. Catalog CRUD lives elsewhere.
type Product struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	TailorID    uuid.UUID      `gorm:"column:tailor_id;type:uuid;not null"`
	Title       string         `gorm:"column:title;not null"`
	Description *string        `gorm:"column:description"`
	PriceCents  int64          `gorm:"column:price_cents;not null"`
	Currency    enums.Currency `gorm:"column:currency;not null;default:'USD'"`
	IsActive    bool           `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string { return "products" }
