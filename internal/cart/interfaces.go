package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	BumpVersion(ctx context.Context, id uuid.UUID, version int64, now time.Time) (int64, error)
	ForceBump(ctx context.Context, id uuid.UUID, now time.Time) error
	InsertItem(ctx context.Context, item *models.CartItem) error
	UpdateItem(ctx context.Context, cartID, itemID uuid.UUID, updates map[string]any) (int64, error)
	DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (int64, error)
	DeleteItems(ctx context.Context, cartID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
