package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	"github.com/NorikGo/tailormp-sub002/pkg/pagination"
)

// Repository defines the persistence surface required by the order services.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindBySessionRef(ctx context.Context, sessionRef string) (*models.Order, error)
	FindByPaymentIntentRef(ctx context.Context, paymentIntentRef string) (*models.Order, error)
	FindReusablePending(ctx context.Context, ownerID uuid.UUID, checkoutKey string) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from enums.OrderStatus, version int64, updates map[string]any) (int64, error)
	Reprice(ctx context.Context, order *models.Order, items []models.OrderItem) (int64, error)
	SetSessionRef(ctx context.Context, id uuid.UUID, sessionRef string) (int64, error)
	InsertTransition(ctx context.Context, row *models.OrderTransition) error
	ListTransitions(ctx context.Context, orderID uuid.UUID) ([]models.OrderTransition, error)
	ListByOwner(ctx context.Context, query ListQuery) ([]models.Order, error)
	ListByTailor(ctx context.Context, query ListQuery) ([]models.Order, error)
	ListStalePending(ctx context.Context, createdBefore, sessionExpiredBefore time.Time, limit int) ([]models.Order, error)
}

// ListQuery scopes a keyset-paginated order listing.
type ListQuery struct {
	OwnerID  uuid.UUID
	TailorID uuid.UUID
	Status   *enums.OrderStatus
	Cursor   *pagination.Cursor
	Limit    int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
