package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
)

// RequireAvailable loads a product and fails with ProductUnavailable when it is
// missing or deactivated.
func RequireAvailable(ctx context.Context, reader Reader, id uuid.UUID) (*models.Product, error) {
	product, err := reader.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unavailable(id)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !product.IsActive {
		return nil, unavailable(id)
	}
	return product, nil
}

// RequireAllAvailable loads every id and fails on the first missing or inactive product.
func RequireAllAvailable(ctx context.Context, reader Reader, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	products, err := reader.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	for _, id := range ids {
		product, ok := products[id]
		if !ok || !product.IsActive {
			return nil, unavailable(id)
		}
	}
	return products, nil
}

func unavailable(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeProductUnavailable, "product is not available").
		WithDetails(map[string]any{"product_id": id.String()})
}
