package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NorikGo/tailormp-sub002/pkg/enums"
)

func TestRepositoryRejectsUnbalancedSplit(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, orderSeed{status: enums.OrderStatusPaid})

	err := f.conn.Exec("UPDATE orders SET platform_fee_cents = platform_fee_cents + 1 WHERE id = ?", order.ID).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ck_orders_split")
	assert.Equal(t, order.PlatformFeeCents, f.reload(t, order.ID).PlatformFeeCents)
}

func TestRepositoryRejectsShipmentWithoutTracking(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, orderSeed{status: enums.OrderStatusProcessing})
	order := f.reload(t, seeded.ID)
	ctx := context.Background()

	affected, err := f.repo.UpdateStatus(ctx, order.ID, order.Status, order.Version, map[string]any{
		"status": enums.OrderStatusShipped,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ck_orders_shipped_tracking")
	assert.Zero(t, affected)
	assert.Equal(t, enums.OrderStatusProcessing, f.reload(t, order.ID).Status)

	affected, err = f.repo.UpdateStatus(ctx, order.ID, order.Status, order.Version, map[string]any{
		"status":       enums.OrderStatusShipped,
		"tracking_ref": "1Z999",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
}
