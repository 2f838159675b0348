package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository constructs an order repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

// Create inserts the order row followed by its receipt lines.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit("Items").Create(order).Error; err != nil {
		return err
	}
	return createItems(db, order.ID, order.Items)
}

func createItems(db *gorm.DB, orderID uuid.UUID, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].OrderID = orderID
	}
	return db.Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := preloadItems(r.db.WithContext(ctx)).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindBySessionRef(ctx context.Context, sessionRef string) (*models.Order, error) {
	var order models.Order
	if err := preloadItems(r.db.WithContext(ctx)).Where("gateway_session_ref = ?", sessionRef).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByPaymentIntentRef(ctx context.Context, paymentIntentRef string) (*models.Order, error) {
	var order models.Order
	if err := preloadItems(r.db.WithContext(ctx)).
		Where("payment_intent_ref = ?", paymentIntentRef).
		Order("created_at DESC").
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindReusablePending returns the owner's pending order for the checkout key
// that never obtained a gateway session.
func (r *repository) FindReusablePending(ctx context.Context, ownerID uuid.UUID, checkoutKey string) (*models.Order, error) {
	var order models.Order
	if err := preloadItems(r.db.WithContext(ctx)).
		Where("owner_id = ? AND checkout_key = ? AND status = ? AND gateway_session_ref IS NULL", ownerID, checkoutKey, enums.OrderStatusPending).
		Order("created_at DESC").
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatus applies updates only while the row still has the expected
// status and version. Zero rows affected means another writer got there first.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from enums.OrderStatus, version int64, updates map[string]any) (int64, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND version = ?", id, from, version).
		Updates(values)
	return res.RowsAffected, res.Error
}

// Reprice rewrites the monetary fields and receipt lines of a reusable pending order.
func (r *repository) Reprice(ctx context.Context, order *models.Order, items []models.OrderItem) (int64, error) {
	db := r.db.WithContext(ctx)
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return 0, err
	}
	res := db.Model(&models.Order{}).
		Where("id = ? AND status = ? AND gateway_session_ref IS NULL AND version = ?", order.ID, enums.OrderStatusPending, order.Version).
		Updates(map[string]any{
			"total_cents":            order.TotalCents,
			"platform_fee_cents":     order.PlatformFeeCents,
			"tailor_amount_cents":    order.TailorAmountCents,
			"currency":               order.Currency,
			"shipping_address":       string(address),
			"shipping_method":        order.ShippingMethod,
			"notes":                  order.Notes,
			"measurement_session_id": order.MeasurementSessionID,
			"session_expires_at":     order.SessionExpiresAt,
			"updated_at":             order.UpdatedAt,
			"version":                gorm.Expr("version + 1"),
		})
	if res.Error != nil || res.RowsAffected == 0 {
		return res.RowsAffected, res.Error
	}
	if err := db.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error; err != nil {
		return 0, err
	}
	if err := createItems(db, order.ID, items); err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// SetSessionRef records the gateway session once; a second call never overwrites it.
func (r *repository) SetSessionRef(ctx context.Context, id uuid.UUID, sessionRef string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND gateway_session_ref IS NULL", id).
		Updates(map[string]any{
			"gateway_session_ref": sessionRef,
			"updated_at":          time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) InsertTransition(ctx context.Context, row *models.OrderTransition) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) ListTransitions(ctx context.Context, orderID uuid.UUID) ([]models.OrderTransition, error) {
	var rows []models.OrderTransition
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByOwner(ctx context.Context, q ListQuery) ([]models.Order, error) {
	query := preloadItems(r.db.WithContext(ctx)).Model(&models.Order{}).Where("owner_id = ?", q.OwnerID)
	return r.list(query, q)
}

func (r *repository) ListByTailor(ctx context.Context, q ListQuery) ([]models.Order, error) {
	sub := r.db.Model(&models.OrderItem{}).Select("order_id").Where("tailor_id = ?", q.TailorID)
	query := preloadItems(r.db.WithContext(ctx)).Model(&models.Order{}).Where("id IN (?)", sub)
	return r.list(query, q)
}

func (r *repository) list(query *gorm.DB, q ListQuery) ([]models.Order, error) {
	if q.Status != nil {
		query = query.Where("status = ?", *q.Status)
	}
	if q.Cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", q.Cursor.CreatedAt, q.Cursor.CreatedAt, q.Cursor.ID)
	}
	query = query.Order("created_at DESC").Order("id DESC").Limit(q.Limit)

	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListStalePending returns pending orders created before the cutoff whose
// gateway session, if one was ever requested, has passed its expiry. Oldest first.
func (r *repository) ListStalePending(ctx context.Context, createdBefore, sessionExpiredBefore time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, createdBefore).
		Where("session_expires_at IS NULL OR session_expires_at < ?", sessionExpiredBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
