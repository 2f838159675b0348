package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/pkg/db"
	"github.com/NorikGo/tailormp-sub002/pkg/db/dbtest"
	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	"github.com/NorikGo/tailormp-sub002/pkg/outbox"
	"github.com/NorikGo/tailormp-sub002/pkg/types"
)

type fixture struct {
	conn *gorm.DB
	repo Repository
	svc  Service
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewService(ServiceParams{
		Repository:        repo,
		TransactionRunner: db.NewFromGorm(conn),
		Outbox:            outbox.NewService(outbox.NewRepository(conn), nil),
		Clock:             func() time.Time { return now },
	})
	require.NoError(t, err)
	return &fixture{conn: conn, repo: repo, svc: svc, now: now}
}

type orderSeed struct {
	ownerID   uuid.UUID
	tailorIDs []uuid.UUID
	status    enums.OrderStatus
	createdAt time.Time
	paid      bool
}

func (f *fixture) seed(t *testing.T, s orderSeed) *models.Order {
	t.Helper()
	if s.ownerID == uuid.Nil {
		s.ownerID = uuid.New()
	}
	if len(s.tailorIDs) == 0 {
		s.tailorIDs = []uuid.UUID{uuid.New()}
	}
	if s.status == "" {
		s.status = enums.OrderStatusPending
	}
	if s.createdAt.IsZero() {
		s.createdAt = f.now.Add(-time.Hour)
	}

	order := &models.Order{
		ID:              uuid.New(),
		OwnerID:         s.ownerID,
		Status:          s.status,
		Currency:        enums.CurrencyUSD,
		ShippingAddress: types.Address{RecipientName: "Ada", Line1: "1 Savile Row", City: "London", PostalCode: "W1S", Country: "GB"},
		ShippingMethod:  "standard",
		CheckoutKey:     "item:" + uuid.NewString(),
		CreatedAt:       s.createdAt,
		UpdatedAt:       s.createdAt,
	}
	for i, tailorID := range s.tailorIDs {
		order.Items = append(order.Items, models.OrderItem{
			ID:             uuid.New(),
			ProductID:      uuid.New(),
			TailorID:       tailorID,
			Title:          "Suit",
			Quantity:       1,
			UnitPriceCents: 10000,
			SubtotalCents:  10000,
			Position:       i,
			CreatedAt:      s.createdAt,
		})
		order.TotalCents += 10000
	}
	order.PlatformFeeCents = order.TotalCents * 4 / 10
	order.TailorAmountCents = order.TotalCents - order.PlatformFeeCents
	if s.paid || (s.status != enums.OrderStatusPending && s.status != enums.OrderStatusCancelled) {
		paidAt := s.createdAt.Add(time.Minute)
		order.PaidAt = &paidAt
	}
	require.NoError(t, f.repo.Create(context.Background(), order))
	return order
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func (f *fixture) countOutbox(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}
