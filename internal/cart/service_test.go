package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/internal/access"
	"github.com/NorikGo/tailormp-sub002/internal/catalog"
	"github.com/NorikGo/tailormp-sub002/pkg/db"
	"github.com/NorikGo/tailormp-sub002/pkg/db/dbtest"
	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/outbox"
)

type harness struct {
	conn  *gorm.DB
	repo  CartRepository
	svc   Service
	owner access.Principal
}

func newHarness(t *testing.T, repo func(CartRepository) CartRepository) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	var base CartRepository = NewRepository(conn)
	if repo != nil {
		base = repo(base)
	}
	svc, err := NewService(ServiceParams{
		Repository:        base,
		TransactionRunner: db.NewFromGorm(conn),
		Catalog:           catalog.NewRepository(conn),
		Outbox:            outbox.NewService(outbox.NewRepository(conn), nil),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &harness{
		conn:  conn,
		repo:  base,
		svc:   svc,
		owner: access.Principal{UserID: uuid.New(), Role: enums.RoleCustomer},
	}
}

func (h *harness) product(t *testing.T, priceCents int64, active bool) models.Product {
	t.Helper()
	now := time.Now().UTC()
	product := models.Product{
		ID:         uuid.New(),
		TailorID:   uuid.New(),
		Title:      "Linen shirt",
		PriceCents: priceCents,
		Currency:   enums.CurrencyUSD,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if !active {
		if err := h.conn.Model(&models.Product{}).Where("id = ?", product.ID).Update("is_active", false).Error; err != nil {
			t.Fatalf("deactivate product: %v", err)
		}
	}
	return product
}

func strPtr(v string) *string { return &v }

func TestAddItemMergesIdenticalCustomization(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	product := h.product(t, 12000, true)

	if _, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: product.ID, Quantity: 1, FabricChoice: strPtr("wool")}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	view, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: product.ID, Quantity: 2, FabricChoice: strPtr(" wool "), Notes: strPtr("")})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(view.Items) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(view.Items))
	}
	if view.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", view.Items[0].Quantity)
	}
	if view.SubtotalCents != 36000 {
		t.Fatalf("expected subtotal 36000, got %d", view.SubtotalCents)
	}

	view, err = h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: product.ID, Quantity: 1, FabricChoice: strPtr("linen")})
	if err != nil {
		t.Fatalf("third add: %v", err)
	}
	if len(view.Items) != 2 {
		t.Fatalf("expected a second line for a new customization, got %d", len(view.Items))
	}
	if view.Version != 3 {
		t.Fatalf("expected version 3 after three mutations, got %d", view.Version)
	}
}

func TestAddItemRejectsBadInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	inactive := h.product(t, 5000, false)
	active := h.product(t, 5000, true)

	_, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: active.ID, Quantity: 0})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	_, err = h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: inactive.ID, Quantity: 1})
	if !pkgerrors.IsCode(err, pkgerrors.CodeProductUnavailable) {
		t.Fatalf("expected product unavailable, got %v", err)
	}
	stranger := access.Principal{UserID: uuid.New(), Role: enums.RoleCustomer}
	_, err = h.svc.AddItem(ctx, stranger, h.owner.UserID, AddItemInput{ProductID: active.ID, Quantity: 1})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	view, err := h.svc.Snapshot(ctx, h.owner, h.owner.UserID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if view.ID != nil {
		t.Fatalf("rejected adds must not create a cart")
	}
}

func TestUpdateAndRemoveItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	product := h.product(t, 4550, true)

	view, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: product.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	itemID := view.Items[0].ID

	qty := 0
	if _, err := h.svc.UpdateItem(ctx, h.owner, h.owner.UserID, itemID, ItemPatch{Quantity: &qty}); !pkgerrors.IsCode(err, pkgerrors.CodeInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	qty = 2
	view, err = h.svc.UpdateItem(ctx, h.owner, h.owner.UserID, itemID, ItemPatch{Quantity: &qty, Notes: strPtr("slim fit")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if view.Items[0].Quantity != 2 || view.Items[0].Notes == nil || *view.Items[0].Notes != "slim fit" {
		t.Fatalf("unexpected line after update: %+v", view.Items[0])
	}

	if _, err := h.svc.UpdateItem(ctx, h.owner, h.owner.UserID, uuid.New(), ItemPatch{Quantity: &qty}); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown item, got %v", err)
	}

	view, err = h.svc.RemoveItem(ctx, h.owner, h.owner.UserID, itemID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(view.Items) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(view.Items))
	}
	if _, err := h.svc.RemoveItem(ctx, h.owner, h.owner.UserID, itemID); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.Clear(ctx, h.owner, h.owner.UserID); err != nil {
		t.Fatalf("clear without cart: %v", err)
	}

	product := h.product(t, 1000, true)
	if _, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: product.ID, Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	for i := 0; i < 2; i++ {
		view, err := h.svc.Clear(ctx, h.owner, h.owner.UserID)
		if err != nil {
			t.Fatalf("clear #%d: %v", i+1, err)
		}
		if len(view.Items) != 0 || view.ID == nil {
			t.Fatalf("clear #%d: expected an empty existing cart, got %+v", i+1, view)
		}
	}
}

func TestSnapshotDoesNotCreateCart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	view, err := h.svc.Snapshot(ctx, h.owner, h.owner.UserID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if view.ID != nil || len(view.Items) != 0 {
		t.Fatalf("expected empty view, got %+v", view)
	}
	var count int64
	h.conn.Model(&models.Cart{}).Count(&count)
	if count != 0 {
		t.Fatalf("snapshot created %d carts", count)
	}

	created, err := h.svc.GetOrCreate(ctx, h.owner, h.owner.UserID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	again, err := h.svc.GetOrCreate(ctx, h.owner, h.owner.UserID)
	if err != nil {
		t.Fatalf("get or create again: %v", err)
	}
	if *created.ID != *again.ID {
		t.Fatalf("expected the same cart, got %s and %s", created.ID, again.ID)
	}
}

// racingRepository makes BumpVersion lose the first n claims.
type racingRepository struct {
	CartRepository
	losses *int
}

func (r racingRepository) WithTx(tx *gorm.DB) CartRepository {
	return racingRepository{CartRepository: r.CartRepository.WithTx(tx), losses: r.losses}
}

func (r racingRepository) BumpVersion(ctx context.Context, id uuid.UUID, version int64, now time.Time) (int64, error) {
	if *r.losses > 0 {
		*r.losses--
		return 0, nil
	}
	return r.CartRepository.BumpVersion(ctx, id, version, now)
}

func TestMutationRetriesLostVersionClaims(t *testing.T) {
	t.Parallel()

	losses := 2
	h := newHarness(t, func(base CartRepository) CartRepository {
		return racingRepository{CartRepository: base, losses: &losses}
	})
	product := h.product(t, 1000, true)

	view, err := h.svc.AddItem(context.Background(), h.owner, h.owner.UserID, AddItemInput{ProductID: product.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("expected success on the third attempt, got %v", err)
	}
	if len(view.Items) != 1 {
		t.Fatalf("expected one line, got %d", len(view.Items))
	}

	losses = maxMutationAttempts
	_, err = h.svc.AddItem(context.Background(), h.owner, h.owner.UserID, AddItemInput{ProductID: product.ID, Quantity: 1})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
}

func TestConvertedClearEmitsEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	product := h.product(t, 1000, true)
	view, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: product.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	order := orderFromView(view)
	err = h.conn.Transaction(func(tx *gorm.DB) error {
		if err := h.svc.ConvertedClear(ctx, tx, *view.ID, order); err != nil {
			return err
		}
		return h.svc.ConvertedClear(ctx, tx, uuid.New(), order)
	})
	if err != nil {
		t.Fatalf("converted clear: %v", err)
	}

	after, err := h.svc.Snapshot(ctx, h.owner, h.owner.UserID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(after.Items) != 0 {
		t.Fatalf("expected cart emptied, got %d lines", len(after.Items))
	}
	var events int64
	h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventCartConverted).Count(&events)
	if events != 1 {
		t.Fatalf("expected one cart.converted event, got %d", events)
	}
}

// orderFromView mirrors what checkout snapshots from the cart.
func orderFromView(view *View) *models.Order {
	order := &models.Order{ID: uuid.New()}
	for _, item := range view.Items {
		order.Items = append(order.Items, models.OrderItem{
			ID:                   uuid.New(),
			OrderID:              order.ID,
			ProductID:            item.ProductID,
			Quantity:             item.Quantity,
			UnitPriceCents:       item.UnitPriceCents,
			SubtotalCents:        item.SubtotalCents,
			FabricChoice:         item.FabricChoice,
			Notes:                item.Notes,
			MeasurementSessionID: item.MeasurementSessionID,
		})
	}
	return order
}

func TestConvertedClearKeepsLinesAddedAfterCheckout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	suit := h.product(t, 40000, true)
	shirt := h.product(t, 9000, true)
	tie := h.product(t, 2500, true)

	if _, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: suit.ID, Quantity: 1, FabricChoice: strPtr("wool")}); err != nil {
		t.Fatalf("add suit: %v", err)
	}
	checkedOut, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: shirt.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("add shirt: %v", err)
	}
	order := orderFromView(checkedOut)

	// While the customer is on the payment page they keep shopping.
	if _, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: tie.ID, Quantity: 1}); err != nil {
		t.Fatalf("add tie: %v", err)
	}
	if _, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: shirt.ID, Quantity: 1}); err != nil {
		t.Fatalf("add another shirt: %v", err)
	}
	if _, err := h.svc.AddItem(ctx, h.owner, h.owner.UserID, AddItemInput{ProductID: suit.ID, Quantity: 1, FabricChoice: strPtr("linen")}); err != nil {
		t.Fatalf("add linen suit: %v", err)
	}

	err = h.conn.Transaction(func(tx *gorm.DB) error {
		return h.svc.ConvertedClear(ctx, tx, *checkedOut.ID, order)
	})
	if err != nil {
		t.Fatalf("converted clear: %v", err)
	}

	after, err := h.svc.Snapshot(ctx, h.owner, h.owner.UserID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	left := map[uuid.UUID]int{}
	for _, item := range after.Items {
		left[item.ProductID] += item.Quantity
	}
	if len(after.Items) != 3 {
		t.Fatalf("expected shirt, tie and linen suit to remain, got %d lines", len(after.Items))
	}
	if left[shirt.ID] != 1 {
		t.Fatalf("expected one shirt left after subtracting the ordered two, got %d", left[shirt.ID])
	}
	if left[tie.ID] != 1 {
		t.Fatalf("expected the tie to remain, got %d", left[tie.ID])
	}
	if left[suit.ID] != 1 {
		t.Fatalf("expected only the linen suit to remain, got %d", left[suit.ID])
	}
	for _, item := range after.Items {
		if item.ProductID == suit.ID && (item.FabricChoice == nil || *item.FabricChoice != "linen") {
			t.Fatalf("expected the wool suit to be removed, found %v", item.FabricChoice)
		}
	}
	if after.Version <= checkedOut.Version {
		t.Fatalf("expected version to advance past %d, got %d", checkedOut.Version, after.Version)
	}
}
