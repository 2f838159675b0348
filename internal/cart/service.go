package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/internal/access"
	"github.com/NorikGo/tailormp-sub002/internal/catalog"
	dbpkg "github.com/NorikGo/tailormp-sub002/pkg/db"
	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
	"github.com/NorikGo/tailormp-sub002/pkg/outbox"
	"github.com/NorikGo/tailormp-sub002/pkg/outbox/payloads"
)

const maxMutationAttempts = 3

var errVersionConflict = errors.New("cart version changed")

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service exposes the owner's cart. Every call checks the caller owns it.
type Service interface {
	GetOrCreate(ctx context.Context, principal access.Principal, ownerID uuid.UUID) (*View, error)
	Snapshot(ctx context.Context, principal access.Principal, ownerID uuid.UUID) (*View, error)
	AddItem(ctx context.Context, principal access.Principal, ownerID uuid.UUID, input AddItemInput) (*View, error)
	UpdateItem(ctx context.Context, principal access.Principal, ownerID, itemID uuid.UUID, patch ItemPatch) (*View, error)
	RemoveItem(ctx context.Context, principal access.Principal, ownerID, itemID uuid.UUID) (*View, error)
	Clear(ctx context.Context, principal access.Principal, ownerID uuid.UUID) (*View, error)
	ConvertedClear(ctx context.Context, tx *gorm.DB, cartID uuid.UUID, order *models.Order) error
}

// ServiceParams wires the cart service.
type ServiceParams struct {
	Repository        CartRepository
	TransactionRunner txRunner
	Catalog           catalog.Reader
	Outbox            outboxEmitter
	Logger            *logger.Logger
	Clock             func() time.Time
}

type service struct {
	repo    CartRepository
	tx      txRunner
	catalog catalog.Reader
	outbox  outboxEmitter
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds a cart service backed by the provided stack.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart repository required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog reader required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:    params.Repository,
		tx:      params.TransactionRunner,
		catalog: params.Catalog,
		outbox:  params.Outbox,
		logg:    logg,
		now:     func() time.Time { return clock().UTC() },
	}, nil
}

func (s *service) GetOrCreate(ctx context.Context, principal access.Principal, ownerID uuid.UUID) (*View, error) {
	if err := access.RequireOwner(principal, ownerID); err != nil {
		return nil, err
	}
	cart, err := s.ensureCart(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return newView(cart), nil
}

// Snapshot never creates a cart; an owner without one gets an empty view.
func (s *service) Snapshot(ctx context.Context, principal access.Principal, ownerID uuid.UUID) (*View, error) {
	if err := access.RequireOwner(principal, ownerID); err != nil {
		return nil, err
	}
	cart, err := s.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return emptyView(ownerID), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return newView(cart), nil
}

// AddItem merges into a line with identical product and customization, or appends one.
func (s *service) AddItem(ctx context.Context, principal access.Principal, ownerID uuid.UUID, input AddItemInput) (*View, error) {
	if err := access.RequireOwner(principal, ownerID); err != nil {
		return nil, err
	}
	if input.Quantity < 1 {
		return nil, invalidQuantity(input.Quantity)
	}
	product, err := catalog.RequireAvailable(ctx, s.catalog, input.ProductID)
	if err != nil {
		return nil, err
	}
	input.FabricChoice = normalize(input.FabricChoice)
	input.Notes = normalize(input.Notes)

	if _, err := s.ensureCart(ctx, ownerID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, ownerID, func(ctx context.Context, repo CartRepository, cart *models.Cart, now time.Time) error {
		for _, item := range cart.Items {
			if !sameCustomization(item, input) {
				continue
			}
			_, err := repo.UpdateItem(ctx, cart.ID, item.ID, map[string]any{
				"quantity":         item.Quantity + input.Quantity,
				"unit_price_cents": product.PriceCents,
				"updated_at":       now,
			})
			return err
		}
		return repo.InsertItem(ctx, &models.CartItem{
			ID:                   uuid.New(),
			CartID:               cart.ID,
			ProductID:            product.ID,
			Quantity:             input.Quantity,
			UnitPriceCents:       product.PriceCents,
			FabricChoice:         input.FabricChoice,
			Notes:                input.Notes,
			MeasurementSessionID: input.MeasurementSessionID,
			Position:             nextPosition(cart.Items),
			CreatedAt:            now,
			UpdatedAt:            now,
		})
	})
}

func (s *service) UpdateItem(ctx context.Context, principal access.Principal, ownerID, itemID uuid.UUID, patch ItemPatch) (*View, error) {
	if err := access.RequireOwner(principal, ownerID); err != nil {
		return nil, err
	}
	if patch.Quantity != nil && *patch.Quantity < 1 {
		return nil, invalidQuantity(*patch.Quantity)
	}
	if err := s.requireCart(ctx, ownerID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, ownerID, func(ctx context.Context, repo CartRepository, cart *models.Cart, now time.Time) error {
		if !hasItem(cart, itemID) {
			return itemNotFound(itemID)
		}
		updates := map[string]any{"updated_at": now}
		if patch.Quantity != nil {
			updates["quantity"] = *patch.Quantity
		}
		if patch.FabricChoice != nil {
			updates["fabric_choice"] = normalize(patch.FabricChoice)
		}
		if patch.Notes != nil {
			updates["notes"] = normalize(patch.Notes)
		}
		if patch.MeasurementSessionID != nil {
			updates["measurement_session_id"] = *patch.MeasurementSessionID
		}
		_, err := repo.UpdateItem(ctx, cart.ID, itemID, updates)
		return err
	})
}

func (s *service) RemoveItem(ctx context.Context, principal access.Principal, ownerID, itemID uuid.UUID) (*View, error) {
	if err := access.RequireOwner(principal, ownerID); err != nil {
		return nil, err
	}
	if err := s.requireCart(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, ownerID, func(ctx context.Context, repo CartRepository, cart *models.Cart, _ time.Time) error {
		if !hasItem(cart, itemID) {
			return itemNotFound(itemID)
		}
		_, err := repo.DeleteItem(ctx, cart.ID, itemID)
		return err
	})
}

// Clear succeeds for a missing or already empty cart.
func (s *service) Clear(ctx context.Context, principal access.Principal, ownerID uuid.UUID) (*View, error) {
	if err := access.RequireOwner(principal, ownerID); err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return emptyView(ownerID), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if len(existing.Items) == 0 {
		return newView(existing), nil
	}
	return s.mutate(ctx, ownerID, func(ctx context.Context, repo CartRepository, cart *models.Cart, _ time.Time) error {
		return repo.DeleteItems(ctx, cart.ID)
	})
}

// ConvertedClear removes the lines an order was paid for from the cart it was
// checked out from, inside the caller's transaction. Lines added after checkout
// stay. Matching is by product and customization; quantities are subtracted.
func (s *service) ConvertedClear(ctx context.Context, tx *gorm.DB, cartID uuid.UUID, order *models.Order) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "order required")
	}
	repo := s.repo.WithTx(tx)
	cart, err := repo.FindByID(ctx, cartID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	now := s.now()
	for _, change := range convertedChanges(cart.Items, order.Items) {
		if change.quantity <= 0 {
			if _, err := repo.DeleteItem(ctx, cart.ID, change.itemID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove converted line")
			}
			continue
		}
		updates := map[string]any{"quantity": change.quantity, "updated_at": now}
		if _, err := repo.UpdateItem(ctx, cart.ID, change.itemID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reduce converted line")
		}
	}
	if err := repo.ForceBump(ctx, cart.ID, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bump cart version")
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCartConverted,
		AggregateType: enums.AggregateCart,
		AggregateID:   cart.ID,
		Data: payloads.CartConvertedEvent{
			CartID:  cart.ID,
			OwnerID: cart.OwnerID,
			OrderID: order.ID,
		},
		OccurredAt: now,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue cart converted event")
	}
	return nil
}

type lineChange struct {
	itemID   uuid.UUID
	quantity int
}

// convertedChanges subtracts each ordered quantity from the matching cart
// lines in display order and returns the lines whose quantity moved.
func convertedChanges(items []models.CartItem, ordered []models.OrderItem) []lineChange {
	remaining := make([]int, len(items))
	for i, item := range items {
		remaining[i] = item.Quantity
	}
	for _, line := range ordered {
		want := line.Quantity
		for i := range items {
			if want <= 0 {
				break
			}
			if remaining[i] <= 0 || !convertedFrom(items[i], line) {
				continue
			}
			take := min(want, remaining[i])
			remaining[i] -= take
			want -= take
		}
	}
	var changes []lineChange
	for i, item := range items {
		if remaining[i] != item.Quantity {
			changes = append(changes, lineChange{itemID: item.ID, quantity: remaining[i]})
		}
	}
	return changes
}

func convertedFrom(item models.CartItem, line models.OrderItem) bool {
	return item.ProductID == line.ProductID &&
		equalString(normalize(item.FabricChoice), normalize(line.FabricChoice)) &&
		equalString(normalize(item.Notes), normalize(line.Notes)) &&
		equalUUID(item.MeasurementSessionID, line.MeasurementSessionID)
}

type mutation func(ctx context.Context, repo CartRepository, cart *models.Cart, now time.Time) error

// mutate runs fn against a fresh read of the cart, claiming the version first.
// A lost claim is retried from a new read.
func (s *service) mutate(ctx context.Context, ownerID uuid.UUID, fn mutation) (*View, error) {
	for attempt := 1; attempt <= maxMutationAttempts; attempt++ {
		var view *View
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			cart, err := repo.FindByOwner(ctx, ownerID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
			}
			now := s.now()
			affected, err := repo.BumpVersion(ctx, cart.ID, cart.Version, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim cart version")
			}
			if affected == 0 {
				return errVersionConflict
			}
			if err := fn(ctx, repo, cart, now); err != nil {
				if pkgerrors.As(err) != nil {
					return err
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write cart")
			}
			updated, err := repo.FindByID(ctx, cart.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
			}
			view = newView(updated)
			return nil
		})
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, errVersionConflict) {
			return nil, err
		}
		s.logg.Debug(s.logg.WithField(ctx, "attempt", attempt), "cart version conflict")
	}
	return nil, pkgerrors.New(pkgerrors.CodeConcurrentModification, "cart was modified concurrently")
}

// ensureCart returns the owner's cart, creating it on first use. A concurrent
// first add loses on the unique owner index and re-reads the winner's cart.
func (s *service) ensureCart(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error) {
	cart, err := s.repo.FindByOwner(ctx, ownerID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	now := s.now()
	cart = &models.Cart{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, cart); err != nil {
		if !dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
		}
		existing, findErr := s.repo.FindByOwner(ctx, ownerID)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "reload cart")
		}
		return existing, nil
	}
	return cart, nil
}

func (s *service) requireCart(ctx context.Context, ownerID uuid.UUID) error {
	_, err := s.repo.FindByOwner(ctx, ownerID)
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
}

func sameCustomization(item models.CartItem, input AddItemInput) bool {
	return item.ProductID == input.ProductID &&
		equalString(item.FabricChoice, input.FabricChoice) &&
		equalString(item.Notes, input.Notes) &&
		equalUUID(item.MeasurementSessionID, input.MeasurementSessionID)
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// normalize trims the value and maps blank to nil so "" and absent compare equal.
func normalize(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func nextPosition(items []models.CartItem) int {
	next := 0
	for _, item := range items {
		if item.Position >= next {
			next = item.Position + 1
		}
	}
	return next
}

func hasItem(cart *models.Cart, itemID uuid.UUID) bool {
	for _, item := range cart.Items {
		if item.ID == itemID {
			return true
		}
	}
	return false
}

func invalidQuantity(qty int) error {
	return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be at least 1").
		WithDetails(map[string]any{"quantity": qty})
}

func itemNotFound(itemID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found").
		WithDetails(map[string]any{"item_id": itemID.String()})
}
