package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/internal/access"
	"github.com/NorikGo/tailormp-sub002/internal/cart"
	"github.com/NorikGo/tailormp-sub002/internal/catalog"
	"github.com/NorikGo/tailormp-sub002/internal/feesplit"
	"github.com/NorikGo/tailormp-sub002/internal/orders"
	"github.com/NorikGo/tailormp-sub002/pkg/config"
	dbpkg "github.com/NorikGo/tailormp-sub002/pkg/db"
	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
	"github.com/NorikGo/tailormp-sub002/pkg/outbox/payloads"
	pkgstripe "github.com/NorikGo/tailormp-sub002/pkg/stripe"
)

const (
	outcomeCreated      = "created"
	outcomeGatewayError = "gateway_error"
	outcomeRejected     = "rejected"

	defaultSessionTTL = time.Hour
	// A reused expiry must leave Stripe's 30 minute minimum plus some slack.
	minSessionRemaining = 35 * time.Minute
	persistAttempts     = 2
)

var errPendingRace = errors.New("pending checkout inserted concurrently")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Gateway is the hosted checkout surface of the payment provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, in pkgstripe.CheckoutSessionInput) (*pkgstripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*pkgstripe.CheckoutSession, error)
}

type cartReader interface {
	Snapshot(ctx context.Context, principal access.Principal, ownerID uuid.UUID) (*cart.View, error)
}

type creationRecorder interface {
	RecordCreated(ctx context.Context, tx *gorm.DB, order *models.Order, actor access.Principal, payouts []payloads.TailorPayout) error
}

type sessionFinder interface {
	FindBySessionRef(ctx context.Context, sessionRef string) (*models.Order, error)
}

type sessionCounter interface {
	IncSession(outcome string)
}

// Service turns a cart or a single item into a pending order with a payment session.
type Service interface {
	CreateSession(ctx context.Context, principal access.Principal, ownerID uuid.UUID, req Request) (*SessionResult, error)
	LookupSession(ctx context.Context, principal access.Principal, sessionRef string) (*LookupResult, error)
}

// ServiceParams wires the checkout service.
type ServiceParams struct {
	TransactionRunner txRunner
	Orders            orders.Repository
	Lifecycle         creationRecorder
	Sessions          sessionFinder
	Carts             cartReader
	Catalog           catalog.Reader
	Gateway           Gateway
	Checkout          config.CheckoutConfig
	Stripe            config.StripeConfig
	Metrics           sessionCounter
	Logger            *logger.Logger
	Clock             func() time.Time
}

type service struct {
	tx        txRunner
	orders    orders.Repository
	lifecycle creationRecorder
	sessions  sessionFinder
	carts     cartReader
	catalog   catalog.Reader
	gateway   Gateway
	rate      decimal.Decimal
	currency  enums.Currency
	tolerance int64
	ttl       time.Duration
	urls      config.StripeConfig
	metrics   sessionCounter
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.TransactionRunner == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Orders == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repository required")
	case params.Lifecycle == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order lifecycle required")
	case params.Sessions == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session finder required")
	case params.Carts == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart reader required")
	case params.Catalog == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog reader required")
	case params.Gateway == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	currency, err := enums.ParseCurrency(params.Checkout.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checkout currency")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := params.Checkout.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &service{
		tx:        params.TransactionRunner,
		orders:    params.Orders,
		lifecycle: params.Lifecycle,
		sessions:  params.Sessions,
		carts:     params.Carts,
		catalog:   params.Catalog,
		gateway:   params.Gateway,
		rate:      params.Checkout.PlatformRate,
		currency:  currency,
		tolerance: params.Checkout.PriceToleranceBPS,
		ttl:       ttl,
		urls:      params.Stripe,
		metrics:   params.Metrics,
		logg:      logg,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

// CreateSession persists a pending order before asking the gateway for a
// session, so a gateway failure leaves a reusable order behind.
func (s *service) CreateSession(ctx context.Context, principal access.Principal, ownerID uuid.UUID, req Request) (*SessionResult, error) {
	if err := access.RequireOwner(principal, ownerID); err != nil {
		return nil, err
	}
	req, err := validateRequest(req)
	if err != nil {
		s.count(outcomeRejected)
		return nil, err
	}

	lines, cartID, err := s.resolveLines(ctx, principal, ownerID, req)
	if err != nil {
		s.count(outcomeRejected)
		return nil, err
	}

	order, payouts, err := s.price(ctx, ownerID, cartID, req, lines)
	if err != nil {
		s.count(outcomeRejected)
		return nil, err
	}

	order, err = s.persist(ctx, principal, order, payouts)
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	session, err := s.gateway.CreateCheckoutSession(ctx, s.sessionInput(order))
	if err != nil {
		s.count(outcomeGatewayError)
		s.logg.Error(logCtx, "checkout session creation failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "payment gateway unavailable").
			WithDetails(map[string]any{"order_id": order.ID.String()})
	}

	if err := s.attachSession(ctx, order.ID, session.ID); err != nil {
		return nil, err
	}

	s.count(outcomeCreated)
	s.logg.Info(s.logg.WithField(logCtx, "session_ref", session.ID), "checkout session created")
	return &SessionResult{
		SessionReference: session.ID,
		OrderID:          order.ID,
		URL:              session.URL,
	}, nil
}

func validateRequest(req Request) (Request, error) {
	if (req.CartID == nil) == (req.Item == nil) {
		return req, pkgerrors.New(pkgerrors.CodeValidation, "provide exactly one of cart_id or item")
	}
	if req.Item != nil {
		if req.Item.ProductID == uuid.Nil {
			return req, pkgerrors.New(pkgerrors.CodeValidation, "item product_id is required")
		}
		if req.Item.Quantity < 1 {
			return req, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be at least 1").
				WithDetails(map[string]any{"quantity": req.Item.Quantity})
		}
	}
	req.ShippingAddress = req.ShippingAddress.Normalize()
	if err := req.ShippingAddress.Validate(); err != nil {
		return req, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	req.ShippingMethod = strings.TrimSpace(req.ShippingMethod)
	if req.ShippingMethod == "" {
		return req, pkgerrors.New(pkgerrors.CodeValidation, "shipping method is required")
	}
	return req, nil
}

func (s *service) resolveLines(ctx context.Context, principal access.Principal, ownerID uuid.UUID, req Request) ([]line, *uuid.UUID, error) {
	if req.Item != nil {
		return []line{{
			ProductID:            req.Item.ProductID,
			Quantity:             req.Item.Quantity,
			FabricChoice:         req.Item.FabricChoice,
			Notes:                req.Item.Notes,
			MeasurementSessionID: req.Item.MeasurementSessionID,
		}}, nil, nil
	}

	view, err := s.carts.Snapshot(ctx, principal, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if view.ID == nil || *view.ID != *req.CartID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if len(view.Items) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeEmptyOrder, "cart is empty")
	}
	lines := make([]line, 0, len(view.Items))
	for _, item := range view.Items {
		captured := item.UnitPriceCents
		lines = append(lines, line{
			ProductID:            item.ProductID,
			Quantity:             item.Quantity,
			CapturedPriceCents:   &captured,
			FabricChoice:         item.FabricChoice,
			Notes:                item.Notes,
			MeasurementSessionID: item.MeasurementSessionID,
		})
	}
	return lines, view.ID, nil
}

// price builds the order from current catalog prices. Products must all be
// available; nothing is persisted otherwise.
func (s *service) price(ctx context.Context, ownerID uuid.UUID, cartID *uuid.UUID, req Request, lines []line) (*models.Order, []payloads.TailorPayout, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	products, err := catalog.RequireAllAvailable(ctx, s.catalog, ids)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	order := &models.Order{
		ID:                   uuid.New(),
		OwnerID:              ownerID,
		Status:               enums.OrderStatusPending,
		Currency:             s.currency,
		ShippingAddress:      req.ShippingAddress,
		ShippingMethod:       req.ShippingMethod,
		Notes:                trimmed(req.Notes),
		MeasurementSessionID: req.MeasurementSessionID,
		CheckoutKey:          checkoutKey(req),
		CartID:               cartID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	split := make([]feesplit.Line, 0, len(lines))
	for i, l := range lines {
		product := products[l.ProductID]
		if product.Currency != "" && product.Currency != s.currency {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "product is priced in another currency").
				WithDetails(map[string]any{"product_id": product.ID.String(), "currency": product.Currency})
		}
		if l.CapturedPriceCents != nil {
			s.warnOnDrift(ctx, product, *l.CapturedPriceCents)
		}
		split = append(split, feesplit.Line{
			TailorID:       product.TailorID,
			UnitPriceCents: product.PriceCents,
			Quantity:       l.Quantity,
		})
		order.Items = append(order.Items, models.OrderItem{
			ID:                   uuid.New(),
			ProductID:            product.ID,
			TailorID:             product.TailorID,
			Title:                product.Title,
			Description:          product.Description,
			Quantity:             l.Quantity,
			UnitPriceCents:       product.PriceCents,
			FabricChoice:         trimmed(l.FabricChoice),
			Notes:                trimmed(l.Notes),
			MeasurementSessionID: l.MeasurementSessionID,
			Position:             i,
			CreatedAt:            now,
		})
	}

	result, err := feesplit.Split(split, s.rate)
	if err != nil {
		return nil, nil, err
	}
	if result.TotalCents <= 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeEmptyOrder, "order total must be positive")
	}
	for i := range order.Items {
		order.Items[i].SubtotalCents = result.SubtotalsCents[i]
	}
	order.TotalCents = result.TotalCents
	order.PlatformFeeCents = result.PlatformFeeCents
	order.TailorAmountCents = result.TailorAmountCents

	shares, err := feesplit.PerTailor(split, s.rate)
	if err != nil {
		return nil, nil, err
	}
	payouts := make([]payloads.TailorPayout, 0, len(shares))
	for _, share := range shares {
		payouts = append(payouts, payloads.TailorPayout{
			TailorID:      share.TailorID,
			SubtotalCents: share.SubtotalCents,
			PayoutCents:   share.PayoutCents,
		})
	}
	return order, payouts, nil
}

func (s *service) warnOnDrift(ctx context.Context, product models.Product, capturedCents int64) {
	if capturedCents <= 0 || capturedCents == product.PriceCents {
		return
	}
	diff := product.PriceCents - capturedCents
	if diff < 0 {
		diff = -diff
	}
	if diff*10000 <= s.tolerance*capturedCents {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"product_id":     product.ID.String(),
		"captured_cents": capturedCents,
		"current_cents":  product.PriceCents,
	})
	s.logg.Warn(logCtx, "cart price drifted beyond tolerance, charging catalog price")
}

// persist reuses the owner's pending order for the same checkout key when it
// never got a session; otherwise it inserts a new one. Two requests racing on
// the same key meet at ux_orders_pending_checkout and the loser reuses the
// winner's order.
func (s *service) persist(ctx context.Context, principal access.Principal, order *models.Order, payouts []payloads.TailorPayout) (*models.Order, error) {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.persistTx(ctx, tx, principal, order, payouts)
		})
		if !errors.Is(err, errPendingRace) {
			break
		}
		s.logg.Info(s.logg.WithField(ctx, "checkout_key", order.CheckoutKey), "pending checkout created concurrently, reusing it")
	}
	if errors.Is(err, errPendingRace) {
		return nil, pkgerrors.New(pkgerrors.CodeConcurrentModification, "pending order changed during checkout")
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) persistTx(ctx context.Context, tx *gorm.DB, principal access.Principal, order *models.Order, payouts []payloads.TailorPayout) error {
	repo := s.orders.WithTx(tx)
	existing, err := repo.FindReusablePending(ctx, order.OwnerID, order.CheckoutKey)
	switch {
	case err == nil:
		order.ID = existing.ID
		order.CreatedAt = existing.CreatedAt
		order.Version = existing.Version
		order.SessionExpiresAt = s.sessionExpiry(existing.SessionExpiresAt)
		affected, err := repo.Reprice(ctx, order, order.Items)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reprice pending order")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "pending order changed during checkout")
		}
		order.Version++
		s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "reusing pending order for checkout")
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find pending order")
	}

	order.SessionExpiresAt = s.sessionExpiry(nil)
	if err := repo.Create(ctx, order); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return errPendingRace
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return s.lifecycle.RecordCreated(ctx, tx, order, principal, payouts)
}

// sessionExpiry keeps a previously requested expiry while Stripe would still
// accept it, so a retry sends identical parameters under the same
// idempotency key. Otherwise a fresh window starts now.
func (s *service) sessionExpiry(current *time.Time) *time.Time {
	now := s.now()
	if current != nil && current.Sub(now) >= minSessionRemaining {
		kept := current.UTC()
		return &kept
	}
	next := now.Add(s.ttl).Truncate(time.Second)
	return &next
}

func (s *service) sessionInput(order *models.Order) pkgstripe.CheckoutSessionInput {
	var expiresAt time.Time
	if order.SessionExpiresAt != nil {
		expiresAt = order.SessionExpiresAt.UTC()
	}
	items := make([]pkgstripe.LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		li := pkgstripe.LineItem{
			Name:       item.Title,
			Quantity:   int64(item.Quantity),
			UnitAmount: item.UnitPriceCents,
		}
		if item.Description != nil {
			li.Description = *item.Description
		}
		items = append(items, li)
	}
	return pkgstripe.CheckoutSessionInput{
		ClientReferenceID: order.ID.String(),
		Currency:          order.Currency.Lower(),
		SuccessURL:        s.urls.SuccessURL,
		CancelURL:         s.urls.CancelURL,
		LineItems:         items,
		Metadata: map[string]string{
			"order_id":     order.ID.String(),
			"checkout_key": order.CheckoutKey,
		},
		IdempotencyKey: idempotencyKey(order.ID, order.TotalCents, expiresAt),
		ExpiresAt:      expiresAt,
	}
}

// attachSession stores the session reference once. A concurrent request for
// the same order gets the same session from the gateway's idempotency key.
func (s *service) attachSession(ctx context.Context, orderID uuid.UUID, sessionRef string) error {
	affected, err := s.orders.SetSessionRef(ctx, orderID, sessionRef)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store session reference")
	}
	if affected == 1 {
		return nil
	}
	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	if current.GatewaySessionRef != nil && *current.GatewaySessionRef == sessionRef {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order already has a different checkout session").
		WithDetails(map[string]any{"order_id": orderID.String()})
}

// LookupSession reports the order behind a session. The gateway's payment
// status wins when reachable; otherwise it is derived from the order.
func (s *service) LookupSession(ctx context.Context, principal access.Principal, sessionRef string) (*LookupResult, error) {
	order, err := s.sessions.FindBySessionRef(ctx, sessionRef)
	if err != nil {
		return nil, err
	}
	if err := access.RequireOwner(principal, order.OwnerID); err != nil {
		return nil, err
	}

	status := enums.PaymentStatusForOrder(order.Status, order.PaidAt != nil)
	session, err := s.gateway.GetCheckoutSession(ctx, sessionRef)
	if err != nil {
		s.logg.Warn(s.logg.WithField(s.logg.WithOrderID(ctx, order.ID.String()), "error", err.Error()), "gateway lookup failed, deriving payment status from order")
	} else if gatewayStatus := enums.PaymentStatus(session.PaymentStatus); gatewayStatus != "" {
		status = gatewayStatus
		if order.Status == enums.OrderStatusCancelled && order.PaidAt != nil {
			status = enums.PaymentStatusRefunded
		}
	}
	return &LookupResult{Order: orders.NewOrderDTO(order), PaymentStatus: status}, nil
}

func (s *service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.IncSession(outcome)
	}
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
