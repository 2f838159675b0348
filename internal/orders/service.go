package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/internal/access"
	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
	"github.com/NorikGo/tailormp-sub002/pkg/outbox"
	"github.com/NorikGo/tailormp-sub002/pkg/outbox/payloads"
)

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type transitionObserver interface {
	ObserveTransition(from, to, trigger string)
}

// TransitionRequest asks the state machine to move an order to To.
type TransitionRequest struct {
	OrderID              uuid.UUID
	To                   enums.OrderStatus
	Trigger              enums.TransitionTrigger
	Actor                *access.Principal
	GatewayEventID       string
	GatewayPaymentStatus enums.PaymentStatus
	PaymentIntentRef     string
	TrackingRef          string
	Carrier              string
	Reason               string
	// OnApplied runs inside the transition's transaction after the status
	// write, and only when the transition was applied.
	OnApplied func(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

// TransitionResult reports the order after the request and whether it changed.
type TransitionResult struct {
	Order   *models.Order
	From    enums.OrderStatus
	Applied bool
}

// ShipInput carries the carrier handoff details.
type ShipInput struct {
	TrackingRef string
	Carrier     string
}

// Service drives order lifecycle changes. Every accepted change is audited,
// published through the outbox and counted.
type Service interface {
	RecordCreated(ctx context.Context, tx *gorm.DB, order *models.Order, actor access.Principal, payouts []payloads.TailorPayout) error
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)
	TransitionWithRetry(ctx context.Context, req TransitionRequest) (*TransitionResult, error)
	Cancel(ctx context.Context, principal access.Principal, orderID uuid.UUID, reason string) (*models.Order, error)
	MarkProcessing(ctx context.Context, principal access.Principal, orderID uuid.UUID) (*models.Order, error)
	Ship(ctx context.Context, principal access.Principal, orderID uuid.UUID, input ShipInput) (*models.Order, error)
	Deliver(ctx context.Context, principal access.Principal, orderID uuid.UUID) (*models.Order, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	Repository        Repository
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Metrics           transitionObserver
	Logger            *logger.Logger
	Clock             func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxEmitter
	metrics transitionObserver
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds the order service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repository required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
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
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    logg,
		now:     func() time.Time { return clock().UTC() },
	}, nil
}

// RecordCreated audits the creation edge and queues order.created inside the
// checkout transaction that inserted the order.
func (s *service) RecordCreated(ctx context.Context, tx *gorm.DB, order *models.Order, actor access.Principal, payouts []payloads.TailorPayout) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if order == nil || len(order.Items) == 0 || order.TotalCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "order must have items and a positive total")
	}
	row := &models.OrderTransition{
		ID:        uuid.New(),
		OrderID:   order.ID,
		ToStatus:  enums.OrderStatusPending,
		Trigger:   enums.TriggerCheckout,
		ActorID:   actorID(&actor),
		CreatedAt: s.now(),
	}
	if err := s.repo.WithTx(tx).InsertTransition(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order creation")
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(&actor),
		Data: payloads.OrderCreatedEvent{
			OrderID:           order.ID,
			OwnerID:           order.OwnerID,
			CartID:            order.CartID,
			Currency:          order.Currency,
			TotalCents:        order.TotalCents,
			PlatformFeeCents:  order.PlatformFeeCents,
			TailorAmountCents: order.TailorAmountCents,
			Payouts:           payouts,
		},
		OccurredAt: row.CreatedAt,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order created event")
	}
	return nil
}

func (s *service) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if req.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !req.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown target status")
	}
	if !req.Trigger.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown transition trigger")
	}

	var result *TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := loadOrder(ctx, repo, req.OrderID)
		if err != nil {
			return err
		}

		now := s.now()
		d, err := evaluate(order, req, now)
		if err != nil {
			return err
		}
		if !d.apply {
			result = &TransitionResult{Order: order, From: order.Status, Applied: false}
			return nil
		}

		affected, err := repo.UpdateStatus(ctx, order.ID, order.Status, order.Version, d.updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order was modified concurrently").
				WithDetails(map[string]any{"order_id": order.ID.String(), "expected_status": order.Status})
		}

		from := order.Status
		if err := s.recordTransition(ctx, tx, repo, order, from, req, now); err != nil {
			return err
		}

		updated, err := loadOrder(ctx, repo, order.ID)
		if err != nil {
			return err
		}
		if req.OnApplied != nil {
			if err := req.OnApplied(ctx, tx, updated); err != nil {
				return err
			}
		}
		result = &TransitionResult{Order: updated, From: from, Applied: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Applied {
		if s.metrics != nil {
			s.metrics.ObserveTransition(string(result.From), string(req.To), string(req.Trigger))
		}
		logCtx := s.logg.WithOrderID(ctx, req.OrderID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"from":    result.From,
			"to":      req.To,
			"trigger": req.Trigger,
		})
		s.logg.Info(logCtx, "order transition applied")
	}
	return result, nil
}

func (s *service) recordTransition(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, from enums.OrderStatus, req TransitionRequest, now time.Time) error {
	fromStatus := from
	row := &models.OrderTransition{
		ID:             uuid.New(),
		OrderID:        order.ID,
		FromStatus:     &fromStatus,
		ToStatus:       req.To,
		Trigger:        req.Trigger,
		ActorID:        actorID(req.Actor),
		GatewayEventID: optionalString(req.GatewayEventID),
		Reason:         optionalString(req.Reason),
		CreatedAt:      now,
	}
	if err := repo.InsertTransition(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order transition")
	}

	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(req.Actor),
		Data: payloads.OrderStatusChangedEvent{
			OrderID:        order.ID,
			OwnerID:        order.OwnerID,
			TailorIDs:      order.TailorIDs(),
			FromStatus:     from,
			ToStatus:       req.To,
			Trigger:        req.Trigger,
			GatewayEventID: row.GatewayEventID,
			Reason:         row.Reason,
			ChangedAt:      now,
		},
		OccurredAt: now,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order status event")
	}
	return nil
}

// TransitionWithRetry re-reads the order once after a lost race and
// re-evaluates; the competing write may already have done the work.
func (s *service) TransitionWithRetry(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	result, err := s.Transition(ctx, req)
	if err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeConcurrentModification) {
		return result, err
	}
	s.logg.Warn(s.logg.WithOrderID(ctx, req.OrderID.String()), "order transition lost a race, retrying once")
	return s.Transition(ctx, req)
}

func (s *service) Cancel(ctx context.Context, principal access.Principal, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, err := loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireOwner(principal, order.OwnerID); err != nil {
		return nil, err
	}
	trigger := enums.TriggerCustomer
	if principal.IsAdmin() {
		trigger = enums.TriggerAdmin
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled_by_" + string(trigger)
	}
	return s.apply(ctx, TransitionRequest{
		OrderID: orderID,
		To:      enums.OrderStatusCancelled,
		Trigger: trigger,
		Actor:   &principal,
		Reason:  reason,
	})
}

func (s *service) MarkProcessing(ctx context.Context, principal access.Principal, orderID uuid.UUID) (*models.Order, error) {
	order, err := loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireTailorOf(principal, order.TailorIDs()); err != nil {
		return nil, err
	}
	return s.apply(ctx, TransitionRequest{
		OrderID: orderID,
		To:      enums.OrderStatusProcessing,
		Trigger: fulfilmentTrigger(principal),
		Actor:   &principal,
	})
}

func (s *service) Ship(ctx context.Context, principal access.Principal, orderID uuid.UUID, input ShipInput) (*models.Order, error) {
	order, err := loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireTailorOf(principal, order.TailorIDs()); err != nil {
		return nil, err
	}
	return s.apply(ctx, TransitionRequest{
		OrderID:     orderID,
		To:          enums.OrderStatusShipped,
		Trigger:     fulfilmentTrigger(principal),
		Actor:       &principal,
		TrackingRef: input.TrackingRef,
		Carrier:     input.Carrier,
	})
}

func (s *service) Deliver(ctx context.Context, principal access.Principal, orderID uuid.UUID) (*models.Order, error) {
	order, err := loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireOwnerOrTailor(principal, order.OwnerID, order.TailorIDs()); err != nil {
		return nil, err
	}
	trigger := fulfilmentTrigger(principal)
	if !principal.IsAdmin() && principal.UserID == order.OwnerID {
		trigger = enums.TriggerCustomer
	}
	return s.apply(ctx, TransitionRequest{
		OrderID: orderID,
		To:      enums.OrderStatusDelivered,
		Trigger: trigger,
		Actor:   &principal,
	})
}

func (s *service) apply(ctx context.Context, req TransitionRequest) (*models.Order, error) {
	result, err := s.TransitionWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	return result.Order, nil
}

func fulfilmentTrigger(p access.Principal) enums.TransitionTrigger {
	if p.IsAdmin() {
		return enums.TriggerAdmin
	}
	return enums.TriggerTailor
}

func loadOrder(ctx context.Context, repo Repository, id uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func actorID(p *access.Principal) *uuid.UUID {
	if p == nil || p.UserID == uuid.Nil {
		return nil
	}
	id := p.UserID
	return &id
}

func actorRef(p *access.Principal) *outbox.ActorRef {
	if p == nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actorID(p), Role: string(p.Role)}
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
