// Package paymentwebhook reconciles payment gateway notifications with orders.
package paymentwebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/internal/orders"
	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
	"github.com/NorikGo/tailormp-sub002/pkg/metrics"
	pkgstripe "github.com/NorikGo/tailormp-sub002/pkg/stripe"
)

const (
	reasonPaymentFailed   = "payment_failed"
	reasonCheckoutExpired = "checkout_expired"
	reasonRefunded        = "refunded"
	metadataOrderID       = "order_id"
	outcomeOrderNotFound  = "order_not_found"
)

var (
	errPaidWhileCancelled = errors.New("payment captured for a cancelled order")
	errDuplicatePayment   = errors.New("second payment captured for an already paid order")
)

type eventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type orderLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindBySessionRef(ctx context.Context, sessionRef string) (*models.Order, error)
	FindByPaymentIntentRef(ctx context.Context, paymentIntentRef string) (*models.Order, error)
}

type transitioner interface {
	TransitionWithRetry(ctx context.Context, req orders.TransitionRequest) (*orders.TransitionResult, error)
}

type cartConverter interface {
	ConvertedClear(ctx context.Context, tx *gorm.DB, cartID uuid.UUID, order *models.Order) error
}

type paymentRefunder interface {
	RefundPaymentIntent(ctx context.Context, paymentIntentID, idempotencyKey string) (string, error)
}

type eventObserver interface {
	ObserveEvent(eventType, outcome string)
}

// ProcessorParams wires the payment webhook processor.
type ProcessorParams struct {
	Verifier eventVerifier
	Orders   orderLookup
	Machine  transitioner
	Carts    cartConverter
	Guard    EventGuard
	Refunder paymentRefunder
	Metrics  eventObserver
	Logger   *logger.Logger
}

// Processor verifies, deduplicates and applies payment notifications.
type Processor struct {
	verifier eventVerifier
	orders   orderLookup
	machine  transitioner
	carts    cartConverter
	guard    EventGuard
	refunder paymentRefunder
	metrics  eventObserver
	logg     *logger.Logger
}

// NewProcessor builds the processor. Guard, Refunder and Metrics are optional;
// without a Refunder, money captured for an order that cannot take it is
// reported as a failure so the gateway keeps redelivering until someone acts.
func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event verifier required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order lookup required")
	}
	if params.Machine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order state machine required")
	}
	if params.Carts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart converter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Processor{
		verifier: params.Verifier,
		orders:   params.Orders,
		machine:  params.Machine,
		carts:    params.Carts,
		guard:    params.Guard,
		refunder: params.Refunder,
		metrics:  params.Metrics,
		logg:     logg,
	}, nil
}

// HandleNotification processes one delivery. A nil error means the gateway
// should consider the event delivered, including events that were ignored.
func (p *Processor) HandleNotification(ctx context.Context, payload []byte, signature string) (string, error) {
	event, err := p.verifier.ConstructEvent(payload, signature)
	if err != nil {
		p.observe("unverified", metrics.WebhookOutcomeRejected)
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "payment webhook signature rejected")
		return metrics.WebhookOutcomeRejected, pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "invalid webhook signature")
	}

	eventType := string(event.Type)
	ctx = p.logg.WithGatewayEvent(ctx, event.ID, eventType)

	claimed := false
	if p.guard != nil {
		duplicate, err := p.guard.Claim(ctx, event.ID, eventType)
		switch {
		case err != nil:
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "idempotency guard unavailable, relying on transition idempotency")
		case duplicate:
			p.observe(eventType, metrics.WebhookOutcomeDuplicate)
			p.logg.Info(ctx, "payment webhook already processed")
			return metrics.WebhookOutcomeDuplicate, nil
		default:
			claimed = true
		}
	}

	outcome, err := p.dispatch(ctx, event)
	if err != nil {
		if claimed {
			if relErr := p.guard.Release(ctx, event.ID); relErr != nil {
				p.logg.Error(ctx, "release idempotency claim", relErr)
			}
		}
		p.observe(eventType, metrics.WebhookOutcomeFailed)
		p.logg.Error(ctx, "payment webhook processing failed", err)
		return metrics.WebhookOutcomeFailed, err
	}

	p.observe(eventType, outcome)
	p.logg.Info(p.logg.WithField(ctx, "outcome", outcome), "payment webhook handled")
	return outcome, nil
}

func (p *Processor) dispatch(ctx context.Context, event stripe.Event) (string, error) {
	switch string(event.Type) {
	case pkgstripe.EventCheckoutSessionCompleted, pkgstripe.EventCheckoutSessionAsyncPaymentSucceeded:
		session, err := pkgstripe.SessionFromEvent(event)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
		}
		status := enums.PaymentStatus(session.PaymentStatus)
		if string(event.Type) == pkgstripe.EventCheckoutSessionAsyncPaymentSucceeded {
			status = enums.PaymentStatusPaid
		}
		if status != enums.PaymentStatusPaid {
			p.logg.Info(p.logg.WithField(ctx, "payment_status", session.PaymentStatus), "checkout completed without payment, awaiting async result")
			return metrics.WebhookOutcomeIgnored, nil
		}
		order, err := p.resolve(ctx, session.ID, session.PaymentIntentID, session.Metadata)
		if err != nil || order == nil {
			return notFoundOutcome(err)
		}
		if order.Status == enums.OrderStatusPending {
			if err := p.checkAmount(ctx, order, session); err != nil {
				return "", err
			}
		}
		outcome, err := p.apply(ctx, orders.TransitionRequest{
			OrderID:              order.ID,
			To:                   enums.OrderStatusPaid,
			Trigger:              enums.TriggerWebhook,
			GatewayEventID:       event.ID,
			GatewayPaymentStatus: status,
			PaymentIntentRef:     session.PaymentIntentID,
			OnApplied:            p.clearCart,
		})
		if err != nil || outcome == metrics.WebhookOutcomeApplied {
			return outcome, err
		}
		return p.settleUnexpectedPayment(ctx, order.ID, session, outcome)

	case pkgstripe.EventCheckoutSessionAsyncPaymentFailed, pkgstripe.EventCheckoutSessionExpired:
		session, err := pkgstripe.SessionFromEvent(event)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
		}
		order, err := p.resolve(ctx, session.ID, session.PaymentIntentID, session.Metadata)
		if err != nil || order == nil {
			return notFoundOutcome(err)
		}
		reason := reasonPaymentFailed
		if string(event.Type) == pkgstripe.EventCheckoutSessionExpired {
			reason = reasonCheckoutExpired
		}
		return p.apply(ctx, orders.TransitionRequest{
			OrderID:        order.ID,
			To:             enums.OrderStatusCancelled,
			Trigger:        enums.TriggerWebhook,
			GatewayEventID: event.ID,
			Reason:         reason,
		})

	case pkgstripe.EventPaymentIntentPaymentFailed:
		intent, err := pkgstripe.PaymentIntentFromEvent(event)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
		}
		logCtx := p.logg.WithFields(ctx, map[string]any{
			"payment_intent": intent.ID,
			"order_id":       intent.Metadata[metadataOrderID],
		})
		p.logg.Warn(logCtx, "payment attempt failed, customer may retry within the session")
		return metrics.WebhookOutcomeIgnored, nil

	case pkgstripe.EventChargeRefunded:
		charge, err := pkgstripe.ChargeFromEvent(event)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge")
		}
		if !charge.FullyRefunded() {
			p.logg.Info(p.logg.WithField(ctx, "charge", charge.ID), "partial refund, order left unchanged")
			return metrics.WebhookOutcomeIgnored, nil
		}
		order, err := p.resolve(ctx, "", charge.PaymentIntentID, charge.Metadata)
		if err != nil || order == nil {
			return notFoundOutcome(err)
		}
		return p.apply(ctx, orders.TransitionRequest{
			OrderID:        order.ID,
			To:             enums.OrderStatusCancelled,
			Trigger:        enums.TriggerWebhook,
			GatewayEventID: event.ID,
			Reason:         reasonRefunded,
		})

	default:
		p.logg.Debug(ctx, "payment webhook type not handled")
		return metrics.WebhookOutcomeIgnored, nil
	}
}

// apply runs the transition. A transition the order can no longer make is
// acknowledged so the gateway stops redelivering it; for paid events the
// caller then checks whether captured money must go back.
func (p *Processor) apply(ctx context.Context, req orders.TransitionRequest) (string, error) {
	ctx = p.logg.WithOrderID(ctx, req.OrderID.String())
	result, err := p.machine.TransitionWithRetry(ctx, req)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) {
			logCtx := p.logg.WithFields(ctx, map[string]any{"to": req.To, "details": pkgerrors.As(err).Details()})
			p.logg.Warn(logCtx, "payment webhook transition rejected by order state")
			return metrics.WebhookOutcomeIgnored, nil
		}
		return "", err
	}
	if !result.Applied {
		return metrics.WebhookOutcomeDuplicate, nil
	}
	return metrics.WebhookOutcomeApplied, nil
}

// checkAmount refuses to mark an order paid for a sum other than its total.
// That happens when a session created before a re-price is paid after it.
func (p *Processor) checkAmount(ctx context.Context, order *models.Order, session *pkgstripe.CheckoutSession) error {
	currencyMatches := session.Currency == "" || strings.EqualFold(session.Currency, string(order.Currency))
	if session.AmountTotal == order.TotalCents && currencyMatches {
		return nil
	}
	details := map[string]any{
		"order_id":         order.ID.String(),
		"session_ref":      session.ID,
		"order_total":      order.TotalCents,
		"order_currency":   order.Currency,
		"session_total":    session.AmountTotal,
		"session_currency": session.Currency,
	}
	mismatch := pkgerrors.New(pkgerrors.CodePaymentMismatch, "paid amount does not match order total").WithDetails(details)
	p.logg.Error(p.logg.WithFields(ctx, details), "payment webhook amount mismatch, order left unchanged", mismatch)
	return mismatch
}

// settleUnexpectedPayment handles a paid session the order could not accept.
// Money captured for a cancelled order, or a second payment on an order that
// is already paid, is refunded. Anything else is a redelivery and keeps the
// outcome the transition produced.
func (p *Processor) settleUnexpectedPayment(ctx context.Context, orderID uuid.UUID, session *pkgstripe.CheckoutSession, outcome string) (string, error) {
	order, err := p.orders.FindByID(ctx, orderID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}

	var cause error
	switch {
	case order.Status == enums.OrderStatusCancelled && order.PaidAt == nil:
		cause = errPaidWhileCancelled
	case order.PaymentIntentRef != nil && session.PaymentIntentID != "" && *order.PaymentIntentRef != session.PaymentIntentID:
		cause = errDuplicatePayment
	default:
		return outcome, nil
	}

	logCtx := p.logg.WithFields(p.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"status":         order.Status,
		"session_ref":    session.ID,
		"payment_intent": session.PaymentIntentID,
		"amount":         session.AmountTotal,
	})
	if p.refunder == nil || session.PaymentIntentID == "" {
		p.logg.Error(logCtx, "captured payment needs a manual refund", cause)
		return "", pkgerrors.Wrap(pkgerrors.CodePaymentMismatch, cause, "captured payment cannot be applied").
			WithDetails(map[string]any{"order_id": order.ID.String(), "payment_intent": session.PaymentIntentID})
	}

	key := fmt.Sprintf("refund-%s-%s", order.ID, session.PaymentIntentID)
	refundID, err := p.refunder.RefundPaymentIntent(ctx, session.PaymentIntentID, key)
	if err != nil {
		p.logg.Error(logCtx, "refund of unexpected payment failed", err)
		return "", pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "refund unexpected payment")
	}
	p.logg.Error(p.logg.WithField(logCtx, "refund_id", refundID), "captured payment refunded", cause)
	return metrics.WebhookOutcomeRefunded, nil
}

func (p *Processor) clearCart(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.CartID == nil || !strings.HasPrefix(order.CheckoutKey, "cart:") {
		return nil
	}
	return p.carts.ConvertedClear(ctx, tx, *order.CartID, order)
}

// resolve finds the order by session, then payment intent, then the order id
// placed in the gateway metadata. A nil order with a nil error means no match.
func (p *Processor) resolve(ctx context.Context, sessionRef, paymentIntentRef string, metadata map[string]string) (*models.Order, error) {
	if ref := strings.TrimSpace(sessionRef); ref != "" {
		order, err := p.orders.FindBySessionRef(ctx, ref)
		if found, err := matched(order, err); found || err != nil {
			return order, err
		}
	}
	if ref := strings.TrimSpace(paymentIntentRef); ref != "" {
		order, err := p.orders.FindByPaymentIntentRef(ctx, ref)
		if found, err := matched(order, err); found || err != nil {
			return order, err
		}
	}
	if raw := strings.TrimSpace(metadata[metadataOrderID]); raw != "" {
		id, parseErr := uuid.Parse(raw)
		if parseErr == nil {
			order, err := p.orders.FindByID(ctx, id)
			if found, err := matched(order, err); found || err != nil {
				return order, err
			}
		}
	}
	p.logg.Warn(p.logg.WithFields(ctx, map[string]any{
		"session_ref":    sessionRef,
		"payment_intent": paymentIntentRef,
	}), "payment webhook references no known order")
	return nil, nil
}

func matched(order *models.Order, err error) (bool, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve order")
	}
	return order != nil, nil
}

func notFoundOutcome(err error) (string, error) {
	if err != nil {
		return "", err
	}
	return outcomeOrderNotFound, nil
}

func (p *Processor) observe(eventType, outcome string) {
	if p.metrics != nil {
		p.metrics.ObserveEvent(eventType, outcome)
	}
}
