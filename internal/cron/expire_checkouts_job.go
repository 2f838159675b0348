package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/NorikGo/tailormp-sub002/internal/access"
	"github.com/NorikGo/tailormp-sub002/internal/orders"
	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
	pkgstripe "github.com/NorikGo/tailormp-sub002/pkg/stripe"
)

const (
	expireCheckoutsJobName = "expire-pending-checkouts"
	abandonedReason        = "checkout_abandoned"
	defaultExpiryBatch     = 100
)

type stalePendingReader interface {
	ListStalePending(ctx context.Context, createdBefore, sessionExpiredBefore time.Time, limit int) ([]models.Order, error)
}

// sessionCloser closes a gateway session so it can no longer be paid and
// reports its final state.
type sessionCloser interface {
	ExpireCheckoutSession(ctx context.Context, id string) (*pkgstripe.CheckoutSession, error)
}

type orderTransitioner interface {
	TransitionWithRetry(ctx context.Context, req orders.TransitionRequest) (*orders.TransitionResult, error)
}

// ExpireCheckoutsJobParams configure the stale checkout expiry job.
type ExpireCheckoutsJobParams struct {
	Logger     *logger.Logger
	Orders     stalePendingReader
	Machine    orderTransitioner
	Sessions   sessionCloser
	PendingTTL time.Duration
	BatchSize  int
	Clock      func() time.Time
}

type expireCheckoutsJob struct {
	logg     *logger.Logger
	orders   stalePendingReader
	machine  orderTransitioner
	sessions sessionCloser
	ttl      time.Duration
	batch    int
	now      func() time.Time
}

// NewExpireCheckoutsJob builds the job that cancels pending orders whose
// checkout was never completed within the TTL. Without Sessions, orders that
// hold a gateway session are left for the gateway's own expiry webhook.
func NewExpireCheckoutsJob(params ExpireCheckoutsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if params.Machine == nil {
		return nil, fmt.Errorf("order state machine required")
	}
	if params.PendingTTL <= 0 {
		return nil, fmt.Errorf("pending ttl must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &expireCheckoutsJob{
		logg:     params.Logger,
		orders:   params.Orders,
		machine:  params.Machine,
		sessions: params.Sessions,
		ttl:      params.PendingTTL,
		batch:    batch,
		now:      clock,
	}, nil
}

func (j *expireCheckoutsJob) Name() string { return expireCheckoutsJobName }

// Run cancels one batch of stale orders. An order whose gateway session can
// still be paid is never cancelled. Orders that moved on in the meantime (a
// late webhook paid them) are skipped; other failures are collected so one bad
// row does not block the rest of the batch.
func (j *expireCheckoutsJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.ttl)
	stale, err := j.orders.ListStalePending(ctx, cutoff, now, j.batch)
	if err != nil {
		return fmt.Errorf("list stale pending orders: %w", err)
	}

	var (
		errs      error
		cancelled int
		skipped   int
	)
	for _, order := range stale {
		closed, err := j.closeSession(ctx, order)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close session for order %s: %w", order.ID, err))
			continue
		}
		if !closed {
			skipped++
			continue
		}
		applied, err := j.expire(ctx, order.ID)
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
		case applied:
			cancelled++
		default:
			skipped++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(stale),
		"cancelled":  cancelled,
		"skipped":    skipped,
	})
	j.logg.Info(logCtx, "stale checkout expiry complete")
	return errs
}

// closeSession makes sure the order's gateway session can no longer take a
// payment. It reports false when the order must stay pending.
func (j *expireCheckoutsJob) closeSession(ctx context.Context, order models.Order) (bool, error) {
	if order.GatewaySessionRef == nil {
		return true, nil
	}
	logCtx := j.logg.WithFields(j.logg.WithOrderID(ctx, order.ID.String()), map[string]any{"session_ref": *order.GatewaySessionRef})
	if j.sessions == nil {
		j.logg.Debug(logCtx, "stale order holds a gateway session, waiting for its expiry webhook")
		return false, nil
	}
	session, err := j.sessions.ExpireCheckoutSession(ctx, *order.GatewaySessionRef)
	if err != nil {
		return false, err
	}
	if session.Status != pkgstripe.SessionStatusExpired {
		j.logg.Warn(j.logg.WithField(logCtx, "session_status", session.Status), "stale order session is not expired, leaving order pending")
		return false, nil
	}
	return true, nil
}

func (j *expireCheckoutsJob) expire(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res, err := j.machine.TransitionWithRetry(ctx, orders.TransitionRequest{
		OrderID: orderID,
		To:      enums.OrderStatusCancelled,
		Trigger: enums.TriggerSystem,
		Actor:   &access.System,
		Reason:  abandonedReason,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			j.logg.Debug(j.logg.WithOrderID(ctx, orderID.String()), "stale order no longer pending")
			return false, nil
		}
		return false, err
	}
	return res.Applied, nil
}
