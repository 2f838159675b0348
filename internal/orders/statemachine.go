package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
)

type edge struct {
	from enums.OrderStatus
	to   enums.OrderStatus
}

type rule struct {
	triggers map[enums.TransitionTrigger]struct{}
	guard    func(order *models.Order, req TransitionRequest) error
	apply    func(updates map[string]any, req TransitionRequest, now time.Time)
}

func triggers(ts ...enums.TransitionTrigger) map[enums.TransitionTrigger]struct{} {
	out := make(map[enums.TransitionTrigger]struct{}, len(ts))
	for _, t := range ts {
		out[t] = struct{}{}
	}
	return out
}

// transitionTable lists every legal edge. Anything absent is rejected.
var transitionTable = map[edge]rule{
	{enums.OrderStatusPending, enums.OrderStatusPaid}: {
		triggers: triggers(enums.TriggerWebhook),
		guard: func(_ *models.Order, req TransitionRequest) error {
			if req.GatewayPaymentStatus != enums.PaymentStatusPaid {
				return fmt.Errorf("gateway payment status is %q", req.GatewayPaymentStatus)
			}
			return nil
		},
		apply: func(updates map[string]any, req TransitionRequest, now time.Time) {
			updates["paid_at"] = now
			if ref := strings.TrimSpace(req.PaymentIntentRef); ref != "" {
				updates["payment_intent_ref"] = ref
			}
		},
	},
	{enums.OrderStatusPending, enums.OrderStatusCancelled}: {
		triggers: triggers(enums.TriggerWebhook, enums.TriggerCustomer, enums.TriggerAdmin, enums.TriggerSystem),
		guard: func(order *models.Order, _ TransitionRequest) error {
			if order.PaidAt != nil {
				return fmt.Errorf("payment already confirmed")
			}
			return nil
		},
		apply: applyCancel,
	},
	{enums.OrderStatusPaid, enums.OrderStatusProcessing}: {
		triggers: triggers(enums.TriggerTailor, enums.TriggerAdmin),
		guard: func(order *models.Order, _ TransitionRequest) error {
			if order.PaidAt == nil {
				return fmt.Errorf("order has no payment timestamp")
			}
			return nil
		},
	},
	{enums.OrderStatusPaid, enums.OrderStatusCancelled}: {
		triggers: triggers(enums.TriggerWebhook, enums.TriggerAdmin, enums.TriggerSystem),
		guard: func(order *models.Order, _ TransitionRequest) error {
			if order.ShippedAt != nil {
				return fmt.Errorf("shipment already recorded")
			}
			return nil
		},
		apply: applyCancel,
	},
	{enums.OrderStatusProcessing, enums.OrderStatusShipped}: {
		triggers: triggers(enums.TriggerTailor, enums.TriggerAdmin),
		guard: func(order *models.Order, req TransitionRequest) error {
			if strings.TrimSpace(req.TrackingRef) == "" && (order.TrackingRef == nil || *order.TrackingRef == "") {
				return fmt.Errorf("tracking reference is required")
			}
			return nil
		},
		apply: func(updates map[string]any, req TransitionRequest, now time.Time) {
			updates["shipped_at"] = now
			if ref := strings.TrimSpace(req.TrackingRef); ref != "" {
				updates["tracking_ref"] = ref
			}
			if carrier := strings.TrimSpace(req.Carrier); carrier != "" {
				updates["carrier"] = carrier
			}
		},
	},
	{enums.OrderStatusShipped, enums.OrderStatusDelivered}: {
		triggers: triggers(enums.TriggerTailor, enums.TriggerAdmin, enums.TriggerCustomer),
		apply: func(updates map[string]any, _ TransitionRequest, now time.Time) {
			updates["completed_at"] = now
		},
	},
}

func applyCancel(updates map[string]any, req TransitionRequest, now time.Time) {
	updates["cancelled_at"] = now
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		updates["cancel_reason"] = reason
	}
}

// decision is the outcome of evaluating a request against the current order.
type decision struct {
	apply   bool
	updates map[string]any
}

// evaluate checks a requested transition without touching storage.
// A request for the current status is a no-op; everything else must match an
// edge, its trigger list and its guard.
func evaluate(order *models.Order, req TransitionRequest, now time.Time) (decision, error) {
	if order.Status == req.To {
		return decision{}, nil
	}
	if order.Status.IsTerminal() {
		return decision{}, invalidTransition(order.Status, req.To, "order is in a terminal state")
	}
	r, ok := transitionTable[edge{from: order.Status, to: req.To}]
	if !ok {
		return decision{}, invalidTransition(order.Status, req.To, "transition not allowed")
	}
	if _, ok := r.triggers[req.Trigger]; !ok {
		return decision{}, invalidTransition(order.Status, req.To, fmt.Sprintf("trigger %s may not perform this transition", req.Trigger))
	}
	if r.guard != nil {
		if err := r.guard(order, req); err != nil {
			return decision{}, invalidTransition(order.Status, req.To, err.Error())
		}
	}
	updates := map[string]any{
		"status":     req.To,
		"updated_at": now,
	}
	if r.apply != nil {
		r.apply(updates, req, now)
	}
	return decision{apply: true, updates: updates}, nil
}

// CanTransition reports whether the edge exists for the trigger, ignoring guards.
func CanTransition(from, to enums.OrderStatus, trigger enums.TransitionTrigger) bool {
	r, ok := transitionTable[edge{from: from, to: to}]
	if !ok {
		return false
	}
	_, ok = r.triggers[trigger]
	return ok
}

func invalidTransition(from, to enums.OrderStatus, reason string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("cannot move order from %s to %s", from, to)).
		WithDetails(map[string]any{
			"from":   from,
			"to":     to,
			"reason": reason,
		})
}
