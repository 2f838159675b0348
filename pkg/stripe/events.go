package stripe

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v78"
)

// Event types the payment webhook acts on.
const (
	EventCheckoutSessionCompleted             = "checkout.session.completed"
	EventCheckoutSessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutSessionAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventCheckoutSessionExpired               = "checkout.session.expired"
	EventPaymentIntentPaymentFailed           = "payment_intent.payment_failed"
	EventChargeRefunded                       = "charge.refunded"
)

// Charge is the subset of a Stripe charge used for refund reconciliation.
type Charge struct {
	ID              string
	PaymentIntentID string
	Amount          int64
	AmountRefunded  int64
	Refunded        bool
	Metadata        map[string]string
}

// FullyRefunded reports whether the whole captured amount was returned.
func (c *Charge) FullyRefunded() bool {
	if c == nil {
		return false
	}
	return c.Refunded || (c.Amount > 0 && c.AmountRefunded >= c.Amount)
}

// PaymentIntent is the subset of a Stripe payment intent used for logging failures.
type PaymentIntent struct {
	ID       string
	Status   string
	Metadata map[string]string
}

// ChargeFromEvent decodes the charge carried by a webhook event.
func ChargeFromEvent(event stripe.Event) (*Charge, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, errors.New("stripe: event carries no data")
	}
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return nil, fmt.Errorf("stripe: decode charge: %w", err)
	}
	out := &Charge{
		ID:             charge.ID,
		Amount:         charge.Amount,
		AmountRefunded: charge.AmountRefunded,
		Refunded:       charge.Refunded,
		Metadata:       charge.Metadata,
	}
	if charge.PaymentIntent != nil {
		out.PaymentIntentID = charge.PaymentIntent.ID
	}
	return out, nil
}

// PaymentIntentFromEvent decodes the payment intent carried by a webhook event.
func PaymentIntentFromEvent(event stripe.Event) (*PaymentIntent, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, errors.New("stripe: event carries no data")
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	return &PaymentIntent{
		ID:       intent.ID,
		Status:   string(intent.Status),
		Metadata: intent.Metadata,
	}, nil
}
