package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
)

// LineItem is one priced line shown on the hosted checkout page.
type LineItem struct {
	Name        string
	Description string
	Quantity    int64
	UnitAmount  int64
}

// CheckoutSessionInput describes the hosted payment page to open for an order.
type CheckoutSessionInput struct {
	ClientReferenceID string
	Currency          string
	SuccessURL        string
	CancelURL         string
	LineItems         []LineItem
	Metadata          map[string]string
	IdempotencyKey    string
	// ExpiresAt closes the hosted page early; zero keeps Stripe's 24h default.
	ExpiresAt         time.Time
}

// CheckoutSession is the subset of a Stripe checkout session the service reads.
type CheckoutSession struct {
	ID                string
	URL               string
	Status            string
	PaymentStatus     string
	PaymentIntentID   string
	ClientReferenceID string
	AmountTotal       int64
	Currency          string
	Metadata          map[string]string
}

// Checkout session lifecycle states reported by Stripe.
const (
	SessionStatusOpen     = string(stripe.CheckoutSessionStatusOpen)
	SessionStatusComplete = string(stripe.CheckoutSessionStatusComplete)
	SessionStatusExpired  = string(stripe.CheckoutSessionStatusExpired)
)

// CreateCheckoutSession opens a payment-mode session bounded by the configured timeout.
func (c *Client) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	if c == nil || c.sessions == nil {
		return nil, errors.New("stripe client not initialized")
	}
	if len(in.LineItems) == 0 {
		return nil, errors.New("stripe: at least one line item is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	params.Context = ctx
	if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if !in.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(in.ExpiresAt.Unix())
	}
	if in.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(in.ClientReferenceID)
	}
	if len(in.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(in.Metadata))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: make(map[string]string, len(in.Metadata)),
		}
		for k, v := range in.Metadata {
			params.Metadata[k] = v
			params.PaymentIntentData.Metadata[k] = v
		}
	}

	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(in.LineItems))
	for _, item := range in.LineItems {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.Description != "" {
			line.PriceData.ProductData.Description = stripe.String(item.Description)
		}
		lines = append(lines, line)
	}
	params.LineItems = lines

	session, err := c.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return fromStripeSession(session), nil
}

// GetCheckoutSession fetches a session by id, bounded by the configured timeout.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if c == nil || c.sessions == nil {
		return nil, errors.New("stripe client not initialized")
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("stripe: session id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := c.sessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return fromStripeSession(session), nil
}

// ExpireCheckoutSession closes an open session so it can no longer be paid.
// Sessions that already completed or expired are returned unchanged; callers
// must check Status before treating the order as abandoned.
func (c *Client) ExpireCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	session, err := c.GetCheckoutSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionStatusOpen {
		return session, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	expired, err := c.sessions.Expire(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: expire checkout session: %w", err)
	}
	return fromStripeSession(expired), nil
}

// RefundPaymentIntent returns the full captured amount of a payment intent.
// The idempotency key keeps webhook redeliveries from refunding twice.
func (c *Client) RefundPaymentIntent(ctx context.Context, paymentIntentID, idempotencyKey string) (string, error) {
	if c == nil || c.refunds == nil {
		return "", errors.New("stripe refund client not initialized")
	}
	if strings.TrimSpace(paymentIntentID) == "" {
		return "", errors.New("stripe: payment intent id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	refund, err := c.refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	return refund.ID, nil
}

// SessionFromEvent decodes the checkout session carried by a webhook event.
func SessionFromEvent(event stripe.Event) (*CheckoutSession, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, errors.New("stripe: event carries no data")
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	return fromStripeSession(&session), nil
}

func fromStripeSession(session *stripe.CheckoutSession) *CheckoutSession {
	if session == nil {
		return nil
	}
	out := &CheckoutSession{
		ID:                session.ID,
		URL:               session.URL,
		Status:            string(session.Status),
		PaymentStatus:     string(session.PaymentStatus),
		ClientReferenceID: session.ClientReferenceID,
		AmountTotal:       session.AmountTotal,
		Currency:          strings.ToUpper(string(session.Currency)),
		Metadata:          session.Metadata,
	}
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	return out
}
