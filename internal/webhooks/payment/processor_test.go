package paymentwebhook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/internal/access"
	"github.com/NorikGo/tailormp-sub002/internal/cart"
	"github.com/NorikGo/tailormp-sub002/internal/catalog"
	"github.com/NorikGo/tailormp-sub002/internal/orders"
	"github.com/NorikGo/tailormp-sub002/pkg/config"
	"github.com/NorikGo/tailormp-sub002/pkg/db"
	"github.com/NorikGo/tailormp-sub002/pkg/db/dbtest"
	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/metrics"
	"github.com/NorikGo/tailormp-sub002/pkg/outbox"
	pkgstripe "github.com/NorikGo/tailormp-sub002/pkg/stripe"
	"github.com/NorikGo/tailormp-sub002/pkg/types"
)

const webhookSecret = "whsec_test"

type noSessions struct{}

func (noSessions) New(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return nil, errors.New("not used")
}

func (noSessions) Get(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return nil, errors.New("not used")
}

func (noSessions) Expire(string, *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error) {
	return nil, errors.New("not used")
}

type memoryStore struct {
	keys   map[string]any
	failed bool
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.keys[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return fmt.Sprint(v), nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if m.failed {
		return false, errors.New("dial tcp: connection refused")
	}
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = value
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

type fakeRefunder struct {
	intents []string
	keys    []string
	err     error
}

func (f *fakeRefunder) RefundPaymentIntent(_ context.Context, paymentIntentID, idempotencyKey string) (string, error) {
	f.intents = append(f.intents, paymentIntentID)
	f.keys = append(f.keys, idempotencyKey)
	if f.err != nil {
		return "", f.err
	}
	return "re_" + paymentIntentID, nil
}

type recordedEvent struct{ eventType, outcome string }

type recorder struct{ events []recordedEvent }

func (r *recorder) ObserveEvent(eventType, outcome string) {
	r.events = append(r.events, recordedEvent{eventType, outcome})
}

type suite struct {
	conn      *gorm.DB
	repo      orders.Repository
	carts     cart.Service
	store     *memoryStore
	recorder  *recorder
	refunder  *fakeRefunder
	params    ProcessorParams
	processor *Processor
	customer  access.Principal
}

func newSuite(t *testing.T, machine transitioner) *suite {
	t.Helper()
	conn := dbtest.Open(t)
	client := db.NewFromGorm(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	repo := orders.NewRepository(conn)

	carts, err := cart.NewService(cart.ServiceParams{
		Repository:        cart.NewRepository(conn),
		TransactionRunner: client,
		Catalog:           catalog.NewRepository(conn),
		Outbox:            emitter,
	})
	require.NoError(t, err)
	if machine == nil {
		machine, err = orders.NewService(orders.ServiceParams{
			Repository:        repo,
			TransactionRunner: client,
			Outbox:            emitter,
		})
		require.NoError(t, err)
	}

	verifier, err := pkgstripe.NewWithSessions(config.StripeConfig{Env: "test", WebhookSecret: webhookSecret}, noSessions{})
	require.NoError(t, err)
	store := &memoryStore{keys: map[string]any{}}
	guard, err := NewRedisGuard(store, time.Hour)
	require.NoError(t, err)
	rec := &recorder{}
	refunder := &fakeRefunder{}

	params := ProcessorParams{
		Verifier: verifier,
		Orders:   repo,
		Machine:  machine,
		Carts:    carts,
		Guard:    guard,
		Refunder: refunder,
		Metrics:  rec,
	}
	processor, err := NewProcessor(params)
	require.NoError(t, err)

	return &suite{
		conn:      conn,
		repo:      repo,
		carts:     carts,
		store:     store,
		recorder:  rec,
		refunder:  refunder,
		params:    params,
		processor: processor,
		customer:  access.Principal{UserID: uuid.New(), Role: enums.RoleCustomer},
	}
}

// pendingOrder seeds a cart with one line and a pending order checked out from it.
func (s *suite) pendingOrder(t *testing.T, status enums.OrderStatus, sessionRef string) *models.Order {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	product := models.Product{ID: uuid.New(), TailorID: uuid.New(), Title: "Overcoat", PriceCents: 21100, Currency: enums.CurrencyUSD, IsActive: true}
	require.NoError(t, s.conn.Create(&product).Error)
	view, err := s.carts.AddItem(ctx, s.customer, s.customer.UserID, cart.AddItemInput{ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)

	order := &models.Order{
		ID:                uuid.New(),
		OwnerID:           s.customer.UserID,
		Status:            status,
		TotalCents:        21100,
		PlatformFeeCents:  8440,
		TailorAmountCents: 12660,
		Currency:          enums.CurrencyUSD,
		GatewaySessionRef: &sessionRef,
		ShippingAddress:   types.Address{RecipientName: "Ada", Line1: "1 Row", City: "London", PostalCode: "W1", Country: "GB"},
		ShippingMethod:    "standard",
		CheckoutKey:       "cart:" + view.ID.String(),
		CartID:            view.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
		Items: []models.OrderItem{{
			ID: uuid.New(), ProductID: product.ID, TailorID: product.TailorID, Title: product.Title,
			Quantity: 1, UnitPriceCents: 21100, SubtotalCents: 21100, CreatedAt: now,
		}},
	}
	if status != enums.OrderStatusPending {
		paidAt := now
		intent := "pi_9"
		order.PaidAt = &paidAt
		order.PaymentIntentRef = &intent
	}
	if status == enums.OrderStatusShipped || status == enums.OrderStatusDelivered {
		tracking := "1Z999"
		order.TrackingRef = &tracking
	}
	require.NoError(t, s.repo.Create(ctx, order))
	return order
}

func signed(t *testing.T, payload string) ([]byte, string) {
	t.Helper()
	body := []byte(payload)
	sig := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return body, sig.Header
}

func sessionEvent(eventID, eventType, sessionID, paymentStatus string, orderID uuid.UUID) string {
	return paidSessionEvent(eventID, eventType, sessionID, paymentStatus, "pi_9", 21100, orderID)
}

func paidSessionEvent(eventID, eventType, sessionID, paymentStatus, paymentIntent string, amount int64, orderID uuid.UUID) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2024-04-10","data":{"object":{"id":%q,"object":"checkout.session","payment_status":%q,"payment_intent":%q,"amount_total":%d,"currency":"usd","metadata":{"order_id":%q}}}}`,
		eventID, eventType, sessionID, paymentStatus, paymentIntent, amount, orderID.String())
}

func (s *suite) reload(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := s.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func TestCheckoutCompletedMarksPaidAndClearsCart(t *testing.T) {
	s := newSuite(t, nil)
	order := s.pendingOrder(t, enums.OrderStatusPending, "cs_1")
	ctx := context.Background()

	body, sig := signed(t, sessionEvent("evt_1", pkgstripe.EventCheckoutSessionCompleted, "cs_1", "paid", order.ID))
	outcome, err := s.processor.HandleNotification(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, metrics.WebhookOutcomeApplied, outcome)

	paid := s.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.PaymentIntentRef)
	assert.Equal(t, "pi_9", *paid.PaymentIntentRef)

	view, err := s.carts.Snapshot(ctx, s.customer, s.customer.UserID)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	outcome, err = s.processor.HandleNotification(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, metrics.WebhookOutcomeDuplicate, outcome)

	s.store.failed = true
	outcome, err = s.processor.HandleNotification(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, metrics.WebhookOutcomeDuplicate, outcome)

	replayed := s.reload(t, order.ID)
	assert.True(t, paid.PaidAt.Equal(*replayed.PaidAt))
	transitions, err := s.repo.ListTransitions(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, transitions, 1)
}

func TestInvalidSignatureIsRejected(t *testing.T) {
	s := newSuite(t, nil)
	order := s.pendingOrder(t, enums.OrderStatusPending, "cs_1")

	body, _ := signed(t, sessionEvent("evt_1", pkgstripe.EventCheckoutSessionCompleted, "cs_1", "paid", order.ID))
	_, err := s.processor.HandleNotification(context.Background(), body, "t=1,v1=forged")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature))

	assert.Equal(t, enums.OrderStatusPending, s.reload(t, order.ID).Status)
	assert.Empty(t, s.store.keys)
	require.Len(t, s.recorder.events, 1)
	assert.Equal(t, metrics.WebhookOutcomeRejected, s.recorder.events[0].outcome)
}

func TestUnknownEventIsAcknowledged(t *testing.T) {
	s := newSuite(t, nil)
	order := s.pendingOrder(t, enums.OrderStatusPending, "cs_1")

	body, sig := signed(t, `{"id":"evt_x","object":"event","type":"customer.created","api_version":"2024-04-10","data":{"object":{"id":"cus_1","object":"customer"}}}`)
	outcome, err := s.processor.HandleNotification(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, metrics.WebhookOutcomeIgnored, outcome)

	after := s.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPending, after.Status)
	assert.Equal(t, order.Version, after.Version)
}

func TestCompletedWithoutPaymentWaits(t *testing.T) {
	s := newSuite(t, nil)
	order := s.pendingOrder(t, enums.OrderStatusPending, "cs_1")

	body, sig := signed(t, sessionEvent("evt_2", pkgstripe.EventCheckoutSessionCompleted, "cs_1", "unpaid", order.ID))
	outcome, err := s.processor.HandleNotification(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, metrics.WebhookOutcomeIgnored, outcome)
	assert.Equal(t, enums.OrderStatusPending, s.reload(t, order.ID).Status)
}

func TestExpiredSessionCancelsPendingOrder(t *testing.T) {
	s := newSuite(t, nil)
	order := s.pendingOrder(t, enums.OrderStatusPending, "cs_1")

	body, sig := signed(t, sessionEvent("evt_3", pkgstripe.EventCheckoutSessionExpired, "cs_1", "unpaid", order.ID))
	outcome, err := s.processor.HandleNotification(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, metrics.WebhookOutcomeApplied, outcome)

	after := s.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, after.Status)
	require.NotNil(t, after.CancelReason)
	assert.Equal(t, reasonCheckoutExpired, *after.CancelReason)
}

func TestRefunds(t *testing.T) {
	refund := `{"id":%q,"object":"event","type":"charge.refunded","api_version":"2024-04-10","data":{"object":{"id":"ch_1","object":"charge","amount":21100,"amount_refunded":%d,"refunded":%t,"payment_intent":"pi_9"}}}`

	t.Run("full refund cancels a paid order", func(t *testing.T) {
		s := newSuite(t, nil)
		order := s.pendingOrder(t, enums.OrderStatusPaid, "cs_1")
		body, sig := signed(t, fmt.Sprintf(refund, "evt_r1", 21100, true))
		outcome, err := s.processor.HandleNotification(context.Background(), body, sig)
		require.NoError(t, err)
		assert.Equal(t, metrics.WebhookOutcomeApplied, outcome)
		assert.Equal(t, enums.OrderStatusCancelled, s.reload(t, order.ID).Status)
	})

	t.Run("partial refund is ignored", func(t *testing.T) {
		s := newSuite(t, nil)
		order := s.pendingOrder(t, enums.OrderStatusPaid, "cs_1")
		body, sig := signed(t, fmt.Sprintf(refund, "evt_r2", 5000, false))
		outcome, err := s.processor.HandleNotification(context.Background(), body, sig)
		require.NoError(t, err)
		assert.Equal(t, metrics.WebhookOutcomeIgnored, outcome)
		assert.Equal(t, enums.OrderStatusPaid, s.reload(t, order.ID).Status)
	})

	t.Run("refund after shipment is acknowledged without change", func(t *testing.T) {
		s := newSuite(t, nil)
		order := s.pendingOrder(t, enums.OrderStatusShipped, "cs_1")
		body, sig := signed(t, fmt.Sprintf(refund, "evt_r3", 21100, true))
		outcome, err := s.processor.HandleNotification(context.Background(), body, sig)
		require.NoError(t, err)
		assert.Equal(t, metrics.WebhookOutcomeIgnored, outcome)
		assert.Equal(t, enums.OrderStatusShipped, s.reload(t, order.ID).Status)
	})
}

func TestUnknownOrderIsAcknowledged(t *testing.T) {
	s := newSuite(t, nil)
	body, sig := signed(t, sessionEvent("evt_4", pkgstripe.EventCheckoutSessionCompleted, "cs_missing", "paid", uuid.New()))
	outcome, err := s.processor.HandleNotification(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, outcomeOrderNotFound, outcome)
}

type failingMachine struct{}

func (failingMachine) TransitionWithRetry(context.Context, orders.TransitionRequest) (*orders.TransitionResult, error) {
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("connection reset"), "update order status")
}

func TestFailureReleasesClaimForRetry(t *testing.T) {
	s := newSuite(t, failingMachine{})
	order := s.pendingOrder(t, enums.OrderStatusPending, "cs_1")

	body, sig := signed(t, sessionEvent("evt_5", pkgstripe.EventCheckoutSessionCompleted, "cs_1", "paid", order.ID))
	_, err := s.processor.HandleNotification(context.Background(), body, sig)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Empty(t, s.store.keys)
	assert.Equal(t, metrics.WebhookOutcomeFailed, s.recorder.events[len(s.recorder.events)-1].outcome)
}

func TestPaymentAfterCancellationIsRefunded(t *testing.T) {
	s := newSuite(t, nil)
	order := s.pendingOrder(t, enums.OrderStatusPending, "cs_1")
	ctx := context.Background()

	body, sig := signed(t, sessionEvent("evt_exp", pkgstripe.EventCheckoutSessionExpired, "cs_1", "unpaid", order.ID))
	_, err := s.processor.HandleNotification(ctx, body, sig)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, s.reload(t, order.ID).Status)

	body, sig = signed(t, sessionEvent("evt_paid", pkgstripe.EventCheckoutSessionCompleted, "cs_1", "paid", order.ID))
	outcome, err := s.processor.HandleNotification(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, metrics.WebhookOutcomeRefunded, outcome)
	assert.Equal(t, []string{"pi_9"}, s.refunder.intents)
	assert.Equal(t, "refund-"+order.ID.String()+"-pi_9", s.refunder.keys[0])
	assert.Equal(t, enums.OrderStatusCancelled, s.reload(t, order.ID).Status)
}

func TestPaymentAfterCancellationWithoutRefunderIsSurfaced(t *testing.T) {
	s := newSuite(t, nil)
	params := s.params
	params.Refunder = nil
	processor, err := NewProcessor(params)
	require.NoError(t, err)

	order := s.pendingOrder(t, enums.OrderStatusPending, "cs_1")
	ctx := context.Background()
	body, sig := signed(t, sessionEvent("evt_exp", pkgstripe.EventCheckoutSessionExpired, "cs_1", "unpaid", order.ID))
	_, err = processor.HandleNotification(ctx, body, sig)
	require.NoError(t, err)

	body, sig = signed(t, sessionEvent("evt_paid", pkgstripe.EventCheckoutSessionCompleted, "cs_1", "paid", order.ID))
	_, err = processor.HandleNotification(ctx, body, sig)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentMismatch))
	assert.GreaterOrEqual(t, pkgerrors.MetadataFor(pkgerrors.CodePaymentMismatch).HTTPStatus, 500)
	_, claimed := s.store.keys[s.store.IdempotencyKey(guardScope, "evt_paid")]
	assert.False(t, claimed, "claim released so the gateway redelivers")
}

func TestRefundFailureAsksForRedelivery(t *testing.T) {
	s := newSuite(t, nil)
	s.refunder.err = errors.New("stripe down")
	order := s.pendingOrder(t, enums.OrderStatusPending, "cs_1")
	ctx := context.Background()

	body, sig := signed(t, sessionEvent("evt_exp", pkgstripe.EventCheckoutSessionExpired, "cs_1", "unpaid", order.ID))
	_, err := s.processor.HandleNotification(ctx, body, sig)
	require.NoError(t, err)

	body, sig = signed(t, sessionEvent("evt_paid", pkgstripe.EventCheckoutSessionCompleted, "cs_1", "paid", order.ID))
	_, err = s.processor.HandleNotification(ctx, body, sig)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
}

func TestSecondPaymentOnPaidOrderIsRefunded(t *testing.T) {
	s := newSuite(t, nil)
	order := s.pendingOrder(t, enums.OrderStatusPaid, "cs_1")

	body, sig := signed(t, paidSessionEvent("evt_dup", pkgstripe.EventCheckoutSessionCompleted, "cs_stale", "paid", "pi_other", 21100, order.ID))
	outcome, err := s.processor.HandleNotification(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, metrics.WebhookOutcomeRefunded, outcome)
	assert.Equal(t, []string{"pi_other"}, s.refunder.intents)

	paid := s.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPaid, paid.Status)
	assert.Equal(t, "pi_9", *paid.PaymentIntentRef)
}

func TestPaidAmountMismatchLeavesOrderPending(t *testing.T) {
	s := newSuite(t, nil)
	order := s.pendingOrder(t, enums.OrderStatusPending, "cs_1")

	// A session opened before the order was re-priced, found through its metadata.
	body, sig := signed(t, paidSessionEvent("evt_old", pkgstripe.EventCheckoutSessionCompleted, "cs_before_reprice", "paid", "pi_old", 15000, order.ID))
	_, err := s.processor.HandleNotification(context.Background(), body, sig)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentMismatch))

	after := s.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPending, after.Status)
	assert.Nil(t, after.PaidAt)
	assert.Empty(t, s.refunder.intents)
	assert.Equal(t, metrics.WebhookOutcomeFailed, s.recorder.events[len(s.recorder.events)-1].outcome)
}
