package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/api/middleware"
	"github.com/NorikGo/tailormp-sub002/internal/access"
	checkoutsvc "github.com/NorikGo/tailormp-sub002/internal/checkout"
	"github.com/NorikGo/tailormp-sub002/internal/orders"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
)

type stubCheckoutService struct {
	result     *checkoutsvc.SessionResult
	lookup     *checkoutsvc.LookupResult
	err        error
	lastOwner  uuid.UUID
	lastReq    checkoutsvc.Request
	lastLookup string
}

func (s *stubCheckoutService) CreateSession(_ context.Context, _ access.Principal, ownerID uuid.UUID, req checkoutsvc.Request) (*checkoutsvc.SessionResult, error) {
	s.lastOwner = ownerID
	s.lastReq = req
	return s.result, s.err
}

func (s *stubCheckoutService) LookupSession(_ context.Context, _ access.Principal, sessionRef string) (*checkoutsvc.LookupResult, error) {
	s.lastLookup = sessionRef
	return s.lookup, s.err
}

func authed(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithPrincipal(req.Context(), access.Principal{UserID: userID, Role: enums.RoleCustomer}))
}

const sessionBody = `{
	"cartId": "%s",
	"shippingAddress": {"recipient_name": "Ada", "line1": "1 Savile Row", "city": "London", "postal_code": "W1S", "country": "GB"},
	"shippingMethod": "standard"
}`

func TestCreateSessionReturnsCreated(t *testing.T) {
	userID := uuid.New()
	cartID := uuid.New()
	orderID := uuid.New()
	svc := &stubCheckoutService{result: &checkoutsvc.SessionResult{
		SessionReference: "cs_test_1",
		OrderID:          orderID,
		URL:              "https://checkout.stripe.test/cs_test_1",
	}}
	body := strings.Replace(sessionBody, "%s", cartID.String(), 1)

	resp := httptest.NewRecorder()
	CreateSession(svc, nil).ServeHTTP(resp, authed(httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(body)), userID))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastOwner != userID || svc.lastReq.CartID == nil || *svc.lastReq.CartID != cartID {
		t.Fatalf("unexpected request forwarded: %+v", svc.lastReq)
	}
	if svc.lastReq.ShippingAddress.Country != "GB" {
		t.Fatalf("expected address to be forwarded")
	}
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"sessionReference", "orderId", "url"} {
		if _, ok := envelope.Data[key]; !ok {
			t.Fatalf("missing %s in %v", key, envelope.Data)
		}
	}
}

func TestCreateSessionGatewayFailureIs502(t *testing.T) {
	svc := &stubCheckoutService{err: pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "stripe timeout")}
	body := strings.Replace(sessionBody, "%s", uuid.NewString(), 1)

	resp := httptest.NewRecorder()
	CreateSession(svc, nil).ServeHTTP(resp, authed(httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(body)), uuid.New()))
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.Code)
	}
}

func TestCreateSessionRejectsMissingShippingMethod(t *testing.T) {
	svc := &stubCheckoutService{}
	body := `{"item":{"productId":"` + uuid.NewString() + `","quantity":1},"shippingAddress":{}}`

	resp := httptest.NewRecorder()
	CreateSession(svc, nil).ServeHTTP(resp, authed(httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(body)), uuid.New()))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.lastOwner != uuid.Nil {
		t.Fatal("service must not be called for invalid bodies")
	}
}

func TestLookupSession(t *testing.T) {
	userID := uuid.New()
	svc := &stubCheckoutService{lookup: &checkoutsvc.LookupResult{
		Order:         orders.OrderDTO{ID: uuid.New()},
		PaymentStatus: enums.PaymentStatusPaid,
	}}

	resp := httptest.NewRecorder()
	LookupSession(svc, nil).ServeHTTP(resp, authed(httptest.NewRequest(http.MethodGet, "/checkout/session?session_id=cs_test_9", nil), userID))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.lastLookup != "cs_test_9" {
		t.Fatalf("unexpected session ref %q", svc.lastLookup)
	}
	if !strings.Contains(resp.Body.String(), `"paymentStatus":"paid"`) {
		t.Fatalf("expected payment status in body: %s", resp.Body.String())
	}

	resp = httptest.NewRecorder()
	LookupSession(svc, nil).ServeHTTP(resp, authed(httptest.NewRequest(http.MethodGet, "/checkout/session", nil), userID))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without session_id, got %d", resp.Code)
	}
}
