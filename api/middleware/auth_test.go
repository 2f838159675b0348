package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/internal/access"
	"github.com/NorikGo/tailormp-sub002/pkg/auth"
	"github.com/NorikGo/tailormp-sub002/pkg/config"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "identity.test"}

func mintTestToken(t *testing.T, cfg config.JWTConfig, payload auth.AccessTokenPayload) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now(), time.Hour, payload)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func capturePrincipal(captured *access.Principal, seen *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured, *seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingAndMalformedTokens(t *testing.T) {
	var p access.Principal
	var seen bool
	handler := Auth(testJWT, logger.Nop())(capturePrincipal(&p, &seen))

	for _, header := range []string{"", "Bearer ", "Basic abc", "Bearer invalid"} {
		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%q: expected 401 got %d", header, resp.Code)
		}
	}
	if seen {
		t.Fatal("handler must not run without a valid token")
	}
}

func TestAuthRejectsForeignIssuer(t *testing.T) {
	token := mintTestToken(t, config.JWTConfig{Secret: testJWT.Secret, Issuer: "someone-else"}, auth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.RoleCustomer,
	})
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
}

func TestAuthSeedsPrincipal(t *testing.T) {
	userID := uuid.New()
	tailorID := uuid.New()
	token := mintTestToken(t, testJWT, auth.AccessTokenPayload{
		UserID:   userID,
		Role:     enums.RoleTailor,
		TailorID: &tailorID,
	})

	var p access.Principal
	var seen bool
	handler := Auth(testJWT, logger.Nop())(capturePrincipal(&p, &seen))
	req := httptest.NewRequest(http.MethodGet, "/tailor/orders", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !seen || p.UserID != userID || p.Role != enums.RoleTailor {
		t.Fatalf("unexpected principal %+v", p)
	}
	if p.TailorID == nil || *p.TailorID != tailorID {
		t.Fatalf("expected tailor id %s", tailorID)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(nil, enums.RoleTailor, enums.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tailorID := uuid.New()
	cases := []struct {
		name      string
		principal *access.Principal
		want      int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"customer", &access.Principal{UserID: uuid.New(), Role: enums.RoleCustomer}, http.StatusForbidden},
		{"tailor", &access.Principal{UserID: uuid.New(), Role: enums.RoleTailor, TailorID: &tailorID}, http.StatusNoContent},
		{"admin", &access.Principal{UserID: uuid.New(), Role: enums.RoleAdmin}, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/tailor/orders", nil)
		if tc.principal != nil {
			req = req.WithContext(WithPrincipal(req.Context(), *tc.principal))
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, resp.Code)
		}
	}
}

func TestRequestIDEchoesOrMints(t *testing.T) {
	handler := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(requestIDHeader, "req-123")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if got := resp.Header().Get(requestIDHeader); got != "req-123" {
		t.Fatalf("expected echoed id, got %q", got)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if _, err := uuid.Parse(resp.Header().Get(requestIDHeader)); err != nil {
		t.Fatalf("expected minted uuid, got %q", resp.Header().Get(requestIDHeader))
	}
}

func TestRecovererReturnsInternalError(t *testing.T) {
	handler := Recoverer(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}
