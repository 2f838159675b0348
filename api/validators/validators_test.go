package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
)

type shipBody struct {
	TrackingRef string `json:"trackingRef" validate:"required,max=128"`
	Quantity    int    `json:"quantity" validate:"gte=1"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		detail string
	}{
		{"empty body", "", ""},
		{"unknown field", `{"trackingRef":"1Z","quantity":1,"extra":true}`, ""},
		{"missing field", `{"quantity":1}`, "trackingRef"},
		{"below min", `{"trackingRef":"1Z","quantity":0}`, "quantity"},
		{"trailing object", `{"trackingRef":"1Z","quantity":1}{}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dest shipBody
			err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
			if tc.detail != "" {
				details, ok := pkgerrors.As(err).Details().(map[string]string)
				require.True(t, ok)
				assert.Contains(t, details, tc.detail)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"trackingRef":"1Z999","quantity":2}`))
	var dest shipBody
	require.NoError(t, DecodeJSONBody(httptest.NewRecorder(), req, &dest))
	assert.Equal(t, "1Z999", dest.TrackingRef)
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders?limit=500&session_id=+cs_1+", nil)
	_, err := ParseQueryInt(req, "limit", 20, 1, 100)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	limit, err := ParseQueryInt(httptest.NewRequest(http.MethodGet, "/orders", nil), "limit", 20, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, limit)

	ref, err := RequiredQuery(req, "session_id")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", ref)
	_, err = RequiredQuery(req, "missing")
	assert.Error(t, err)
}

func TestURLParamUUID(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "not-a-uuid")
	req := httptest.NewRequest(http.MethodGet, "/orders/not-a-uuid", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	_, err := URLParamUUID(req, "id")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
