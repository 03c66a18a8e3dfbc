package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return New(Config{
		BaseURL:         url,
		AccessToken:     "token-123",
		Currency:        "ARS",
		BackURL:         "https://tickets.example.com",
		NotificationURL: "https://tickets.example.com/v1/webhooks/payment",
	})
}

func TestCreatePreference(t *testing.T) {
	var got preferenceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":         "pref-1",
			"init_point": "https://pay.example.com/pref-1",
		})
	}))
	defer srv.Close()

	pref, err := newTestClient(srv.URL).CreatePreference(context.Background(), PreferenceParams{
		OrderRef:  "order-uuid",
		Title:     "Opening Night - General",
		Quantity:  3,
		UnitPrice: decimal.RequireFromString("1500.50"),
		Payer:     Payer{Name: "Ada", Surname: "Lovelace", Email: "ada@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pref-1", pref.ID)
	assert.Equal(t, "https://pay.example.com/pref-1", pref.InitPoint)

	require.Len(t, got.Items, 1)
	assert.Equal(t, "order-uuid", got.ExternalReference)
	assert.Equal(t, uint32(3), got.Items[0].Quantity)
	assert.Equal(t, 1500.50, got.Items[0].UnitPrice)
	assert.Equal(t, "ARS", got.Items[0].CurrencyID)
	assert.True(t, got.BinaryMode)
	assert.Equal(t, "https://tickets.example.com/purchase/success", got.BackURLs["success"])
	assert.Equal(t, "ada@example.com", got.Payer.Email)
}

func TestCreatePreferenceGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreatePreference(context.Background(), PreferenceParams{
		OrderRef: "x", Title: "t", Quantity: 1, UnitPrice: decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestCreatePreferenceIncompleteReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "pref-1"}) // no init_point
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreatePreference(context.Background(), PreferenceParams{
		OrderRef: "x", Title: "t", Quantity: 1, UnitPrice: decimal.NewFromInt(10),
	})
	assert.Error(t, err)
}

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay-77", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":                 "pay-77",
			"status":             "approved",
			"external_reference": "order-uuid",
		})
	}))
	defer srv.Close()

	pay, err := newTestClient(srv.URL).GetPayment(context.Background(), "pay-77")
	require.NoError(t, err)
	assert.Equal(t, "approved", pay.Status)
	assert.Equal(t, "order-uuid", pay.ExternalReference)
}

func TestGetPaymentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetPayment(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
