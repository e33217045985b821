package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_CreateIntent(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/intents", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Intent{
			ID:          "int_123",
			Amount:      1500,
			Currency:    "USD",
			RedirectURL: "https://pay.example.com/int_123",
		})
	}))
	defer server.Close()

	g := NewGateway(server.URL, "sk_test")
	intent, err := g.CreateIntent(context.Background(), 1500, "USD", "rent:abc:0")
	require.NoError(t, err)

	assert.Equal(t, "int_123", intent.ID)
	assert.Equal(t, "https://pay.example.com/int_123", intent.RedirectURL)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, 1500.0, gotPayload["amount"])
	assert.Equal(t, "USD", gotPayload["currency"])
	assert.Equal(t, "rent:abc:0", gotPayload["reference"])
}

func TestGateway_ConfirmIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/intents/int_123/confirm", r.URL.Path)
		json.NewEncoder(w).Encode(Confirmation{
			IntentID:      "int_123",
			Status:        "succeeded",
			TransactionID: "txn_456",
		})
	}))
	defer server.Close()

	g := NewGateway(server.URL, "sk_test")
	confirmation, err := g.ConfirmIntent(context.Background(), "int_123")
	require.NoError(t, err)
	assert.Equal(t, "txn_456", confirmation.TransactionID)
}

func TestGateway_ConfirmIntentDeclined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Confirmation{
			IntentID: "int_123",
			Status:   "failed",
		})
	}))
	defer server.Close()

	g := NewGateway(server.URL, "sk_test")
	_, err := g.ConfirmIntent(context.Background(), "int_123")
	assert.ErrorIs(t, err, ErrPaymentDeclined)
}

func TestGateway_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	g := NewGateway(server.URL, "sk_bad")
	_, err := g.CreateIntent(context.Background(), 100, "USD", "ref")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
