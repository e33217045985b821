// Package payments wraps the external card-payment gateway behind a small
// client. Amounts are charged by creating an intent, redirecting the payer,
// and confirming the intent server-side once the gateway calls back.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrPaymentDeclined is returned when the gateway reports a failed or
// declined charge on confirmation.
var ErrPaymentDeclined = errors.New("payment was declined by the gateway")

// Intent is a pending charge registered with the gateway.
type Intent struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	RedirectURL string  `json:"redirect_url"`
}

// Confirmation is the gateway's final verdict on an intent.
type Confirmation struct {
	IntentID      string `json:"intent_id"`
	Status        string `json:"status"` // "succeeded" or "failed"
	TransactionID string `json:"transaction_id"`
}

// IGateway defines the interface for the payment gateway. Tests substitute a
// fake that succeeds or declines deterministically.
type IGateway interface {
	CreateIntent(ctx context.Context, amount float64, currency, reference string) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID string) (*Confirmation, error)
}

// Gateway is the HTTP client for the hosted gateway API.
type Gateway struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewGateway creates a gateway client.
func NewGateway(baseURL, secret string) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateIntent registers a charge with the gateway and returns the intent,
// including the URL to redirect the payer to.
func (g *Gateway) CreateIntent(ctx context.Context, amount float64, currency, reference string) (*Intent, error) {
	payload := map[string]interface{}{
		"amount":    amount,
		"currency":  currency,
		"reference": reference,
	}
	var intent Intent
	if err := g.post(ctx, "/v1/intents", payload, &intent); err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return &intent, nil
}

// ConfirmIntent fetches the gateway's final status for an intent. A
// non-succeeded status maps to ErrPaymentDeclined.
func (g *Gateway) ConfirmIntent(ctx context.Context, intentID string) (*Confirmation, error) {
	var confirmation Confirmation
	if err := g.post(ctx, "/v1/intents/"+intentID+"/confirm", nil, &confirmation); err != nil {
		return nil, fmt.Errorf("failed to confirm payment intent %s: %w", intentID, err)
	}
	if confirmation.Status != "succeeded" {
		return nil, ErrPaymentDeclined
	}
	return &confirmation, nil
}

func (g *Gateway) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal gateway payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.secret)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}
