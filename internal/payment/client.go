// Package payment is the HTTP client for the external payment gateway.
// The gateway issues checkout preferences correlated by an external
// reference (our order UUID) and exposes payment lookups used to resolve
// webhook notifications authoritatively.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Config carries gateway credentials and checkout behaviour.
type Config struct {
	BaseURL         string // gateway API root, no trailing slash
	AccessToken     string // bearer token
	Currency        string // ISO currency code for checkout items
	BackURL         string // where the buyer is redirected after paying
	NotificationURL string // webhook endpoint; empty disables notifications
}

// Client talks to the gateway. It is safe for concurrent use.
type Client struct {
	cfg Config
	hc  *http.Client
}

// New returns a Client with a bounded request timeout so a slow gateway
// cannot stall purchase requests indefinitely.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, hc: &http.Client{Timeout: 10 * time.Second}}
}

// Payer identifies the buyer on the checkout page.
type Payer struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
}

// PreferenceParams describe one checkout preference. OrderRef becomes the
// gateway's external_reference and is the correlation key for every later
// notification.
type PreferenceParams struct {
	OrderRef  string
	Title     string
	Quantity  uint32
	UnitPrice decimal.Decimal
	Payer     Payer
}

// Preference is the created checkout session.
type Preference struct {
	ID        string // gateway preference id
	InitPoint string // URL the buyer opens to pay
}

// Payment is the authoritative state of one payment attempt as reported
// by the gateway.
type Payment struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
}

type preferenceItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   uint32  `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	Payer             Payer             `json:"payer"`
	ExternalReference string            `json:"external_reference"`
	BackURLs          map[string]string `json:"back_urls,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	BinaryMode        bool              `json:"binary_mode"`
}

type preferenceReply struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// CreatePreference registers a checkout preference for an order. Any
// failure here (dial, status, decode) makes the caller compensate the
// reservation, so errors carry enough context to log usefully.
func (c *Client) CreatePreference(ctx context.Context, p PreferenceParams) (*Preference, error) {
	unitPrice, _ := p.UnitPrice.Round(2).Float64()
	reqBody := preferenceRequest{
		Items: []preferenceItem{{
			ID:         p.OrderRef,
			Title:      p.Title,
			Quantity:   p.Quantity,
			UnitPrice:  unitPrice,
			CurrencyID: c.cfg.Currency,
		}},
		Payer:             p.Payer,
		ExternalReference: p.OrderRef,
		NotificationURL:   c.cfg.NotificationURL,
		// binary mode: the gateway settles to approved or rejected only,
		// no in-between states to track.
		BinaryMode: true,
	}
	if c.cfg.BackURL != "" {
		reqBody.BackURLs = map[string]string{
			"success": c.cfg.BackURL + "/purchase/success",
			"failure": c.cfg.BackURL + "/purchase/failure",
			"pending": c.cfg.BackURL + "/purchase/pending",
		}
	}

	buf, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("payment: marshal preference: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/checkout/preferences", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("payment: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment: create preference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("payment: create preference: status %d, body %s", resp.StatusCode, rbody)
	}
	var reply preferenceReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("payment: decode preference: %w", err)
	}
	if reply.ID == "" || reply.InitPoint == "" {
		return nil, fmt.Errorf("payment: incomplete preference reply")
	}
	return &Preference{ID: reply.ID, InitPoint: reply.InitPoint}, nil
}

// GetPayment looks a payment up by the gateway's payment id. Webhook
// payloads are never trusted; this lookup is the authoritative status.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("payment: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment: get payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("payment: get payment %s: status %d, body %s", paymentID, resp.StatusCode, rbody)
	}
	var pay Payment
	if err := json.NewDecoder(resp.Body).Decode(&pay); err != nil {
		return nil, fmt.Errorf("payment: decode payment: %w", err)
	}
	if pay.ID == "" {
		pay.ID = paymentID
	}
	return &pay, nil
}
