// Package paypal captures approved checkout orders.
package paypal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"

	"github.com/ringwise/ringwise-backend/pkg/config"
)

// StatusCompleted is the only order/capture status that moves funds.
const StatusCompleted = "COMPLETED"

type orderCapturer interface {
	CaptureOrder(ctx context.Context, orderID string, req paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error)
}

// Capture is the outcome of capturing an order.
type Capture struct {
	OrderID   string
	Status    string
	CaptureID string
	Amount    decimal.Decimal
	Currency  string
}

// Completed reports whether both the order and its capture completed.
func (c *Capture) Completed() bool {
	return c != nil && c.Status == StatusCompleted && c.CaptureID != ""
}

type Client struct {
	api orderCapturer
}

// NewClient builds a PayPal REST client for the configured environment.
func NewClient(cfg config.PayPalConfig) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("paypal client id and secret are required")
	}
	base := paypal.APIBaseSandBox
	switch cfg.Environment() {
	case "sandbox":
	case "live", "production":
		base = paypal.APIBaseLive
	default:
		return nil, fmt.Errorf("unknown paypal environment %q", cfg.Env)
	}
	return newClientWithBase(cfg.ClientID, cfg.Secret, base)
}

func newClientWithBase(clientID, secret, base string) (*Client, error) {
	api, err := paypal.NewClient(clientID, secret, base)
	if err != nil {
		return nil, fmt.Errorf("creating paypal client: %w", err)
	}
	return &Client{api: api}, nil
}

// CaptureOrder captures orderID and returns the first capture of the first
// purchase unit.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	if c == nil || c.api == nil {
		return nil, errors.New("paypal client not initialized")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("order id is required")
	}

	resp, err := c.api.CaptureOrder(ctx, orderID, paypal.CaptureOrderRequest{})
	if err != nil {
		return nil, fmt.Errorf("capture order %s: %w", orderID, err)
	}
	return captureFromResponse(orderID, resp)
}

func captureFromResponse(orderID string, resp *paypal.CaptureOrderResponse) (*Capture, error) {
	if resp == nil {
		return nil, fmt.Errorf("capture order %s: empty response", orderID)
	}
	out := &Capture{OrderID: orderID, Status: resp.Status}
	if resp.ID != "" {
		out.OrderID = resp.ID
	}
	for _, unit := range resp.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			out.CaptureID = capture.ID
			if capture.Status != "" && capture.Status != StatusCompleted {
				out.Status = capture.Status
			}
			if capture.Amount != nil {
				out.Currency = capture.Amount.Currency
				amount, err := decimal.NewFromString(capture.Amount.Value)
				if err != nil {
					return nil, fmt.Errorf("parsing capture amount %q: %w", capture.Amount.Value, err)
				}
				out.Amount = amount
			}
			return out, nil
		}
	}
	return out, nil
}
