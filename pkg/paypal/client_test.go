package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/plutov/paypal/v4"

	"github.com/ringwise/ringwise-backend/pkg/config"
)

type fakeCapturer struct {
	resp *paypal.CaptureOrderResponse
	err  error
	got  string
}

func (f *fakeCapturer) CaptureOrder(_ context.Context, orderID string, _ paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error) {
	f.got = orderID
	return f.resp, f.err
}

func completedResponse() *paypal.CaptureOrderResponse {
	return &paypal.CaptureOrderResponse{
		ID:     "ORDER-1",
		Status: "COMPLETED",
		PurchaseUnits: []paypal.CapturedPurchaseUnit{{
			Payments: &paypal.CapturedPayments{
				Captures: []paypal.CaptureAmount{{
					ID:     "CAP-1",
					Status: "COMPLETED",
					Amount: &paypal.PurchaseUnitAmount{Currency: "EUR", Value: "29.99"},
				}},
			},
		}},
	}
}

func TestCaptureOrderMapsFirstCapture(t *testing.T) {
	fake := &fakeCapturer{resp: completedResponse()}
	client := &Client{api: fake}

	capture, err := client.CaptureOrder(context.Background(), " ORDER-1 ")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if fake.got != "ORDER-1" {
		t.Fatalf("expected trimmed order id, got %q", fake.got)
	}
	if !capture.Completed() {
		t.Fatalf("expected completed capture, got %+v", capture)
	}
	if capture.CaptureID != "CAP-1" || capture.Currency != "EUR" || capture.Amount.String() != "29.99" {
		t.Fatalf("unexpected capture %+v", capture)
	}
}

func TestCaptureOrderPendingCaptureIsNotCompleted(t *testing.T) {
	resp := completedResponse()
	resp.PurchaseUnits[0].Payments.Captures[0].Status = "PENDING"
	capture, err := (&Client{api: &fakeCapturer{resp: resp}}).CaptureOrder(context.Background(), "ORDER-1")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if capture.Completed() || capture.Status != "PENDING" {
		t.Fatalf("expected pending capture, got %+v", capture)
	}
}

func TestCaptureOrderErrors(t *testing.T) {
	client := &Client{api: &fakeCapturer{err: errors.New("UNPROCESSABLE_ENTITY")}}
	if _, err := client.CaptureOrder(context.Background(), "ORDER-1"); err == nil {
		t.Fatal("expected capture error")
	}
	if _, err := client.CaptureOrder(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty order id")
	}

	bad := completedResponse()
	bad.PurchaseUnits[0].Payments.Captures[0].Amount.Value = "abc"
	if _, err := (&Client{api: &fakeCapturer{resp: bad}}).CaptureOrder(context.Background(), "ORDER-1"); err == nil {
		t.Fatal("expected amount parse error")
	}
}

func TestNewClientValidatesEnvironment(t *testing.T) {
	if _, err := NewClient(config.PayPalConfig{}); err == nil {
		t.Fatal("expected missing credentials error")
	}
	if _, err := NewClient(config.PayPalConfig{ClientID: "id", Secret: "s", Env: "staging"}); err == nil {
		t.Fatal("expected unknown environment error")
	}
	if _, err := NewClient(config.PayPalConfig{ClientID: "id", Secret: "s", Env: "live"}); err != nil {
		t.Fatalf("live client: %v", err)
	}
}

func TestCaptureOrderAgainstRESTServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/oauth2/token":
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":32400}`))
		case strings.HasSuffix(r.URL.Path, "/v2/checkout/orders/ORDER-9/capture"):
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     "ORDER-9",
				"status": "COMPLETED",
				"purchase_units": []any{map[string]any{
					"reference_id": "default",
					"payments": map[string]any{
						"captures": []any{map[string]any{
							"id":     "CAP-9",
							"status": "COMPLETED",
							"amount": map[string]any{"currency_code": "EUR", "value": "14.99"},
						}},
					},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := newClientWithBase("id", "secret", srv.URL)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	capture, err := client.CaptureOrder(context.Background(), "ORDER-9")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !capture.Completed() || capture.CaptureID != "CAP-9" || capture.Amount.String() != "14.99" {
		t.Fatalf("unexpected capture %+v", capture)
	}
}
