package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ringwise/ringwise-backend/api/middleware"
	billingsvc "github.com/ringwise/ringwise-backend/internal/billing"
	"github.com/ringwise/ringwise-backend/internal/subscriptions"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/enums"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
)

type stubCatalog struct {
	plans []models.Plan
}

func (s stubCatalog) ListPlans(context.Context) ([]models.Plan, error) { return s.plans, nil }

type stubRegistrar struct {
	input billingsvc.PendingOrderInput
	err   error
}

func (s *stubRegistrar) RegisterPendingOrder(_ context.Context, input billingsvc.PendingOrderInput) (*models.Subscription, error) {
	s.input = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Subscription{
		ID:              uuid.New(),
		PlanID:          input.PlanID,
		ExternalOrderID: input.OrderID,
		Status:          enums.SubscriptionStatusPending,
	}, nil
}

type stubActivator struct {
	input subscriptions.ActivateInput
	err   error
}

func (s *stubActivator) Activate(_ context.Context, input subscriptions.ActivateInput) (*subscriptions.Activation, error) {
	s.input = input
	if s.err != nil {
		return nil, s.err
	}
	return &subscriptions.Activation{
		SubscriptionID:   uuid.New(),
		PlanID:           "pro",
		CaptureID:        "CAP-1",
		MinutesIncluded:  300,
		MinutesRemaining: 300,
		RenewalDate:      time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC),
	}, nil
}

func withAccount(req *http.Request, id uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), id.String()))
}

func TestPlansListFormatsPrice(t *testing.T) {
	catalog := stubCatalog{plans: []models.Plan{
		{ID: "pro", Name: "Pro", MinutesIncluded: 300, Price: decimal.RequireFromString("19.9"), Currency: "EUR"},
	}}
	rec := httptest.NewRecorder()
	PlansList(catalog, nil)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/billing/plans", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var envelope struct {
		Data planListResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Plans) != 1 || envelope.Data.Plans[0].Price != "19.90" {
		t.Fatalf("unexpected plans %+v", envelope.Data.Plans)
	}
}

func TestPayPalRegisterOrder(t *testing.T) {
	svc := &stubRegistrar{}
	accountID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/paypal/orders", strings.NewReader(`{"planId":" pro ","orderId":"ORDER-1"}`))
	rec := httptest.NewRecorder()
	PayPalRegisterOrder(svc, nil)(rec, withAccount(req, accountID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.input.AccountID != accountID || svc.input.PlanID != "pro" || svc.input.OrderID != "ORDER-1" {
		t.Fatalf("unexpected input %+v", svc.input)
	}
	if !strings.Contains(rec.Body.String(), `"status":"pending"`) {
		t.Fatalf("expected pending status, got %s", rec.Body.String())
	}
}

func TestPayPalCapture(t *testing.T) {
	svc := &stubActivator{}
	accountID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/paypal/capture", strings.NewReader(`{"orderId":"ORDER-1"}`))
	rec := httptest.NewRecorder()
	PayPalCapture(svc, nil)(rec, withAccount(req, accountID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.input.AccountID != accountID || svc.input.OrderID != "ORDER-1" {
		t.Fatalf("unexpected input %+v", svc.input)
	}
	var envelope struct {
		Data subscriptions.Activation `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.MinutesRemaining != 300 || envelope.Data.CaptureID != "CAP-1" {
		t.Fatalf("unexpected activation %+v", envelope.Data)
	}
}

func TestPayPalCaptureErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/paypal/capture", strings.NewReader(`{"orderId":"ORDER-1"}`))
	PayPalCapture(&stubActivator{}, nil)(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/billing/paypal/capture", strings.NewReader(`{}`))
	PayPalCapture(&stubActivator{}, nil)(rec, withAccount(req, uuid.New()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing order, got %d", rec.Code)
	}

	svc := &stubActivator{err: pkgerrors.New(pkgerrors.CodeConflict, "order already captured")}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/billing/paypal/capture", strings.NewReader(`{"orderId":"ORDER-1"}`))
	PayPalCapture(svc, nil)(rec, withAccount(req, uuid.New()))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}
