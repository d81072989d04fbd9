package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ringwise/ringwise-backend/api/middleware"
	"github.com/ringwise/ringwise-backend/internal/accounts"
	"github.com/ringwise/ringwise-backend/internal/numbers"
	"github.com/ringwise/ringwise-backend/pkg/auth"
	"github.com/ringwise/ringwise-backend/pkg/config"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/enums"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/pagination"
)

type stubAccounts struct {
	registered accounts.RegisterInput
	toggled    *bool
	params     pagination.Params
	deleted    uuid.UUID
	err        error
}

func (s *stubAccounts) Register(_ context.Context, input accounts.RegisterInput) (*accounts.AccountView, error) {
	s.registered = input
	if s.err != nil {
		return nil, s.err
	}
	return &accounts.AccountView{ID: input.AccountID, PlanID: "free", MinutesIncluded: 10, MinutesRemaining: 10}, nil
}

func (s *stubAccounts) Get(_ context.Context, id uuid.UUID) (*accounts.AccountView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &accounts.AccountView{ID: id, MinutesRemaining: 4}, nil
}

func (s *stubAccounts) SetAgentEnabled(_ context.Context, id uuid.UUID, enabled bool) (*accounts.AccountView, error) {
	s.toggled = &enabled
	if s.err != nil {
		return nil, s.err
	}
	return &accounts.AccountView{ID: id, VoiceAgentEnabled: enabled}, nil
}

func (s *stubAccounts) ListCalls(_ context.Context, _ uuid.UUID, params pagination.Params) (*accounts.CallPage, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return &accounts.CallPage{Calls: []accounts.CallView{}, NextCursor: "next"}, nil
}

func (s *stubAccounts) Delete(_ context.Context, id uuid.UUID) error {
	s.deleted = id
	return s.err
}

type stubNumbers struct {
	allocated numbers.AllocateInput
	filter    numbers.ListFilter
	err       error
}

func (s *stubNumbers) Allocate(_ context.Context, input numbers.AllocateInput) (*models.VirtualNumber, error) {
	s.allocated = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.VirtualNumber{PhoneNumber: "+33612345678", CountryCode: "FR"}, nil
}

func (s *stubNumbers) Provision(_ context.Context, input numbers.ProvisionInput) (*models.VirtualNumber, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.VirtualNumber{ID: uuid.New(), PhoneNumber: input.PhoneNumber, CountryCode: "FR", Status: enums.NumberStatusActive}, nil
}

func (s *stubNumbers) List(_ context.Context, filter numbers.ListFilter) ([]models.VirtualNumber, error) {
	s.filter = filter
	return []models.VirtualNumber{{ID: uuid.New(), PhoneNumber: "+33612345678", Status: enums.NumberStatusActive}}, nil
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func asUser(req *http.Request, id uuid.UUID, role string) *http.Request {
	ctx := middleware.WithUserID(req.Context(), id.String())
	ctx = middleware.WithRole(ctx, role)
	return req.WithContext(ctx)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestAccountRegisterUsesTokenIdentity(t *testing.T) {
	svc := &stubAccounts{}
	userID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(`{"phoneNumber":"+33611111111","countryCode":"FR"}`))
	rec := httptest.NewRecorder()
	AccountRegister(svc, nil)(rec, asUser(req, userID, auth.RoleUser))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.registered.AccountID != userID || svc.registered.CountryCode != "FR" {
		t.Fatalf("unexpected register input %+v", svc.registered)
	}
	var view accounts.AccountView
	decodeData(t, rec, &view)
	if view.MinutesRemaining != 10 || view.PlanID != "free" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestAccountRoutesRequireIdentity(t *testing.T) {
	rec := httptest.NewRecorder()
	AccountMe(&stubAccounts{}, nil)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAccountSetAgentRequiresFlag(t *testing.T) {
	svc := &stubAccounts{}
	req := httptest.NewRequest(http.MethodPut, "/api/v1/accounts/me/agent", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	AccountSetAgent(svc, nil)(rec, asUser(req, uuid.New(), auth.RoleUser))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if svc.toggled != nil {
		t.Fatalf("service must not be called")
	}
}

func TestAccountSetAgentConflictWithoutMinutes(t *testing.T) {
	svc := &stubAccounts{err: pkgerrors.New(pkgerrors.CodeStateConflict, "no minutes remaining")}
	req := httptest.NewRequest(http.MethodPut, "/api/v1/accounts/me/agent", strings.NewReader(`{"enabled":true}`))
	rec := httptest.NewRecorder()
	AccountSetAgent(svc, nil)(rec, asUser(req, uuid.New(), auth.RoleUser))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if svc.toggled == nil || !*svc.toggled {
		t.Fatalf("expected enable request to reach the service")
	}
}

func TestAccountCallsPassesPagination(t *testing.T) {
	svc := &stubAccounts{}
	cursor := pagination.EncodeCursor(pagination.Cursor{CreatedAt: time.Now(), ID: uuid.New()})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me/calls?limit=10&cursor="+cursor, nil)
	rec := httptest.NewRecorder()
	AccountCalls(svc, nil)(rec, asUser(req, uuid.New(), auth.RoleUser))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.params.Limit != 10 || svc.params.Cursor != cursor {
		t.Fatalf("unexpected params %+v", svc.params)
	}

	svc.params = pagination.Params{}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me/calls?cursor=abc", nil)
	rec = httptest.NewRecorder()
	AccountCalls(svc, nil)(rec, asUser(req, uuid.New(), auth.RoleUser))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for undecodable cursor, got %d", rec.Code)
	}
	if svc.params.Cursor != "" {
		t.Fatalf("expected service not to be called, got %+v", svc.params)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me/calls?limit=1000", nil)
	rec = httptest.NewRecorder()
	AccountCalls(svc, nil)(rec, asUser(req, uuid.New(), auth.RoleUser))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range limit, got %d", rec.Code)
	}
}

func TestAccountDelete(t *testing.T) {
	svc := &stubAccounts{}
	userID := uuid.New()
	rec := httptest.NewRecorder()
	AccountDelete(svc, nil)(rec, asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/accounts/me", nil), userID, auth.RoleUser))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if svc.deleted != userID {
		t.Fatalf("deleted wrong account %s", svc.deleted)
	}
}

func TestNumbersAllocateReturnsFlatBody(t *testing.T) {
	svc := &stubNumbers{}
	userID := uuid.New()
	body := `{"userId":"` + userID.String() + `","countryCode":"FR"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/numbers/allocate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	NumbersAllocate(svc, nil)(rec, asUser(req, userID, auth.RoleUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp allocateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.VirtualNumber != "+33612345678" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if svc.allocated.AccountID != userID || svc.allocated.CountryCode != "FR" {
		t.Fatalf("unexpected allocate input %+v", svc.allocated)
	}
}

func TestNumbersAllocateForAnotherUser(t *testing.T) {
	other := uuid.New()
	body := `{"userId":"` + other.String() + `"}`

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/numbers/allocate", strings.NewReader(body))
	NumbersAllocate(&stubNumbers{}, nil)(rec, asUser(req, uuid.New(), auth.RoleUser))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a regular user, got %d", rec.Code)
	}

	svc := &stubNumbers{}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/numbers/allocate", strings.NewReader(body))
	NumbersAllocate(svc, nil)(rec, asUser(req, uuid.New(), auth.RoleAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected admin allocation to succeed, got %d", rec.Code)
	}
	if svc.allocated.AccountID != other {
		t.Fatalf("expected allocation for target user")
	}
}

func TestNumbersAllocateExhausted(t *testing.T) {
	userID := uuid.New()
	svc := &stubNumbers{err: pkgerrors.New(pkgerrors.CodeExhausted, "no number available for this country")}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/numbers/allocate", strings.NewReader(`{"userId":"`+userID.String()+`","countryCode":"BE"}`))
	rec := httptest.NewRecorder()
	NumbersAllocate(svc, nil)(rec, asUser(req, userID, auth.RoleUser))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "RESOURCE_EXHAUSTED") {
		t.Fatalf("expected exhausted code, got %s", rec.Body.String())
	}
}

func TestAdminNumbersListParsesFilter(t *testing.T) {
	svc := &stubNumbers{}
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/virtual-numbers?countryCode=fr&status=active&assigned=false&limit=50", nil)
	rec := httptest.NewRecorder()
	AdminNumbersList(svc, nil)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.filter.CountryCode != "FR" || svc.filter.Limit != 50 {
		t.Fatalf("unexpected filter %+v", svc.filter)
	}
	if svc.filter.Status == nil || *svc.filter.Status != enums.NumberStatusActive {
		t.Fatalf("expected active status filter")
	}
	if svc.filter.Assigned == nil || *svc.filter.Assigned {
		t.Fatalf("expected unassigned filter")
	}

	rec = httptest.NewRecorder()
	AdminNumbersList(svc, nil)(rec, httptest.NewRequest(http.MethodGet, "/api/admin/v1/virtual-numbers?status=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestAdminNumbersProvision(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/virtual-numbers", strings.NewReader(`{"phoneNumber":"+33612345678"}`))
	rec := httptest.NewRecorder()
	AdminNumbersProvision(&stubNumbers{}, nil)(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp virtualNumberResponse
	decodeData(t, rec, &resp)
	if resp.PhoneNumber != "+33612345678" || resp.Status != "active" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, nil, map[string]Pinger{"database": stubPinger{}})(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	deps := map[string]Pinger{"database": stubPinger{}, "redis": stubPinger{err: errors.New("down")}}
	HealthReady(cfg, nil, deps)(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
