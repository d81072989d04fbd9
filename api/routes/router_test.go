package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ringwise/ringwise-backend/internal/accounts"
	"github.com/ringwise/ringwise-backend/internal/numbers"
	vapiwebhook "github.com/ringwise/ringwise-backend/internal/webhooks/vapi"
	"github.com/ringwise/ringwise-backend/pkg/auth"
	"github.com/ringwise/ringwise-backend/pkg/config"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/metrics"
	"github.com/ringwise/ringwise-backend/pkg/pagination"
	pkgredis "github.com/ringwise/ringwise-backend/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubAccounts struct {
	registrations int
}

func (s *stubAccounts) Register(_ context.Context, input accounts.RegisterInput) (*accounts.AccountView, error) {
	s.registrations++
	return &accounts.AccountView{ID: input.AccountID, MinutesRemaining: 10}, nil
}

func (s *stubAccounts) Get(_ context.Context, id uuid.UUID) (*accounts.AccountView, error) {
	return &accounts.AccountView{ID: id}, nil
}

func (s *stubAccounts) SetAgentEnabled(_ context.Context, id uuid.UUID, enabled bool) (*accounts.AccountView, error) {
	return &accounts.AccountView{ID: id, VoiceAgentEnabled: enabled}, nil
}

func (s *stubAccounts) ListCalls(context.Context, uuid.UUID, pagination.Params) (*accounts.CallPage, error) {
	return &accounts.CallPage{Calls: []accounts.CallView{}}, nil
}

func (s *stubAccounts) Delete(context.Context, uuid.UUID) error { return nil }

type stubNumbers struct{}

func (stubNumbers) Allocate(context.Context, numbers.AllocateInput) (*models.VirtualNumber, error) {
	return &models.VirtualNumber{PhoneNumber: "+33612345678"}, nil
}

func (stubNumbers) Provision(_ context.Context, input numbers.ProvisionInput) (*models.VirtualNumber, error) {
	return &models.VirtualNumber{ID: uuid.New(), PhoneNumber: input.PhoneNumber}, nil
}

func (stubNumbers) List(context.Context, numbers.ListFilter) ([]models.VirtualNumber, error) {
	return nil, nil
}

type stubVapi struct{}

func (stubVapi) Handle(context.Context, []byte, string) (*vapiwebhook.Result, error) {
	return &vapiwebhook.Result{Ignored: true}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "ringwise", ExpirationMinutes: 60},
		PayPal: config.PayPalConfig{
			ReturnDeepLink: "ringwise://payment/success",
			CancelDeepLink: "ringwise://payment/cancel",
		},
		RateLimit: config.RateLimitConfig{Window: time.Minute, AllocateMax: 10, CaptureMax: 10},
	}
}

func newTestRouter(t *testing.T, deps Dependencies) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	if deps.DB == nil {
		deps.DB = stubPinger{}
	}
	if deps.Accounts == nil {
		deps.Accounts = &stubAccounts{}
	}
	if deps.Numbers == nil {
		deps.Numbers = stubNumbers{}
	}
	if deps.VapiWebhook == nil {
		deps.VapiWebhook = stubVapi{}
	}
	return NewRouter(cfg, nil, deps), cfg
}

func bearer(t *testing.T, cfg *config.Config, userID uuid.UUID, role string) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{UserID: userID, Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoutes(t *testing.T) {
	router, _ := newTestRouter(t, Dependencies{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpointExposesHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	router, _ := newTestRouter(t, Dependencies{Gatherer: reg, HTTPMetrics: metrics.NewHTTPMetrics(reg)})

	serve(router, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("expected request counter in exposition")
	}
}

func TestAPIRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, Dependencies{})
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAPIAcceptsValidToken(t *testing.T) {
	router, cfg := newTestRouter(t, Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil)
	req.Header.Set("Authorization", bearer(t, cfg, uuid.New(), auth.RoleUser))
	if rec := serve(router, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	router, cfg := newTestRouter(t, Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/virtual-numbers", nil)
	req.Header.Set("Authorization", bearer(t, cfg, uuid.New(), auth.RoleUser))
	if rec := serve(router, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user role, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/virtual-numbers", nil)
	req.Header.Set("Authorization", bearer(t, cfg, uuid.New(), auth.RoleAdmin))
	if rec := serve(router, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestWebhookRoutesArePublic(t *testing.T) {
	router, _ := newTestRouter(t, Dependencies{})

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/webhooks/vapi/call-completed", strings.NewReader(`{}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("vapi: expected 200, got %d", rec.Code)
	}

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/webhooks/paypal/return?token=ORDER-1", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("paypal return: expected 302, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "ringwise://payment/success?token=ORDER-1" {
		t.Fatalf("unexpected location %q", got)
	}
}

func TestIdempotentRegistrationReplays(t *testing.T) {
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })

	svc := &stubAccounts{}
	router, cfg := newTestRouter(t, Dependencies{Redis: pkgredis.FromRedis(raw), Accounts: svc})
	token := bearer(t, cfg, uuid.New(), auth.RoleUser)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(`{"phoneNumber":"+33611111111"}`))
		req.Header.Set("Authorization", token)
		req.Header.Set("Idempotency-Key", "register-1")
		return serve(router, req)
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	second := send()
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get("Idempotent-Replay") != "true" {
		t.Fatalf("expected replay marker")
	}
	if svc.registrations != 1 {
		t.Fatalf("expected one registration, got %d", svc.registrations)
	}
}
