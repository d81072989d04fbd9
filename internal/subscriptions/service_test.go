package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/internal/accounts"
	"github.com/ringwise/ringwise-backend/internal/billing"
	"github.com/ringwise/ringwise-backend/pkg/db/dbtest"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/enums"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/outbox"
	"github.com/ringwise/ringwise-backend/pkg/paypal"
	"github.com/ringwise/ringwise-backend/pkg/redis"
)

type fakePayPal struct {
	capture *paypal.Capture
	err     error
	orders  []string
}

func (f *fakePayPal) CaptureOrder(_ context.Context, orderID string) (*paypal.Capture, error) {
	f.orders = append(f.orders, orderID)
	if f.err != nil {
		return nil, f.err
	}
	return f.capture, nil
}

func completedCapture() *paypal.Capture {
	return &paypal.Capture{
		OrderID:   "ORDER-1",
		Status:    paypal.StatusCompleted,
		CaptureID: "CAPTURE-1",
		Amount:    decimal.RequireFromString("29.00"),
		Currency:  "EUR",
	}
}

// switchableEmitter fails every Emit while err is set.
type switchableEmitter struct {
	outbox.Emitter
	err error
}

func (e *switchableEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if e.err != nil {
		return e.err
	}
	return e.Emitter.Emit(ctx, tx, event)
}

type fixture struct {
	conn    *gorm.DB
	svc     Service
	paypal  *fakePayPal
	emitter *switchableEmitter
	billing *billing.Service
	account *models.Account
	mr      *miniredis.Miniredis
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()

	require.NoError(t, conn.Create(&models.Plan{
		ID:              "pro",
		Name:            "Pro",
		MinutesIncluded: 300,
		Price:           decimal.RequireFromString("29.00"),
		Currency:        "EUR",
	}).Error)

	accountRepo := accounts.NewRepository(conn)
	account := &models.Account{
		PhoneNumber:       "+33611111111",
		CountryCode:       "FR",
		PlanID:            "free",
		MinutesIncluded:   30,
		MinutesRemaining:  12,
		MinutesConsumed:   18,
		VoiceAgentEnabled: true,
	}
	require.NoError(t, accountRepo.Create(context.Background(), account))

	billingRepo := billing.NewRepository(conn)
	billingSvc, err := billing.NewService(billing.ServiceParams{Repo: billingRepo, TransactionRunner: client})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	guard, err := NewCaptureGuard(redis.FromRedis(raw), time.Hour, "paypal-capture")
	require.NoError(t, err)

	pp := &fakePayPal{capture: completedCapture()}
	emitter := &switchableEmitter{Emitter: outbox.NewService(outbox.NewRepository(conn), nil)}
	svc, err := NewService(ServiceParams{
		BillingRepo:       billingRepo,
		Accounts:          accountRepo,
		PayPal:            pp,
		Guard:             guard,
		Outbox:            emitter,
		TransactionRunner: client,
	})
	require.NoError(t, err)
	return fixture{conn: conn, svc: svc, paypal: pp, emitter: emitter, billing: billingSvc, account: account, mr: mr}
}

func (f fixture) registerOrder(t *testing.T, accountID uuid.UUID, orderID string) *models.Subscription {
	t.Helper()
	sub, err := f.billing.RegisterPendingOrder(context.Background(), billing.PendingOrderInput{
		AccountID: accountID,
		PlanID:    "pro",
		OrderID:   orderID,
	})
	require.NoError(t, err)
	return sub
}

func (f fixture) reloadAccount(t *testing.T) models.Account {
	t.Helper()
	var account models.Account
	require.NoError(t, f.conn.First(&account, "id = ?", f.account.ID).Error)
	return account
}

func TestActivateResetsLedgerAndDiscardsRemainder(t *testing.T) {
	f := newFixture(t)
	sub := f.registerOrder(t, f.account.ID, "ORDER-1")
	before := time.Now().UTC()

	activation, err := f.svc.Activate(context.Background(), ActivateInput{AccountID: f.account.ID, OrderID: "ORDER-1"})
	require.NoError(t, err)
	require.Equal(t, sub.ID, activation.SubscriptionID)
	require.Equal(t, 300, activation.MinutesRemaining)
	require.Equal(t, "CAPTURE-1", activation.CaptureID)

	account := f.reloadAccount(t)
	require.Equal(t, "pro", account.PlanID)
	require.Equal(t, 300, account.MinutesIncluded)
	require.Equal(t, 300, account.MinutesRemaining)
	require.Equal(t, 0, account.MinutesConsumed)
	require.True(t, account.VoiceAgentEnabled)
	require.NotNil(t, account.RenewalDate)
	require.WithinDuration(t, before.Add(30*24*time.Hour), *account.RenewalDate, time.Minute)

	var stored models.Subscription
	require.NoError(t, f.conn.First(&stored, "id = ?", sub.ID).Error)
	require.Equal(t, enums.SubscriptionStatusActive, stored.Status)

	var payment models.Payment
	require.NoError(t, f.conn.First(&payment, "subscription_id = ?", sub.ID).Error)
	require.Equal(t, enums.PaymentStatusCompleted, payment.Status)
	require.NotNil(t, payment.CaptureID)
	require.Equal(t, "CAPTURE-1", *payment.CaptureID)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventSubscriptionActivated).Count(&events).Error)
	require.Equal(t, int64(1), events)
}

func TestActivateCancelsPreviousSubscription(t *testing.T) {
	f := newFixture(t)
	first := f.registerOrder(t, f.account.ID, "ORDER-1")
	_, err := f.svc.Activate(context.Background(), ActivateInput{AccountID: f.account.ID, OrderID: "ORDER-1"})
	require.NoError(t, err)

	f.registerOrder(t, f.account.ID, "ORDER-2")
	f.paypal.capture = completedCapture()
	f.paypal.capture.CaptureID = "CAPTURE-2"
	_, err = f.svc.Activate(context.Background(), ActivateInput{AccountID: f.account.ID, OrderID: "ORDER-2"})
	require.NoError(t, err)

	var previous models.Subscription
	require.NoError(t, f.conn.First(&previous, "id = ?", first.ID).Error)
	require.Equal(t, enums.SubscriptionStatusCanceled, previous.Status)
}

func TestActivateLookupFailures(t *testing.T) {
	f := newFixture(t)
	f.registerOrder(t, f.account.ID, "ORDER-1")

	_, err := f.svc.Activate(context.Background(), ActivateInput{AccountID: f.account.ID, OrderID: "ORDER-404"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Activate(context.Background(), ActivateInput{AccountID: uuid.New(), OrderID: "ORDER-1"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Activate(context.Background(), ActivateInput{AccountID: f.account.ID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	require.Empty(t, f.paypal.orders)
	require.Equal(t, 12, f.reloadAccount(t).MinutesRemaining)
}

func TestActivateTwiceIsStateConflict(t *testing.T) {
	f := newFixture(t)
	f.registerOrder(t, f.account.ID, "ORDER-1")
	input := ActivateInput{AccountID: f.account.ID, OrderID: "ORDER-1"}

	_, err := f.svc.Activate(context.Background(), input)
	require.NoError(t, err)

	_, err = f.svc.Activate(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdempotency))

	f.mr.FlushAll()
	_, err = f.svc.Activate(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Len(t, f.paypal.orders, 1)
}

func TestActivateIncompleteCaptureLeavesLedgerAndReleasesGuard(t *testing.T) {
	f := newFixture(t)
	f.registerOrder(t, f.account.ID, "ORDER-1")
	f.paypal.capture = &paypal.Capture{OrderID: "ORDER-1", Status: "PENDING"}
	input := ActivateInput{AccountID: f.account.ID, OrderID: "ORDER-1"}

	_, err := f.svc.Activate(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Equal(t, 12, f.reloadAccount(t).MinutesRemaining)

	f.paypal.capture = nil
	f.paypal.err = errors.New("paypal timeout")
	_, err = f.svc.Activate(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	f.paypal.err = nil
	f.paypal.capture = completedCapture()
	_, err = f.svc.Activate(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 300, f.reloadAccount(t).MinutesRemaining)
}

func TestActivateRejectsCaptureBelowPlanPrice(t *testing.T) {
	f := newFixture(t)
	sub := f.registerOrder(t, f.account.ID, "ORDER-1")
	f.paypal.capture = completedCapture()
	f.paypal.capture.Amount = decimal.RequireFromString("0.01")
	input := ActivateInput{AccountID: f.account.ID, OrderID: "ORDER-1"}

	_, err := f.svc.Activate(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	account := f.reloadAccount(t)
	require.Equal(t, "free", account.PlanID)
	require.Equal(t, 12, account.MinutesRemaining)

	var stored models.Subscription
	require.NoError(t, f.conn.First(&stored, "id = ?", sub.ID).Error)
	require.Equal(t, enums.SubscriptionStatusPending, stored.Status)

	var payment models.Payment
	require.NoError(t, f.conn.First(&payment, "subscription_id = ?", sub.ID).Error)
	require.Equal(t, enums.PaymentStatusFailed, payment.Status)
	require.True(t, payment.Amount.Equal(decimal.RequireFromString("0.01")))

	f.mr.FlushAll()
	f.paypal.capture = completedCapture()
	_, err = f.svc.Activate(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Equal(t, 12, f.reloadAccount(t).MinutesRemaining)
	require.Len(t, f.paypal.orders, 1)
}

func TestActivateRejectsCaptureInOtherCurrency(t *testing.T) {
	f := newFixture(t)
	f.registerOrder(t, f.account.ID, "ORDER-1")
	f.paypal.capture = completedCapture()
	f.paypal.capture.Currency = "USD"

	_, err := f.svc.Activate(context.Background(), ActivateInput{AccountID: f.account.ID, OrderID: "ORDER-1"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Equal(t, 12, f.reloadAccount(t).MinutesRemaining)
}

func TestActivateRetryAfterLedgerFailureReusesCapture(t *testing.T) {
	f := newFixture(t)
	sub := f.registerOrder(t, f.account.ID, "ORDER-1")
	input := ActivateInput{AccountID: f.account.ID, OrderID: "ORDER-1"}

	f.emitter.err = errors.New("outbox insert failed")
	_, err := f.svc.Activate(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	require.Equal(t, 12, f.reloadAccount(t).MinutesRemaining)

	var payment models.Payment
	require.NoError(t, f.conn.First(&payment, "subscription_id = ?", sub.ID).Error)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.NotNil(t, payment.CaptureID)
	require.Equal(t, "CAPTURE-1", *payment.CaptureID)

	// PayPal refuses a second capture of the same order.
	f.emitter.err = nil
	f.paypal.capture = nil
	f.paypal.err = errors.New("ORDER_ALREADY_CAPTURED")
	activation, err := f.svc.Activate(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, "CAPTURE-1", activation.CaptureID)
	require.Equal(t, 300, f.reloadAccount(t).MinutesRemaining)
	require.Len(t, f.paypal.orders, 1)

	require.NoError(t, f.conn.First(&payment, "subscription_id = ?", sub.ID).Error)
	require.Equal(t, enums.PaymentStatusCompleted, payment.Status)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestCaptureGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer raw.Close()
	guard, err := NewCaptureGuard(redis.FromRedis(raw), time.Minute, "paypal-capture")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	seen, err := guard.Acquire(ctx, "ORDER-9")
	if err != nil || seen {
		t.Fatalf("first acquire: seen=%v err=%v", seen, err)
	}
	seen, err = guard.Acquire(ctx, "ORDER-9")
	if err != nil || !seen {
		t.Fatalf("second acquire: seen=%v err=%v", seen, err)
	}
	if err := guard.Release(ctx, "ORDER-9"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if seen, _ := guard.Acquire(ctx, "ORDER-9"); seen {
		t.Fatalf("expected key to be released")
	}
	if _, err := NewCaptureGuard(nil, time.Minute, "x"); err == nil {
		t.Fatalf("expected nil store to fail")
	}
}
