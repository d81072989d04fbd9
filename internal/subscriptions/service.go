package subscriptions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/internal/accounts"
	"github.com/ringwise/ringwise-backend/internal/billing"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/enums"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/outbox"
	"github.com/ringwise/ringwise-backend/pkg/outbox/payloads"
	"github.com/ringwise/ringwise-backend/pkg/paypal"
)

const defaultPeriod = 30 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderCapturer interface {
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Capture, error)
}

type captureGuard interface {
	Acquire(ctx context.Context, orderID string) (bool, error)
	Release(ctx context.Context, orderID string) error
}

// Service applies captured PayPal orders to the account ledger.
type Service interface {
	Activate(ctx context.Context, input ActivateInput) (*Activation, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	Accounts          *accounts.Repository
	PayPal            orderCapturer
	Guard             captureGuard
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Period            time.Duration
	Logger            *logger.Logger
}

// ActivateInput is the capture RPC body plus the caller's account.
type ActivateInput struct {
	AccountID uuid.UUID
	OrderID   string
}

// Activation is the ledger state after a plan change.
type Activation struct {
	SubscriptionID   uuid.UUID `json:"subscriptionId"`
	PlanID           string    `json:"planId"`
	CaptureID        string    `json:"captureId"`
	MinutesIncluded  int       `json:"minutesIncluded"`
	MinutesRemaining int       `json:"minutesRemaining"`
	RenewalDate      time.Time `json:"renewalDate"`
}

type service struct {
	billingRepo billing.Repository
	accounts    *accounts.Repository
	paypal      orderCapturer
	guard       captureGuard
	outbox      outbox.Emitter
	txRunner    txRunner
	period      time.Duration
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repo required")
	}
	if params.PayPal == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paypal client required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	period := params.Period
	if period <= 0 {
		period = defaultPeriod
	}
	return &service{
		billingRepo: params.BillingRepo,
		accounts:    params.Accounts,
		paypal:      params.PayPal,
		guard:       params.Guard,
		outbox:      params.Outbox,
		txRunner:    params.TransactionRunner,
		period:      period,
		logg:        params.Logger,
		now:         time.Now,
	}, nil
}

// Activate captures the order and resets the account to the purchased plan.
// Unused minutes from the previous period are not carried over.
func (s *service) Activate(ctx context.Context, input ActivateInput) (*Activation, error) {
	orderID := strings.TrimSpace(input.OrderID)
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	if s.guard != nil {
		seen, err := s.guard.Acquire(ctx, orderID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "capture guard unavailable")
		}
		if seen {
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "order capture already in progress")
		}
	}

	activation, err := s.activate(ctx, input.AccountID, orderID)
	if err != nil && s.guard != nil {
		if releaseErr := s.guard.Release(ctx, orderID); releaseErr != nil && s.logg != nil {
			s.logg.Error(ctx, "release capture guard", releaseErr)
		}
	}
	return activation, err
}

func (s *service) activate(ctx context.Context, accountID uuid.UUID, orderID string) (*Activation, error) {
	sub, err := s.billingRepo.FindSubscriptionByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pending subscription not found")
	}
	if sub.AccountID != accountID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another account")
	}
	if sub.Status != enums.SubscriptionStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not pending").
			WithDetails(map[string]any{"status": sub.Status})
	}

	plan, err := s.billingRepo.FindPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}

	capture, err := s.captureOnce(ctx, sub, plan)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	renewal := now.Add(s.period)
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		if err := s.accounts.WithTx(tx).ResetPlan(ctx, accountID, accounts.PlanReset{
			PlanID:      plan.ID,
			Minutes:     plan.MinutesIncluded,
			RenewalDate: renewal,
		}); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
			}
			return err
		}
		if _, err := repo.CancelActiveSubscriptions(ctx, accountID, sub.ID); err != nil {
			return err
		}
		if err := repo.ActivateSubscription(ctx, sub.ID, now, renewal); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription already activated")
			}
			return err
		}
		if err := repo.CompletePayment(ctx, billing.CompletePaymentInput{
			SubscriptionID: sub.ID,
			CompletedAt:    now,
		}); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already completed")
			}
			return err
		}
		return s.emitActivated(ctx, tx, sub, plan, capture, renewal)
	})
	if err != nil {
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":   orderID,
				"capture_id": capture.CaptureID,
			})
			s.logg.Error(logCtx, "captured order not applied", err)
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activate subscription")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithAccountID(ctx, accountID.String()), map[string]any{
			"order_id": orderID,
			"plan_id":  plan.ID,
		})
		s.logg.Info(logCtx, "subscription activated")
	}
	return &Activation{
		SubscriptionID:   sub.ID,
		PlanID:           plan.ID,
		CaptureID:        capture.CaptureID,
		MinutesIncluded:  plan.MinutesIncluded,
		MinutesRemaining: plan.MinutesIncluded,
		RenewalDate:      renewal,
	}, nil
}

// captureOnce returns the capture for the subscription's order. A capture
// stored by an earlier attempt is reused so PayPal is asked only once per
// order, even when the ledger transaction that followed it failed.
func (s *service) captureOnce(ctx context.Context, sub *models.Subscription, plan *models.Plan) (*paypal.Capture, error) {
	payment, err := s.billingRepo.FindPaymentBySubscriptionID(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pending payment not found")
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not pending").
			WithDetails(map[string]any{"status": payment.Status})
	}
	if payment.CaptureID != nil && *payment.CaptureID != "" {
		return &paypal.Capture{
			OrderID:   sub.ExternalOrderID,
			Status:    paypal.StatusCompleted,
			CaptureID: *payment.CaptureID,
			Amount:    payment.Amount,
			Currency:  payment.Currency,
		}, nil
	}

	capture, err := s.paypal.CaptureOrder(ctx, sub.ExternalOrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "capture paypal order")
	}
	if !capture.Completed() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "paypal capture not completed").
			WithDetails(map[string]any{"status": capture.Status})
	}

	record := billing.CaptureRecord{
		SubscriptionID: sub.ID,
		CaptureID:      capture.CaptureID,
		Amount:         capture.Amount,
		Currency:       strings.ToUpper(capture.Currency),
	}
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithFields(ctx, map[string]any{
			"order_id":   sub.ExternalOrderID,
			"capture_id": capture.CaptureID,
		})
	}

	if capture.Amount.LessThan(plan.Price) || !strings.EqualFold(capture.Currency, plan.Currency) {
		if err := s.billingRepo.FailPayment(ctx, record); err != nil && s.logg != nil {
			s.logg.Error(logCtx, "record mismatched capture", err)
		}
		if s.logg != nil {
			s.logg.Warn(logCtx, "capture does not cover plan price")
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "captured amount does not match plan price").
			WithDetails(map[string]any{
				"expectedAmount":   plan.Price.StringFixed(2),
				"expectedCurrency": plan.Currency,
				"capturedAmount":   capture.Amount.StringFixed(2),
				"capturedCurrency": capture.Currency,
			})
	}

	if err := s.billingRepo.RecordCapture(ctx, record); err != nil {
		if s.logg != nil {
			s.logg.Error(logCtx, "captured order not recorded", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record capture")
	}
	return capture, nil
}

func (s *service) emitActivated(ctx context.Context, tx *gorm.DB, sub *models.Subscription, plan *models.Plan, capture *paypal.Capture, renewal time.Time) error {
	currency := capture.Currency
	if currency == "" {
		currency = plan.Currency
	}
	amount := capture.Amount
	if amount.IsZero() {
		amount = plan.Price
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionActivated,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         &outbox.ActorRef{AccountID: sub.AccountID, Source: "paypal"},
		Data: payloads.SubscriptionActivatedEvent{
			SubscriptionID:  sub.ID,
			AccountID:       sub.AccountID,
			PlanID:          plan.ID,
			OrderID:         sub.ExternalOrderID,
			CaptureID:       capture.CaptureID,
			Amount:          amount,
			Currency:        currency,
			MinutesIncluded: plan.MinutesIncluded,
			RenewalDate:     renewal,
		},
	})
}
