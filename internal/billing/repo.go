package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/enums"
)

// Repository handles plan, subscription and payment persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListPlans(ctx context.Context) ([]models.Plan, error)
	FindPlanByID(ctx context.Context, id string) (*models.Plan, error)
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByOrderID(ctx context.Context, orderID string) (*models.Subscription, error)
	ActivateSubscription(ctx context.Context, id uuid.UUID, activatedAt, renewal time.Time) error
	CancelActiveSubscriptions(ctx context.Context, accountID uuid.UUID, except uuid.UUID) (int64, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindPaymentBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) (*models.Payment, error)
	RecordCapture(ctx context.Context, input CaptureRecord) error
	FailPayment(ctx context.Context, input CaptureRecord) error
	CompletePayment(ctx context.Context, input CompletePaymentInput) error
	DeleteForAccount(ctx context.Context, accountID uuid.UUID) error
}

// CaptureRecord is what PayPal reported for a captured order.
type CaptureRecord struct {
	SubscriptionID uuid.UUID
	CaptureID      string
	Amount         decimal.Decimal
	Currency       string
}

// CompletePaymentInput closes a pending payment whose capture is recorded.
type CompletePaymentInput struct {
	SubscriptionID uuid.UUID
	CompletedAt    time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	if err := r.db.WithContext(ctx).
		Order("minutes_included ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) FindPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	if id == "" {
		return nil, nil
	}
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) FindSubscriptionByOrderID(ctx context.Context, orderID string) (*models.Subscription, error) {
	if orderID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("external_order_id = ?", orderID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ActivateSubscription flips a pending row to active. A row that is no longer
// pending is left untouched and reported as gorm.ErrRecordNotFound.
func (r *repository) ActivateSubscription(ctx context.Context, id uuid.UUID, activatedAt, renewal time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, enums.SubscriptionStatusPending).
		Updates(map[string]any{
			"status":       enums.SubscriptionStatusActive,
			"activated_at": activatedAt,
			"renewal_date": renewal,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) CancelActiveSubscriptions(ctx context.Context, accountID uuid.UUID, except uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("account_id = ? AND status = ? AND id <> ?", accountID, enums.SubscriptionStatusActive, except).
		Update("status", enums.SubscriptionStatusCanceled)
	return res.RowsAffected, res.Error
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindPaymentBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// RecordCapture stores the capture on a pending payment that has none yet, so
// a retried activation can skip PayPal. A payment that already carries a
// capture is reported as gorm.ErrRecordNotFound.
func (r *repository) RecordCapture(ctx context.Context, input CaptureRecord) error {
	return r.updatePendingPayment(ctx, input.SubscriptionID, "capture_id IS NULL", map[string]any{
		"capture_id": input.CaptureID,
		"amount":     input.Amount,
		"currency":   input.Currency,
	})
}

// FailPayment closes a pending payment whose capture does not cover the plan.
func (r *repository) FailPayment(ctx context.Context, input CaptureRecord) error {
	return r.updatePendingPayment(ctx, input.SubscriptionID, "", map[string]any{
		"status":     enums.PaymentStatusFailed,
		"capture_id": input.CaptureID,
		"amount":     input.Amount,
		"currency":   input.Currency,
	})
}

func (r *repository) CompletePayment(ctx context.Context, input CompletePaymentInput) error {
	return r.updatePendingPayment(ctx, input.SubscriptionID, "capture_id IS NOT NULL", map[string]any{
		"status":       enums.PaymentStatusCompleted,
		"completed_at": input.CompletedAt,
	})
}

func (r *repository) updatePendingPayment(ctx context.Context, subscriptionID uuid.UUID, extra string, updates map[string]any) error {
	q := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, enums.PaymentStatusPending)
	if extra != "" {
		q = q.Where(extra)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) DeleteForAccount(ctx context.Context, accountID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&models.Payment{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&models.Subscription{}).Error
}
