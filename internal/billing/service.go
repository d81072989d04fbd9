package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/ringwise/ringwise-backend/pkg/db"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/enums"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
}

// Service exposes the plan catalog and records PayPal orders created by the
// client so a later capture can be matched to an account and plan.
type Service struct {
	repo     Repository
	txRunner txRunner
}

// PendingOrderInput names the PayPal order a client opened for a plan.
type PendingOrderInput struct {
	AccountID uuid.UUID
	PlanID    string
	OrderID   string
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner is required")
	}
	return &Service{repo: params.Repo, txRunner: params.TransactionRunner}, nil
}

func (s *Service) ListPlans(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list plans")
	}
	return plans, nil
}

// RegisterPendingOrder stores the pending subscription and payment rows for
// an order. Re-registering the same order for the same account and plan
// returns the existing subscription.
func (s *Service) RegisterPendingOrder(ctx context.Context, input PendingOrderInput) (*models.Subscription, error) {
	orderID := strings.TrimSpace(input.OrderID)
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	plan, err := s.repo.FindPlanByID(ctx, strings.TrimSpace(input.PlanID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}

	var created *models.Subscription
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindSubscriptionByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.AccountID != input.AccountID || existing.PlanID != plan.ID {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already registered")
			}
			created = existing
			return nil
		}

		sub := &models.Subscription{
			AccountID:       input.AccountID,
			PlanID:          plan.ID,
			ExternalOrderID: orderID,
			Status:          enums.SubscriptionStatusPending,
		}
		if err := repo.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		payment := &models.Payment{
			AccountID:       input.AccountID,
			SubscriptionID:  sub.ID,
			ExternalOrderID: orderID,
			Amount:          plan.Price,
			Currency:        plan.Currency,
			Status:          enums.PaymentStatusPending,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "register order")
	}
	return created, nil
}
