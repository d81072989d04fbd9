package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/pkg/db/models"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/pagination"
	"github.com/ringwise/ringwise-backend/pkg/phone"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type planFinder interface {
	FindPlanByID(ctx context.Context, id string) (*models.Plan, error)
}

type numberFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.VirtualNumber, error)
}

type callLister interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.CallRecord, string, error)
}

// AllocateFunc binds a virtual number to a freshly registered account.
type AllocateFunc func(ctx context.Context, accountID uuid.UUID, countryCode, phoneNumber string) (*models.VirtualNumber, error)

// ServiceParams groups dependencies for the account service.
type ServiceParams struct {
	Repo              *Repository
	Plans             planFinder
	Numbers           numberFinder
	Calls             callLister
	Allocate          AllocateFunc
	TransactionRunner txRunner
	FreePlanID        string
	Detector          *phone.Detector
	Logger            *logger.Logger
}

type Service struct {
	repo       *Repository
	plans      planFinder
	numbers    numberFinder
	calls      callLister
	allocate   AllocateFunc
	tx         txRunner
	freePlanID string
	detector   *phone.Detector
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("account repository is required")
	}
	if params.Plans == nil {
		return nil, errors.New("plan finder is required")
	}
	if params.Numbers == nil {
		return nil, errors.New("number finder is required")
	}
	if params.Calls == nil {
		return nil, errors.New("call lister is required")
	}
	if params.Allocate == nil {
		return nil, errors.New("allocate func is required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner is required")
	}
	freePlan := strings.TrimSpace(params.FreePlanID)
	if freePlan == "" {
		freePlan = "free"
	}
	if params.Detector == nil {
		return nil, errors.New("country detector is required")
	}
	return &Service{
		repo:       params.Repo,
		plans:      params.Plans,
		numbers:    params.Numbers,
		calls:      params.Calls,
		allocate:   params.Allocate,
		tx:         params.TransactionRunner,
		freePlanID: freePlan,
		detector:   params.Detector,
		logg:       params.Logger,
	}, nil
}

// Register opens a ledger on the free plan and tries to allocate a number.
// An empty pool leaves the account unassigned; registration still succeeds.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*AccountView, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	phoneNumber := strings.TrimSpace(input.PhoneNumber)
	if phoneNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone number is required")
	}
	country := strings.ToUpper(strings.TrimSpace(input.CountryCode))
	if country != "" && !phone.IsKnownRegion(country) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown country code")
	}

	existing, err := s.repo.FindByID(ctx, input.AccountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load account")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "account already registered")
	}

	plan, err := s.plans.FindPlanByID(ctx, s.freePlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load free plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "free plan is not configured")
	}

	accountCountry := country
	if accountCountry == "" {
		accountCountry = s.detector.Detect(phoneNumber)
	}
	account := &models.Account{
		ID:                input.AccountID,
		PhoneNumber:       phone.Normalize(phoneNumber, accountCountry),
		CountryCode:       accountCountry,
		PlanID:            plan.ID,
		MinutesIncluded:   plan.MinutesIncluded,
		MinutesRemaining:  plan.MinutesIncluded,
		VoiceAgentEnabled: plan.MinutesIncluded > 0,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create account")
	}

	number, err := s.allocate(ctx, account.ID, country, phoneNumber)
	switch {
	case err == nil:
		account.VirtualNumberID = &number.ID
	case pkgerrors.IsCode(err, pkgerrors.CodeExhausted):
		if s.logg != nil {
			logCtx := s.logg.WithAccountID(ctx, account.ID.String())
			s.logg.Warn(logCtx, "no virtual number available at registration")
		}
		number = nil
	default:
		return nil, err
	}
	return toAccountView(account, number), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*AccountView, error) {
	account, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	var number *models.VirtualNumber
	if account.VirtualNumberID != nil {
		number, err = s.numbers.FindByID(ctx, *account.VirtualNumberID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load virtual number")
		}
	}
	return toAccountView(account, number), nil
}

// SetAgentEnabled toggles the voice agent. Enabling an account with no
// minutes left is a state conflict.
func (s *Service) SetAgentEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*AccountView, error) {
	changed, err := s.repo.SetAgentEnabled(ctx, id, enabled)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update voice agent")
	}
	if !changed {
		if _, err := s.load(ctx, id); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no minutes remaining to enable the voice agent")
	}
	return s.Get(ctx, id)
}

func (s *Service) ListCalls(ctx context.Context, id uuid.UUID, params pagination.Params) (*CallPage, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	rows, next, err := s.calls.ListByAccount(ctx, id, params)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list calls")
	}
	page := &CallPage{Calls: make([]CallView, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		page.Calls = append(page.Calls, toCallView(row))
	}
	return page, nil
}

// Delete removes the account and everything hanging off it in one
// transaction.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).DeleteCascade(ctx, id)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete account")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithAccountID(ctx, id.String()), "account deleted")
	}
	return nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}
