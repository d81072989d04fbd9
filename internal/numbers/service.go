package numbers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/ringwise/ringwise-backend/pkg/db"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/enums"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/phone"
)

const defaultAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AccountAssigner records the allocated number on the account.
type AccountAssigner interface {
	AssignVirtualNumber(ctx context.Context, id, numberID uuid.UUID) error
}

// AccountAssignerFactory binds the account side of an allocation to the
// allocation transaction.
type AccountAssignerFactory func(tx *gorm.DB) AccountAssigner

type allocationRecorder interface {
	IncAllocation(result string)
}

// ServiceParams groups dependencies for the pool service.
type ServiceParams struct {
	Repo              *Repository
	Accounts          AccountAssignerFactory
	TransactionRunner txRunner
	Detector          *phone.Detector
	Attempts          int
	Metrics           allocationRecorder
	Logger            *logger.Logger
}

// AllocateInput identifies who needs a number and where.
type AllocateInput struct {
	AccountID   uuid.UUID
	CountryCode string
	PhoneNumber string
}

// ProvisionInput adds a number to the pool.
type ProvisionInput struct {
	PhoneNumber string
	CountryCode string
	Country     string
	Provider    string
}

type Service struct {
	repo     *Repository
	accounts AccountAssignerFactory
	tx       txRunner
	detector *phone.Detector
	attempts int
	metrics  allocationRecorder
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("numbers repository is required")
	}
	if params.Accounts == nil {
		return nil, errors.New("account assigner is required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Detector == nil {
		return nil, errors.New("country detector is required")
	}
	attempts := params.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	return &Service{
		repo:     params.Repo,
		accounts: params.Accounts,
		tx:       params.TransactionRunner,
		detector: params.Detector,
		attempts: attempts,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// ResolveCountry picks the allocation country: an explicit code wins, then
// the caller's phone prefix, then the configured fallback.
func (s *Service) ResolveCountry(countryCode, phoneNumber string) (string, error) {
	if cc := strings.ToUpper(strings.TrimSpace(countryCode)); cc != "" {
		if !phone.IsKnownRegion(cc) {
			return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown country code %q", countryCode))
		}
		return cc, nil
	}
	if strings.TrimSpace(phoneNumber) != "" {
		return s.detector.Detect(phoneNumber), nil
	}
	return s.detector.Fallback(), nil
}

// Allocate binds one free number of the requested country to the account.
// An account that already holds a number gets that number back.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (*models.VirtualNumber, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	country, err := s.ResolveCountry(input.CountryCode, input.PhoneNumber)
	if err != nil {
		return nil, err
	}

	var allocated *models.VirtualNumber
	reused := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindAssignedTo(ctx, input.AccountID)
		if err != nil {
			return err
		}
		if existing != nil {
			allocated = existing
			reused = true
			return nil
		}

		for attempt := 1; attempt <= s.attempts; attempt++ {
			claimed, err := repo.ClaimNext(ctx, input.AccountID, country)
			if err != nil {
				return err
			}
			if claimed != nil {
				allocated = claimed
				break
			}
		}
		if allocated == nil {
			return pkgerrors.New(pkgerrors.CodeExhausted, "no number available for this country").
				WithDetails(map[string]any{"countryCode": country})
		}

		if err := s.accounts(tx).AssignVirtualNumber(ctx, input.AccountID, allocated.ID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
			}
			return err
		}
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			if typed.Code() == pkgerrors.CodeExhausted {
				s.record("exhausted")
			} else {
				s.record("failed")
			}
			return nil, err
		}
		// the unique index on assigned_user_id rejects a second number for the
		// same account racing through a parallel request
		if dbpkg.IsUniqueViolation(err, "") {
			s.record("exhausted")
			return nil, pkgerrors.Wrap(pkgerrors.CodeExhausted, err, "allocation lost a concurrent race, retry")
		}
		s.record("failed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocate virtual number")
	}

	if reused {
		s.record("reused")
	} else {
		s.record("allocated")
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"account_id":   input.AccountID.String(),
			"country_code": country,
			"number_id":    allocated.ID.String(),
			"reused":       reused,
		})
		s.logg.Info(logCtx, "virtual number allocated")
	}
	return allocated, nil
}

// Provision adds a number to the pool in E.164 form.
func (s *Service) Provision(ctx context.Context, input ProvisionInput) (*models.VirtualNumber, error) {
	cc := strings.ToUpper(strings.TrimSpace(input.CountryCode))
	if cc == "" {
		cc = s.detector.Detect(input.PhoneNumber)
	}
	if !phone.IsKnownRegion(cc) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown country code %q", input.CountryCode))
	}
	normalized := phone.Normalize(input.PhoneNumber, cc)
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone number is required")
	}
	provider := strings.TrimSpace(input.Provider)
	if provider == "" {
		provider = "vapi"
	}
	country := strings.TrimSpace(input.Country)
	if country == "" {
		country = cc
	}

	number := &models.VirtualNumber{
		PhoneNumber: normalized,
		Country:     country,
		CountryCode: cc,
		Provider:    provider,
		Status:      enums.NumberStatusActive,
	}
	if err := s.repo.Create(ctx, number); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "number already provisioned")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "provision number")
	}
	return number, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.VirtualNumber, error) {
	numbers, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list virtual numbers")
	}
	return numbers, nil
}

func (s *Service) record(result string) {
	if s.metrics != nil {
		s.metrics.IncAllocation(result)
	}
}
