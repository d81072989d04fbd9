package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ringwise/ringwise-backend/api/middleware"
	"github.com/ringwise/ringwise-backend/api/responses"
	"github.com/ringwise/ringwise-backend/api/validators"
	"github.com/ringwise/ringwise-backend/internal/accounts"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/pagination"
)

// AccountService is the ledger surface the account routes need.
type AccountService interface {
	Register(ctx context.Context, input accounts.RegisterInput) (*accounts.AccountView, error)
	Get(ctx context.Context, id uuid.UUID) (*accounts.AccountView, error)
	SetAgentEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*accounts.AccountView, error)
	ListCalls(ctx context.Context, id uuid.UUID, params pagination.Params) (*accounts.CallPage, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type registerAccountRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,min=6,max=32"`
	CountryCode string `json:"countryCode" validate:"omitempty,iso3166_1_alpha2"`
}

type agentToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func AccountRegister(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w, svc != nil)
		if !ok {
			return
		}

		var payload registerAccountRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := svc.Register(ctx, accounts.RegisterInput{
			AccountID:   accountID,
			PhoneNumber: payload.PhoneNumber,
			CountryCode: strings.ToUpper(payload.CountryCode),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

func AccountMe(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w, svc != nil)
		if !ok {
			return
		}
		view, err := svc.Get(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func AccountSetAgent(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w, svc != nil)
		if !ok {
			return
		}

		var payload agentToggleRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := svc.SetAgentEnabled(ctx, accountID, *payload.Enabled)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func AccountCalls(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w, svc != nil)
		if !ok {
			return
		}

		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListCalls(ctx, accountID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func AccountDelete(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, ok := requireAccount(ctx, logg, w, svc != nil)
		if !ok {
			return
		}
		if err := svc.Delete(ctx, accountID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func requireAccount(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, wired bool) (uuid.UUID, bool) {
	if !wired {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
		return uuid.Nil, false
	}
	accountID, ok := middleware.AccountIDFromContext(ctx)
	if !ok {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return uuid.Nil, false
	}
	return accountID, true
}
