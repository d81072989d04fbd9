package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ringwise/ringwise-backend/api/middleware"
	"github.com/ringwise/ringwise-backend/api/responses"
	"github.com/ringwise/ringwise-backend/api/validators"
	"github.com/ringwise/ringwise-backend/internal/numbers"
	"github.com/ringwise/ringwise-backend/pkg/auth"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/enums"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
)

// NumberService covers allocation and pool administration.
type NumberService interface {
	Allocate(ctx context.Context, input numbers.AllocateInput) (*models.VirtualNumber, error)
	Provision(ctx context.Context, input numbers.ProvisionInput) (*models.VirtualNumber, error)
	List(ctx context.Context, filter numbers.ListFilter) ([]models.VirtualNumber, error)
}

type allocateRequest struct {
	UserID      string `json:"userId" validate:"required,uuid"`
	CountryCode string `json:"countryCode" validate:"omitempty,iso3166_1_alpha2"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,max=32"`
}

type allocateResponse struct {
	Success       bool   `json:"success"`
	VirtualNumber string `json:"virtualNumber"`
}

type provisionRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,min=6,max=32"`
	CountryCode string `json:"countryCode" validate:"omitempty,iso3166_1_alpha2"`
	Country     string `json:"country" validate:"omitempty,max=64"`
	Provider    string `json:"provider" validate:"omitempty,max=32"`
}

type virtualNumberResponse struct {
	ID             uuid.UUID  `json:"id"`
	PhoneNumber    string     `json:"phoneNumber"`
	Country        string     `json:"country"`
	CountryCode    string     `json:"countryCode"`
	Provider       string     `json:"provider"`
	Status         string     `json:"status"`
	AssignedUserID *uuid.UUID `json:"assignedUserId,omitempty"`
	AssignedAt     *time.Time `json:"assignedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// NumbersAllocate binds a pool number to the caller. Only admins may
// allocate on behalf of another user.
func NumbersAllocate(svc NumberService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		callerID, ok := requireAccount(ctx, logg, w, svc != nil)
		if !ok {
			return
		}

		var payload allocateRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		target, err := uuid.Parse(payload.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid userId"))
			return
		}
		if target != callerID && middleware.RoleFromContext(ctx) != auth.RoleAdmin {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot allocate for another user"))
			return
		}

		number, err := svc.Allocate(ctx, numbers.AllocateInput{
			AccountID:   target,
			CountryCode: payload.CountryCode,
			PhoneNumber: payload.PhoneNumber,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, allocateResponse{Success: true, VirtualNumber: number.PhoneNumber})
	}
}

func AdminNumbersProvision(svc NumberService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "number service unavailable"))
			return
		}

		var payload provisionRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		number, err := svc.Provision(ctx, numbers.ProvisionInput{
			PhoneNumber: payload.PhoneNumber,
			CountryCode: payload.CountryCode,
			Country:     payload.Country,
			Provider:    payload.Provider,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toVirtualNumberResponse(*number))
	}
}

func AdminNumbersList(svc NumberService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "number service unavailable"))
			return
		}

		filter, err := parseNumberFilter(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, err := svc.List(ctx, filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]virtualNumberResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, toVirtualNumberResponse(row))
		}
		responses.WriteSuccess(w, map[string]any{"numbers": out})
	}
}

func parseNumberFilter(r *http.Request) (numbers.ListFilter, error) {
	query := r.URL.Query()
	filter := numbers.ListFilter{
		CountryCode: strings.ToUpper(strings.TrimSpace(query.Get("countryCode"))),
	}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := enums.ParseNumberStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("assigned")); raw != "" {
		assigned, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid assigned flag")
		}
		filter.Assigned = &assigned
	}
	limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 500)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	return filter, nil
}

func toVirtualNumberResponse(number models.VirtualNumber) virtualNumberResponse {
	return virtualNumberResponse{
		ID:             number.ID,
		PhoneNumber:    number.PhoneNumber,
		Country:        number.Country,
		CountryCode:    number.CountryCode,
		Provider:       number.Provider,
		Status:         string(number.Status),
		AssignedUserID: number.AssignedUserID,
		AssignedAt:     number.AssignedAt,
		CreatedAt:      number.CreatedAt,
	}
}
