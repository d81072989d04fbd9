package billing

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ringwise/ringwise-backend/api/middleware"
	"github.com/ringwise/ringwise-backend/api/responses"
	"github.com/ringwise/ringwise-backend/api/validators"
	billingsvc "github.com/ringwise/ringwise-backend/internal/billing"
	"github.com/ringwise/ringwise-backend/internal/subscriptions"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
)

// OrderRegistrar records the PayPal order a client opened for a plan.
type OrderRegistrar interface {
	RegisterPendingOrder(ctx context.Context, input billingsvc.PendingOrderInput) (*models.Subscription, error)
}

type registerOrderRequest struct {
	PlanID  string `json:"planId" validate:"required,max=64"`
	OrderID string `json:"orderId" validate:"required,max=64"`
}

type registerOrderResponse struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	PlanID         string    `json:"planId"`
	OrderID        string    `json:"orderId"`
	Status         string    `json:"status"`
}

type captureRequest struct {
	OrderID string `json:"orderId" validate:"required,max=64"`
}

func PayPalRegisterOrder(svc OrderRegistrar, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		accountID, ok := middleware.AccountIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload registerOrderRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.RegisterPendingOrder(ctx, billingsvc.PendingOrderInput{
			AccountID: accountID,
			PlanID:    strings.TrimSpace(payload.PlanID),
			OrderID:   strings.TrimSpace(payload.OrderID),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, registerOrderResponse{
			SubscriptionID: sub.ID,
			PlanID:         sub.PlanID,
			OrderID:        sub.ExternalOrderID,
			Status:         string(sub.Status),
		})
	}
}

// PayPalCapture completes the order the app got back from the PayPal return
// redirect and resets the caller's ledger to the purchased plan.
func PayPalCapture(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		accountID, ok := middleware.AccountIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload captureRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		activation, err := svc.Activate(ctx, subscriptions.ActivateInput{
			AccountID: accountID,
			OrderID:   strings.TrimSpace(payload.OrderID),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, activation)
	}
}
