package billing

import (
	"context"
	"net/http"

	"github.com/ringwise/ringwise-backend/api/responses"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
)

// PlanCatalog lists purchasable plans.
type PlanCatalog interface {
	ListPlans(ctx context.Context) ([]models.Plan, error)
}

type planResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	MinutesIncluded int    `json:"minutesIncluded"`
	Price           string `json:"price"`
	Currency        string `json:"currency"`
}

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

func PlansList(svc PlanCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		plans, err := svc.ListPlans(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planListResponse{Plans: plansToResponse(plans)})
	}
}

func plansToResponse(plans []models.Plan) []planResponse {
	result := make([]planResponse, 0, len(plans))
	for _, plan := range plans {
		result = append(result, planResponse{
			ID:              plan.ID,
			Name:            plan.Name,
			MinutesIncluded: plan.MinutesIncluded,
			Price:           plan.Price.StringFixed(2),
			Currency:        plan.Currency,
		})
	}
	return result
}
