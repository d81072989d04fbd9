package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/ringwise/ringwise-backend/api/responses"
	vapiwebhook "github.com/ringwise/ringwise-backend/internal/webhooks/vapi"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
)

// maxVapiBody bounds end-of-call reports, which embed full transcripts.
const maxVapiBody = 5 << 20

type VapiWebhookService interface {
	Handle(ctx context.Context, body []byte, signature string) (*vapiwebhook.Result, error)
}

type vapiSuccessResponse struct {
	Success          bool        `json:"success"`
	CallID           uuid.UUID   `json:"callId"`
	MinutesRemaining int         `json:"minutesRemaining"`
	IsAgentActive    bool        `json:"isAgentActive"`
	VapiCost         json.Number `json:"vapiCost"`
}

type vapiIgnoredResponse struct {
	Message string `json:"message"`
}

type vapiErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// VapiCallCompleted ingests call-ended reports. Responses are flat JSON
// because the provider does not unwrap envelopes.
func VapiCallCompleted(svc VapiWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			writeVapiError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxVapiBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeVapiError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload too large"))
				return
			}
			writeVapiError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.Handle(ctx, payload, r.Header.Get(vapiwebhook.SignatureHeader))
		if err != nil {
			writeVapiError(ctx, logg, w, err)
			return
		}
		if result.Ignored {
			responses.WriteJSON(w, http.StatusOK, vapiIgnoredResponse{Message: "Event ignored"})
			return
		}

		responses.WriteJSON(w, http.StatusOK, vapiSuccessResponse{
			Success:          true,
			CallID:           result.CallID,
			MinutesRemaining: result.MinutesRemaining,
			IsAgentActive:    result.AgentEnabled,
			VapiCost:         json.Number(result.ProviderCost.StringFixed(4)),
		})
	}
}

func writeVapiError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed, status := responses.Resolve(ctx, logg, err)
	responses.WriteJSON(w, status, vapiErrorResponse{
		Success: false,
		Error:   responses.PublicMessage(typed),
		Code:    string(typed.Code()),
	})
}
