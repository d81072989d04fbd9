package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CallCompletedEvent is emitted once per billed call.
type CallCompletedEvent struct {
	CallID           uuid.UUID       `json:"call_id"`
	AccountID        uuid.UUID       `json:"account_id"`
	ProviderCallID   string          `json:"provider_call_id"`
	DurationSeconds  int             `json:"duration_seconds"`
	BilledMinutes    int             `json:"billed_minutes"`
	ProviderCost     decimal.Decimal `json:"provider_cost"`
	MinutesRemaining int             `json:"minutes_remaining"`
	AgentEnabled     bool            `json:"agent_enabled"`
	RecordingURL     *string         `json:"recording_url,omitempty"`
	Archived         bool            `json:"archived"`
}

// QuotaExhaustedEvent fires when a call drains the balance to zero and the
// voice agent is switched off.
type QuotaExhaustedEvent struct {
	AccountID      uuid.UUID `json:"account_id"`
	ProviderCallID string    `json:"provider_call_id"`
	ExhaustedAt    time.Time `json:"exhausted_at"`
}

// SubscriptionActivatedEvent follows a captured PayPal order.
type SubscriptionActivatedEvent struct {
	SubscriptionID  uuid.UUID       `json:"subscription_id"`
	AccountID       uuid.UUID       `json:"account_id"`
	PlanID          string          `json:"plan_id"`
	OrderID         string          `json:"order_id"`
	CaptureID       string          `json:"capture_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	MinutesIncluded int             `json:"minutes_included"`
	RenewalDate     time.Time       `json:"renewal_date"`
}
