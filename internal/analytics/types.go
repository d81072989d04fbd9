package analytics

import (
	"encoding/json"
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/ringwise/ringwise-backend/pkg/enums"
)

// Envelope is a domain event as delivered on the analytics subscription.
type Envelope struct {
	EventID       string
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	OccurredAt    time.Time
	Payload       json.RawMessage
}

// UsageEventRow mirrors the usage_events BigQuery schema. One row per
// domain event; columns that do not apply to the event type stay NULL.
type UsageEventRow struct {
	EventID          string             `bigquery:"event_id"`
	EventType        string             `bigquery:"event_type"`
	OccurredAt       time.Time          `bigquery:"occurred_at"`
	AccountID        string             `bigquery:"account_id"`
	CallID           *string            `bigquery:"call_id"`
	ProviderCallID   *string            `bigquery:"provider_call_id"`
	DurationSeconds  *int64             `bigquery:"duration_seconds"`
	BilledMinutes    *int64             `bigquery:"billed_minutes"`
	MinutesRemaining *int64             `bigquery:"minutes_remaining"`
	ProviderCost     *big.Rat           `bigquery:"provider_cost"`
	Archived         *bool              `bigquery:"archived"`
	SubscriptionID   *string            `bigquery:"subscription_id"`
	PlanID           *string            `bigquery:"plan_id"`
	Amount           *big.Rat           `bigquery:"amount"`
	Currency         *string            `bigquery:"currency"`
	Payload          cbigquery.NullJSON `bigquery:"payload"`
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func int64Ptr(v int) *int64 {
	n := int64(v)
	return &n
}

func boolPtr(v bool) *bool {
	return &v
}
