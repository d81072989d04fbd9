package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/ringwise/ringwise-backend/pkg/enums"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers usage rows to the warehouse.
type Writer interface {
	InsertUsage(ctx context.Context, row UsageEventRow) error
}

type rowBuilder func(envelope Envelope) (UsageEventRow, error)

// Router turns domain events into usage rows, one builder per event type.
type Router struct {
	writer   Writer
	builders map[enums.OutboxEventType]rowBuilder
	logg     *logger.Logger
}

func NewRouter(writer Writer, logg *logger.Logger) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Router{
		writer: writer,
		builders: map[enums.OutboxEventType]rowBuilder{
			enums.EventCallCompleted:         buildCallCompletedRow,
			enums.EventAccountQuotaExhausted: buildQuotaExhaustedRow,
			enums.EventSubscriptionActivated: buildSubscriptionActivatedRow,
		},
		logg: logg,
	}, nil
}

// Handle builds the row for envelope and writes it.
func (r *Router) Handle(ctx context.Context, envelope Envelope) error {
	build, ok := r.builders[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	row, err := build(envelope)
	if err != nil {
		return err
	}

	logCtx := r.logg.WithFields(ctx, map[string]any{
		"event_type": envelope.EventType,
		"account_id": row.AccountID,
	})
	if err := r.writer.InsertUsage(logCtx, row); err != nil {
		r.logg.Error(logCtx, "failed to insert usage row", err)
		return err
	}
	return nil
}

func buildCallCompletedRow(envelope Envelope) (UsageEventRow, error) {
	var event payloads.CallCompletedEvent
	if err := decodePayload(envelope, &event); err != nil {
		return UsageEventRow{}, err
	}
	row := baseRow(envelope, event.AccountID.String(), time.Time{})
	row.CallID = stringPtr(event.CallID.String())
	row.ProviderCallID = stringPtr(event.ProviderCallID)
	row.DurationSeconds = int64Ptr(event.DurationSeconds)
	row.BilledMinutes = int64Ptr(event.BilledMinutes)
	row.MinutesRemaining = int64Ptr(event.MinutesRemaining)
	row.ProviderCost = event.ProviderCost.Rat()
	row.Archived = boolPtr(event.Archived)
	return row, nil
}

func buildQuotaExhaustedRow(envelope Envelope) (UsageEventRow, error) {
	var event payloads.QuotaExhaustedEvent
	if err := decodePayload(envelope, &event); err != nil {
		return UsageEventRow{}, err
	}
	row := baseRow(envelope, event.AccountID.String(), event.ExhaustedAt)
	row.ProviderCallID = stringPtr(event.ProviderCallID)
	row.MinutesRemaining = int64Ptr(0)
	return row, nil
}

func buildSubscriptionActivatedRow(envelope Envelope) (UsageEventRow, error) {
	var event payloads.SubscriptionActivatedEvent
	if err := decodePayload(envelope, &event); err != nil {
		return UsageEventRow{}, err
	}
	row := baseRow(envelope, event.AccountID.String(), time.Time{})
	row.SubscriptionID = stringPtr(event.SubscriptionID.String())
	row.PlanID = stringPtr(event.PlanID)
	row.MinutesRemaining = int64Ptr(event.MinutesIncluded)
	row.Amount = event.Amount.Rat()
	row.Currency = stringPtr(event.Currency)
	return row, nil
}

func decodePayload(envelope Envelope, dest any) error {
	if err := json.Unmarshal(envelope.Payload, dest); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}
	return nil
}

func baseRow(envelope Envelope, accountID string, occurred time.Time) UsageEventRow {
	if occurred.IsZero() {
		occurred = envelope.OccurredAt
	}
	return UsageEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: occurred.UTC(),
		AccountID:  accountID,
		Payload:    cbigquery.NullJSON{Valid: true, JSONVal: string(envelope.Payload)},
	}
}
