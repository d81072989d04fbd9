package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/ringwise/ringwise-backend/pkg/enums"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/outbox"
	"github.com/ringwise/ringwise-backend/pkg/redis"
)

const consumerScope = "analytics-consumer"

// Handler processes one decoded envelope.
type Handler interface {
	Handle(ctx context.Context, envelope Envelope) error
}

type messageSource interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// Worker consumes domain events from Pub/Sub and marks each event id in
// Redis so a redelivery is acknowledged without a second write.
type Worker struct {
	source  messageSource
	handler Handler
	store   redis.IdempotencyStore
	ttl     time.Duration
	logg    *logger.Logger
}

func NewWorker(source messageSource, handler Handler, store redis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) (*Worker, error) {
	if source == nil {
		return nil, errors.New("analytics subscription is required")
	}
	if handler == nil {
		return nil, errors.New("analytics handler is required")
	}
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Worker{source: source, handler: handler, store: store, ttl: ttl, logg: logg}, nil
}

// Run blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	return w.source.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if w.process(innerCtx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether msg should be acknowledged. Malformed messages are
// acknowledged so they do not loop.
func (w *Worker) process(ctx context.Context, msg *gcppubsub.Message) bool {
	logCtx := w.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := decodeMessage(msg)
	if err != nil {
		w.logg.Warn(w.logg.WithField(logCtx, "error", err.Error()), "invalid analytics envelope")
		return true
	}
	logCtx = w.logg.WithFields(logCtx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"occurred_at":    envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	key := w.store.IdempotencyKey(consumerScope, envelope.EventID)
	first, err := w.store.SetNX(logCtx, key, "1", w.ttl)
	if err != nil {
		w.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if !first {
		w.logg.Info(logCtx, "event already processed")
		return true
	}

	if err := w.handler.Handle(logCtx, envelope); err != nil {
		if errors.Is(err, ErrUnsupportedEventType) {
			w.logg.Warn(logCtx, "unsupported analytics event")
			return true
		}
		w.logg.Error(logCtx, "analytics handler failed", err)
		if delErr := w.store.Del(logCtx, key); delErr != nil {
			w.logg.Error(logCtx, "failed to release idempotency key", delErr)
		}
		return false
	}

	w.logg.Info(logCtx, "analytics event handled")
	return true
}

func decodeMessage(msg *gcppubsub.Message) (Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return Envelope{}, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return Envelope{}, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(strings.TrimSpace(msg.Attributes["aggregate_type"]))
	if err != nil {
		return Envelope{}, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := strings.TrimSpace(msg.Attributes["aggregate_id"])
	if aggregateID == "" {
		return Envelope{}, errors.New("aggregate_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if created := strings.TrimSpace(msg.Attributes["created_at"]); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				occurredAt = parsed
			}
		}
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	if eventID == "" {
		return Envelope{}, errors.New("event_id missing")
	}

	return Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}
