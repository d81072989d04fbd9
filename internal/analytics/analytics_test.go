package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"

	"github.com/ringwise/ringwise-backend/pkg/enums"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/outbox"
	"github.com/ringwise/ringwise-backend/pkg/outbox/payloads"
	pkgredis "github.com/ringwise/ringwise-backend/pkg/redis"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "analytics-test", Output: io.Discard})
}

type fakeWriter struct {
	rows []UsageEventRow
	err  error
}

func (f *fakeWriter) InsertUsage(_ context.Context, row UsageEventRow) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

type fakeInserter struct {
	errs  []error
	calls int
	rows  []any
}

func (f *fakeInserter) InsertRows(_ context.Context, _ string, rows []any) error {
	f.calls++
	f.rows = rows
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func envelopeFor(t *testing.T, eventType enums.OutboxEventType, payload any) Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Envelope{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: uuid.NewString(),
		OccurredAt:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Payload:     raw,
	}
}

func TestRouterBuildsCallRow(t *testing.T) {
	writer := &fakeWriter{}
	router, err := NewRouter(writer, testLogger())
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	accountID := uuid.New()
	event := payloads.CallCompletedEvent{
		CallID:           uuid.New(),
		AccountID:        accountID,
		ProviderCallID:   "call-1",
		DurationSeconds:  125,
		BilledMinutes:    3,
		ProviderCost:     decimal.RequireFromString("0.3542"),
		MinutesRemaining: 7,
		Archived:         true,
	}
	envelope := envelopeFor(t, enums.EventCallCompleted, event)
	if err := router.Handle(context.Background(), envelope); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(writer.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(writer.rows))
	}
	row := writer.rows[0]
	if row.EventID != envelope.EventID || row.AccountID != accountID.String() {
		t.Fatalf("unexpected identity columns %+v", row)
	}
	if *row.BilledMinutes != 3 || *row.DurationSeconds != 125 || *row.MinutesRemaining != 7 {
		t.Fatalf("unexpected usage columns %+v", row)
	}
	if row.ProviderCost.FloatString(4) != "0.3542" {
		t.Fatalf("unexpected cost %s", row.ProviderCost.FloatString(4))
	}
	if row.Amount != nil || row.PlanID != nil {
		t.Fatalf("subscription columns must stay null for calls")
	}
	if !row.Payload.Valid {
		t.Fatalf("expected raw payload to be kept")
	}
}

func TestRouterBuildsSubscriptionRow(t *testing.T) {
	writer := &fakeWriter{}
	router, _ := NewRouter(writer, testLogger())
	event := payloads.SubscriptionActivatedEvent{
		SubscriptionID:  uuid.New(),
		AccountID:       uuid.New(),
		PlanID:          "pro",
		Amount:          decimal.RequireFromString("19.90"),
		Currency:        "EUR",
		MinutesIncluded: 300,
	}
	if err := router.Handle(context.Background(), envelopeFor(t, enums.EventSubscriptionActivated, event)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	row := writer.rows[0]
	if *row.PlanID != "pro" || *row.Currency != "EUR" || row.Amount.FloatString(2) != "19.90" {
		t.Fatalf("unexpected subscription row %+v", row)
	}
	if *row.MinutesRemaining != 300 {
		t.Fatalf("expected plan minutes as remaining, got %d", *row.MinutesRemaining)
	}
}

func TestRouterQuotaExhaustedUsesEventTime(t *testing.T) {
	writer := &fakeWriter{}
	router, _ := NewRouter(writer, testLogger())
	exhaustedAt := time.Date(2026, 10, 2, 8, 30, 0, 0, time.UTC)
	event := payloads.QuotaExhaustedEvent{AccountID: uuid.New(), ProviderCallID: "call-9", ExhaustedAt: exhaustedAt}
	if err := router.Handle(context.Background(), envelopeFor(t, enums.EventAccountQuotaExhausted, event)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !writer.rows[0].OccurredAt.Equal(exhaustedAt) || *writer.rows[0].MinutesRemaining != 0 {
		t.Fatalf("unexpected row %+v", writer.rows[0])
	}
}

func TestRouterRejectsUnknownAndEmpty(t *testing.T) {
	router, _ := NewRouter(&fakeWriter{}, testLogger())
	err := router.Handle(context.Background(), Envelope{EventType: "order.paid", Payload: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if err := router.Handle(context.Background(), Envelope{EventType: enums.EventCallCompleted}); err == nil {
		t.Fatal("expected empty payload error")
	}
}

func TestWriterRetriesTransientErrors(t *testing.T) {
	inserter := &fakeInserter{errs: []error{&googleapi.Error{Code: http.StatusServiceUnavailable}}}
	writer, err := NewWriter(inserter, "usage_events", RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := writer.InsertUsage(context.Background(), UsageEventRow{EventID: "evt-1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserter.calls != 2 {
		t.Fatalf("expected a retry, got %d calls", inserter.calls)
	}
}

func TestWriterStopsOnPermanentErrors(t *testing.T) {
	inserter := &fakeInserter{errs: []error{&googleapi.Error{Code: http.StatusBadRequest}}}
	writer, _ := NewWriter(inserter, "usage_events", RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond})
	if err := writer.InsertUsage(context.Background(), UsageEventRow{EventID: "evt-1"}); err == nil {
		t.Fatal("expected permanent error")
	}
	if inserter.calls != 1 {
		t.Fatalf("expected no retry, got %d calls", inserter.calls)
	}
}

func TestWriterRequiresTable(t *testing.T) {
	if _, err := NewWriter(&fakeInserter{}, " ", RetryPolicy{}); err == nil {
		t.Fatal("expected table error")
	}
}

type fakeHandler struct {
	calls int
	err   error
}

func (f *fakeHandler) Handle(context.Context, Envelope) error {
	f.calls++
	return f.err
}

type nopSource struct{}

func (nopSource) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return nil
}

func newTestWorker(t *testing.T, handler Handler) *Worker {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	w, err := NewWorker(nopSource{}, handler, pkgredis.FromRedis(raw), time.Hour, testLogger())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func callMessage(t *testing.T, eventID string) *gcppubsub.Message {
	t.Helper()
	data, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"account_id":"` + uuid.NewString() + `"}`),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &gcppubsub.Message{
		ID:   "msg-" + eventID,
		Data: data,
		Attributes: map[string]string{
			"event_type":     string(enums.EventCallCompleted),
			"aggregate_type": string(enums.AggregateCall),
			"aggregate_id":   uuid.NewString(),
		},
	}
}

func TestWorkerSkipsRedeliveredEvents(t *testing.T) {
	handler := &fakeHandler{}
	worker := newTestWorker(t, handler)
	msg := callMessage(t, uuid.NewString())

	if !worker.process(context.Background(), msg) {
		t.Fatal("expected ack")
	}
	if !worker.process(context.Background(), msg) {
		t.Fatal("expected redelivery to be acked")
	}
	if handler.calls != 1 {
		t.Fatalf("expected handler once, got %d", handler.calls)
	}
}

func TestWorkerReleasesKeyOnFailure(t *testing.T) {
	handler := &fakeHandler{err: errors.New("bigquery down")}
	worker := newTestWorker(t, handler)
	msg := callMessage(t, uuid.NewString())

	if worker.process(context.Background(), msg) {
		t.Fatal("expected nack on handler failure")
	}
	handler.err = nil
	if !worker.process(context.Background(), msg) {
		t.Fatal("expected retry to succeed")
	}
	if handler.calls != 2 {
		t.Fatalf("expected two handler calls, got %d", handler.calls)
	}
}

func TestWorkerAcksMalformedMessages(t *testing.T) {
	handler := &fakeHandler{}
	worker := newTestWorker(t, handler)

	if !worker.process(context.Background(), &gcppubsub.Message{ID: "bad", Data: []byte("not json")}) {
		t.Fatal("expected malformed message to be acked")
	}
	msg := callMessage(t, uuid.NewString())
	msg.Attributes["event_type"] = "order.paid"
	if !worker.process(context.Background(), msg) {
		t.Fatal("expected unknown event type to be acked")
	}
	if handler.calls != 0 {
		t.Fatalf("handler must not run for malformed messages")
	}
}

func TestDecodeMessageFallsBackToAttributes(t *testing.T) {
	data, _ := json.Marshal(outbox.PayloadEnvelope{Data: json.RawMessage(`{}`)})
	created := time.Date(2026, 10, 3, 9, 0, 0, 0, time.UTC)
	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_id":       "evt-attr",
			"event_type":     string(enums.EventSubscriptionActivated),
			"aggregate_type": string(enums.AggregateSubscription),
			"aggregate_id":   "sub-1",
			"created_at":     created.Format(time.RFC3339Nano),
		},
	}
	envelope, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.EventID != "evt-attr" || !envelope.OccurredAt.Equal(created) {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}
