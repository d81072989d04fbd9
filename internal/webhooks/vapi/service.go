package vapiwebhook

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/internal/accounts"
	"github.com/ringwise/ringwise-backend/internal/calls"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/enums"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/outbox"
	"github.com/ringwise/ringwise-backend/pkg/outbox/payloads"
	"github.com/ringwise/ringwise-backend/pkg/phone"
)

const (
	defaultArchiveTimeout = 5 * time.Second
	actorSource           = "vapi"
)

var errDuplicateDelivery = errors.New("call already recorded")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Archiver copies a transient recording into durable storage.
type Archiver interface {
	Archive(ctx context.Context, accountID uuid.UUID, providerCallID, sourceURL string) (string, error)
}

type callRecorder interface {
	IncWebhook(outcome string)
	AddBilledMinutes(minutes int)
	IncArchival(result string)
}

type ServiceParams struct {
	Secret            string
	Rate              decimal.Decimal
	DefaultRegion     string
	ArchiveTimeout    time.Duration
	Accounts          *accounts.Repository
	Calls             *calls.Repository
	Archiver          Archiver
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Metrics           callRecorder
	Logger            *logger.Logger
}

// Service applies call-ended reports to the call log and the minutes ledger.
type Service struct {
	secret         string
	rate           decimal.Decimal
	region         string
	archiveTimeout time.Duration
	accounts       *accounts.Repository
	calls          *calls.Repository
	archiver       Archiver
	outbox         outbox.Emitter
	txRunner       txRunner
	metrics        callRecorder
	logg           *logger.Logger
}

// Result is what the provider receives back. Ignored events carry nothing else.
type Result struct {
	Ignored          bool
	Duplicate        bool
	CallID           uuid.UUID
	MinutesRemaining int
	AgentEnabled     bool
	ProviderCost     decimal.Decimal
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repo required")
	}
	if params.Calls == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "calls repo required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Rate.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "per-minute rate must be non-negative")
	}
	timeout := params.ArchiveTimeout
	if timeout <= 0 {
		timeout = defaultArchiveTimeout
	}
	return &Service{
		secret:         params.Secret,
		rate:           params.Rate,
		region:         params.DefaultRegion,
		archiveTimeout: timeout,
		accounts:       params.Accounts,
		calls:          params.Calls,
		archiver:       params.Archiver,
		outbox:         params.Outbox,
		txRunner:       params.TransactionRunner,
		metrics:        params.Metrics,
		logg:           params.Logger,
	}, nil
}

// Handle verifies and applies one webhook delivery. Redelivered call ids
// return the stored result without touching the ledger again.
func (s *Service) Handle(ctx context.Context, body []byte, signature string) (*Result, error) {
	if err := VerifySignature(s.secret, body, signature); err != nil {
		s.incWebhook("rejected")
		return nil, err
	}
	event, err := ParseEvent(body)
	if err != nil {
		s.incWebhook("invalid")
		return nil, err
	}
	if !event.IsCallEnded() {
		s.incWebhook("ignored")
		return &Result{Ignored: true}, nil
	}

	dialed := event.DialedNumber()
	if dialed == "" {
		s.incWebhook("invalid")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone number is required")
	}
	providerCallID := event.ProviderCallID()
	if providerCallID == "" {
		s.incWebhook("invalid")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "call id is required")
	}
	seconds, err := event.Seconds()
	if err != nil {
		s.incWebhook("invalid")
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithCallID(ctx, providerCallID)
	}

	account, err := s.accounts.FindByVirtualNumber(ctx, phone.Normalize(dialed, s.region))
	if err != nil {
		s.incWebhook("failed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve account")
	}
	if account == nil {
		s.incWebhook("not_found")
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no account for virtual number").
			WithDetails(map[string]any{"phoneNumber": dialed})
	}
	if s.logg != nil {
		ctx = s.logg.WithAccountID(ctx, account.ID.String())
	}

	if stored, err := s.calls.FindByProviderCallID(ctx, providerCallID); err != nil {
		s.incWebhook("failed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup call")
	} else if stored != nil {
		s.incWebhook("duplicate")
		return resultFromRecord(stored), nil
	}

	billed := BilledMinutes(seconds)
	cost := ProviderCost(seconds, s.rate)
	transient := event.RecordingURL()
	archived := s.archive(ctx, account.ID, providerCallID, transient)

	caller := event.Caller()
	record := &models.CallRecord{
		AccountID:       account.ID,
		ProviderCallID:  providerCallID,
		CallerName:      caller.Name,
		CallerNumber:    caller.Number,
		StartedAt:       event.startedAt(),
		EndedAt:         event.endedAt(),
		DurationSeconds: wholeSeconds(seconds),
		BilledMinutes:   billed,
		Transcript:      event.TranscriptText(),
		Summary:         event.SummaryText(),
		ProviderCost:    cost,
	}
	if transient != "" {
		record.RecordingURL = &transient
	}
	if archived != "" {
		record.ArchivedRecordingURL = &archived
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		state, err := s.accounts.WithTx(tx).ApplyCallUsage(ctx, account.ID, billed)
		if err != nil {
			return err
		}
		record.MinutesRemainingAfter = state.MinutesRemaining
		record.AgentEnabledAfter = state.AgentEnabled

		inserted, err := s.calls.WithTx(tx).InsertIfAbsent(ctx, record)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateDelivery
		}
		return s.emitEvents(ctx, tx, record, billed)
	})
	if errors.Is(err, errDuplicateDelivery) {
		stored, lookupErr := s.calls.FindByProviderCallID(ctx, providerCallID)
		if lookupErr != nil {
			s.incWebhook("failed")
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, lookupErr, "load concurrent call")
		}
		if stored == nil {
			s.incWebhook("failed")
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "concurrent call not visible")
		}
		s.incWebhook("duplicate")
		return resultFromRecord(stored), nil
	}
	if err != nil {
		s.incWebhook("failed")
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply call")
	}

	s.incWebhook("applied")
	if s.metrics != nil {
		s.metrics.AddBilledMinutes(billed)
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"billed_minutes":    billed,
			"minutes_remaining": record.MinutesRemainingAfter,
			"agent_enabled":     record.AgentEnabledAfter,
		})
		s.logg.Info(logCtx, "call applied")
	}
	return resultFromRecord(record), nil
}

// archive is bounded by the archive timeout. Failures fall back to the
// transient URL and never fail the delivery.
func (s *Service) archive(ctx context.Context, accountID uuid.UUID, providerCallID, sourceURL string) string {
	if sourceURL == "" || s.archiver == nil {
		s.incArchival("skipped")
		return ""
	}
	archiveCtx, cancel := context.WithTimeout(ctx, s.archiveTimeout)
	defer cancel()

	url, err := s.archiver.Archive(archiveCtx, accountID, providerCallID, sourceURL)
	if err != nil {
		s.incArchival("failed")
		if s.logg != nil {
			logCtx := s.logg.WithField(ctx, "error", err.Error())
			s.logg.Warn(logCtx, "recording archival failed, keeping provider url")
		}
		return ""
	}
	s.incArchival("archived")
	return url
}

func (s *Service) emitEvents(ctx context.Context, tx *gorm.DB, record *models.CallRecord, billed int) error {
	actor := &outbox.ActorRef{AccountID: record.AccountID, Source: actorSource}
	recordingURL := record.RecordingURL
	if record.ArchivedRecordingURL != nil {
		recordingURL = record.ArchivedRecordingURL
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCallCompleted,
		AggregateType: enums.AggregateCall,
		AggregateID:   record.ID,
		Actor:         actor,
		Data: payloads.CallCompletedEvent{
			CallID:           record.ID,
			AccountID:        record.AccountID,
			ProviderCallID:   record.ProviderCallID,
			DurationSeconds:  record.DurationSeconds,
			BilledMinutes:    record.BilledMinutes,
			ProviderCost:     record.ProviderCost,
			MinutesRemaining: record.MinutesRemainingAfter,
			AgentEnabled:     record.AgentEnabledAfter,
			RecordingURL:     recordingURL,
			Archived:         record.ArchivedRecordingURL != nil,
		},
	}); err != nil {
		return err
	}
	if billed == 0 || record.MinutesRemainingAfter > 0 {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAccountQuotaExhausted,
		AggregateType: enums.AggregateAccount,
		AggregateID:   record.AccountID,
		Actor:         actor,
		Data: payloads.QuotaExhaustedEvent{
			AccountID:      record.AccountID,
			ProviderCallID: record.ProviderCallID,
			ExhaustedAt:    time.Now().UTC(),
		},
	})
}

func (s *Service) incWebhook(outcome string) {
	if s.metrics != nil {
		s.metrics.IncWebhook(outcome)
	}
}

func (s *Service) incArchival(result string) {
	if s.metrics != nil {
		s.metrics.IncArchival(result)
	}
}

func resultFromRecord(record *models.CallRecord) *Result {
	return &Result{
		CallID:           record.ID,
		MinutesRemaining: record.MinutesRemainingAfter,
		AgentEnabled:     record.AgentEnabledAfter,
		ProviderCost:     record.ProviderCost,
	}
}

func wholeSeconds(seconds float64) int {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return int(math.Ceil(math.Min(seconds, maxCallDuration.Seconds())))
}
