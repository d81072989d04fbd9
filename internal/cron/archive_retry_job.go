package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/logger"
)

const (
	archiveRetryWindow  = 24 * time.Hour
	archiveRetryBatch   = 100
	archiveRetryTimeout = 30 * time.Second
	archiveRetryRate    = 5
)

type pendingArchiveRepo interface {
	PendingArchive(ctx context.Context, since time.Time, limit int) ([]models.CallRecord, error)
	AttachArchivedURL(ctx context.Context, id uuid.UUID, url string) (bool, error)
}

type recordingArchiver interface {
	Archive(ctx context.Context, accountID uuid.UUID, providerCallID, sourceURL string) (string, error)
}

type archivalRecorder interface {
	IncArchival(result string)
}

type ArchiveRetryJobParams struct {
	Logger   *logger.Logger
	Calls    pendingArchiveRepo
	Archiver recordingArchiver
	Metrics  archivalRecorder
	Window   time.Duration
	Batch    int
	Timeout  time.Duration
	// PerSecond caps downloads from the provider.
	PerSecond float64
}

// NewArchiveRetryJob re-attempts archival for recent calls that still point
// at the provider's transient recording URL.
func NewArchiveRetryJob(params ArchiveRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Calls == nil {
		return nil, errors.New("calls repository required")
	}
	if params.Archiver == nil {
		return nil, errors.New("archiver required")
	}
	window := params.Window
	if window <= 0 {
		window = archiveRetryWindow
	}
	batch := params.Batch
	if batch <= 0 {
		batch = archiveRetryBatch
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = archiveRetryTimeout
	}
	perSecond := params.PerSecond
	if perSecond <= 0 {
		perSecond = archiveRetryRate
	}
	return &archiveRetryJob{
		logg:     params.Logger,
		calls:    params.Calls,
		archiver: params.Archiver,
		metrics:  params.Metrics,
		window:   window,
		batch:    batch,
		timeout:  timeout,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		now:      time.Now,
	}, nil
}

type archiveRetryJob struct {
	logg     *logger.Logger
	calls    pendingArchiveRepo
	archiver recordingArchiver
	metrics  archivalRecorder
	window   time.Duration
	batch    int
	timeout  time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
}

func (j *archiveRetryJob) Name() string { return "archive-retry" }

func (j *archiveRetryJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.window)
	pending, err := j.calls.PendingArchive(ctx, since, j.batch)
	if err != nil {
		return fmt.Errorf("load pending archives: %w", err)
	}

	var errs error
	archived := 0
	for i := range pending {
		if err := j.limiter.Wait(ctx); err != nil {
			return multierr.Append(errs, err)
		}
		ok, err := j.retry(ctx, &pending[i])
		if err != nil {
			j.record("failed")
			errs = multierr.Append(errs, fmt.Errorf("call %s: %w", pending[i].ProviderCallID, err))
			continue
		}
		if ok {
			j.record("archived")
			archived++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"pending":  len(pending),
		"archived": archived,
		"failed":   len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "archive retry complete")
	return errs
}

func (j *archiveRetryJob) retry(ctx context.Context, call *models.CallRecord) (bool, error) {
	if call.RecordingURL == nil || *call.RecordingURL == "" {
		return false, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	url, err := j.archiver.Archive(callCtx, call.AccountID, call.ProviderCallID, *call.RecordingURL)
	if err != nil {
		return false, err
	}
	return j.calls.AttachArchivedURL(ctx, call.ID, url)
}

func (j *archiveRetryJob) record(result string) {
	if j.metrics != nil {
		j.metrics.IncArchival(result)
	}
}
