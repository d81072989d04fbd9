package recordings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ringwise/ringwise-backend/pkg/logger"
)

const (
	defaultMaxBytes     = 100 << 20
	defaultFetchTimeout = 30 * time.Second
	fallbackContentType = "audio/wav"
)

// ErrTooLarge is returned when the provider recording exceeds the size cap.
var ErrTooLarge = errors.New("recording exceeds size limit")

// Options tunes the archiver.
type Options struct {
	HTTPClient *http.Client
	MaxBytes   int64
	Logger     *logger.Logger
}

// Archiver copies provider-hosted recordings into durable storage.
type Archiver struct {
	http     *http.Client
	store    Store
	maxBytes int64
	logg     *logger.Logger
}

func NewArchiver(store Store, opts Options) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("recording store is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Archiver{http: client, store: store, maxBytes: maxBytes, logg: opts.Logger}, nil
}

// Key is the object name a call's recording is archived under.
func Key(accountID uuid.UUID, providerCallID string) string {
	return accountID.String() + "/" + strings.TrimSpace(providerCallID)
}

// Archive downloads sourceURL and stores it under Key. The returned URL is
// the durable location. Callers bound the whole operation with ctx.
func (a *Archiver) Archive(ctx context.Context, accountID uuid.UUID, providerCallID, sourceURL string) (string, error) {
	if accountID == uuid.Nil || strings.TrimSpace(providerCallID) == "" {
		return "", errors.New("account id and provider call id are required")
	}
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return "", errors.New("recording url is required")
	}

	body, contentType, err := a.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	key := Key(accountID, providerCallID)
	url, err := a.store.Put(ctx, key, contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("store recording in %s: %w", a.store.Name(), err)
	}
	if a.logg != nil {
		logCtx := a.logg.WithFields(ctx, map[string]any{
			"account_id": accountID.String(),
			"call_id":    providerCallID,
			"store":      a.store.Name(),
			"bytes":      len(body),
		})
		a.logg.Info(logCtx, "recording archived")
	}
	return url, nil
}

// fetch buffers the recording so both stores get a seekable body.
func (a *Archiver) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build recording request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download recording: status %d", resp.StatusCode)
	}
	if resp.ContentLength > a.maxBytes {
		return nil, "", ErrTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read recording: %w", err)
	}
	if int64(len(data)) > a.maxBytes {
		return nil, "", ErrTooLarge
	}
	if len(data) == 0 {
		return nil, "", errors.New("recording is empty")
	}
	return data, contentTypeOf(resp.Header.Get("Content-Type")), nil
}

func contentTypeOf(header string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		return fallbackContentType
	}
	return mediaType
}
