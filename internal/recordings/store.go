package recordings

import (
	"context"
	"fmt"
	"io"

	"github.com/ringwise/ringwise-backend/pkg/config"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/storage/gcs"
	"github.com/ringwise/ringwise-backend/pkg/storage/s3"
)

// Store writes an object durably and returns the URL it can be read from.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Name() string
}

type gcsStore struct {
	client *gcs.Client
}

// NewGCSStore archives into the configured GCS bucket.
func NewGCSStore(client *gcs.Client) Store {
	return &gcsStore{client: client}
}

func (s *gcsStore) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	if _, err := s.client.UploadObject(ctx, key, contentType, body); err != nil {
		return "", err
	}
	return s.client.ObjectURL(key), nil
}

func (s *gcsStore) Name() string { return "gcs" }

type s3Store struct {
	client *s3.Client
}

// NewS3Store archives into an S3-compatible bucket.
func NewS3Store(client *s3.Client) Store {
	return &s3Store{client: client}
}

func (s *s3Store) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	if err := s.client.UploadObject(ctx, key, contentType, body); err != nil {
		return "", err
	}
	return s.client.ObjectURL(key), nil
}

func (s *s3Store) Name() string { return "s3" }

// OpenStore connects the configured recordings backend. It returns a nil
// Store when archival is disabled.
func OpenStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (Store, error) {
	switch backend := cfg.Recordings.NormalizedBackend(); backend {
	case "none":
		return nil, nil
	case "gcs":
		client, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
		if err != nil {
			return nil, err
		}
		return NewGCSStore(client), nil
	case "s3":
		client, err := s3.NewClient(ctx, cfg.S3, logg)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client), nil
	default:
		return nil, fmt.Errorf("unknown recordings backend %q", backend)
	}
}
