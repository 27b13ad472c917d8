package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"lpr-service/internal/domain/lpr"
)

type GCSOptions struct {
	Bucket          string
	ProjectID       string
	MakePublic      bool
	SignedURLExpiry time.Duration

	// Used only when the bucket has to be created.
	Location      string
	RetentionDays int
}

// V4 signatures cannot outlive seven days.
const maxSignedURLExpiry = 7 * 24 * time.Hour

// GCSStore uploads thumbnails to a Cloud Storage bucket. Credentials come from
// the environment (GOOGLE_APPLICATION_CREDENTIALS or the metadata server).
type GCSStore struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	opts   GCSOptions
	log    zerolog.Logger
}

func NewGCSStore(ctx context.Context, opts GCSOptions, log zerolog.Logger) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	if opts.SignedURLExpiry <= 0 || opts.SignedURLExpiry > maxSignedURLExpiry {
		opts.SignedURLExpiry = maxSignedURLExpiry
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	s := &GCSStore{
		client: client,
		bucket: client.Bucket(opts.Bucket),
		opts:   opts,
		log:    log.With().Str("bucket", opts.Bucket).Logger(),
	}
	if err := s.ensureBucket(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *GCSStore) ensureBucket(ctx context.Context) error {
	_, err := s.bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("failed to read bucket attributes: %w", err)
	}
	if s.opts.ProjectID == "" {
		return fmt.Errorf("bucket %s does not exist and no project id is configured", s.opts.Bucket)
	}
	if err := s.bucket.Create(ctx, s.opts.ProjectID, bucketAttrs(s.opts)); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	s.log.Info().
		Str("location", s.opts.Location).
		Int("retention_days", s.opts.RetentionDays).
		Msg("created thumbnail bucket")
	return nil
}

func bucketAttrs(opts GCSOptions) *gcs.BucketAttrs {
	attrs := &gcs.BucketAttrs{Location: opts.Location}
	if opts.RetentionDays > 0 {
		attrs.Lifecycle = gcs.Lifecycle{
			Rules: []gcs.LifecycleRule{{
				Action:    gcs.LifecycleAction{Type: gcs.DeleteAction},
				Condition: gcs.LifecycleCondition{AgeInDays: int64(opts.RetentionDays)},
			}},
		}
	}
	return attrs
}

func (s *GCSStore) Put(ctx context.Context, data []byte, hints ObjectHints) (*lpr.ThumbnailArtifact, error) {
	key := ObjectKey(hints)
	contentType := DetectContentType(data)
	uploadedAt := time.Now().UTC()

	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = objectMetadata(hints, uploadedAt)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return &lpr.ThumbnailArtifact{
		StoragePath: fmt.Sprintf("gs://%s/%s", s.opts.Bucket, key),
		PublicURL:   s.objectURL(key),
		Filename:    key,
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
		UploadedAt:  uploadedAt,
	}, nil
}

func (s *GCSStore) objectURL(key string) string {
	public := fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.opts.Bucket, key)
	if s.opts.MakePublic {
		return public
	}

	signed, err := s.bucket.SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(s.opts.SignedURLExpiry),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("object", key).Msg("could not sign url, using public url")
		return public
	}
	return signed
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
