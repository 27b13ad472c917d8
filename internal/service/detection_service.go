package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lpr-service/internal/domain/lpr"
	"lpr-service/internal/ingest"
	"lpr-service/internal/metrics"
	"lpr-service/internal/repository"
	"lpr-service/internal/thumbnail"
	"lpr-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrSinkWrite    = errors.New("failed to write detection")
	ErrUpstreamAuth = errors.New("upstream authentication failed")
)

const (
	DefaultMaxPlates = 10

	defaultQueryLimit = 100
	maxQueryLimit     = 500
	defaultStatsDays  = 7
	maxStatsDays      = 365
)

type DetectionRepository interface {
	InsertDetection(ctx context.Context, rec *lpr.Record) (string, error)
	FindDetections(ctx context.Context, f repository.DetectionFilter) ([]repository.DetectionView, error)
	DetectionStats(ctx context.Context, since time.Time) ([]repository.DailyStats, error)
	ListCameraSummaries(ctx context.Context) ([]repository.CameraSummary, error)
	DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Thumbnailer interface {
	Process(ctx context.Context, rec *lpr.Record, in thumbnail.Input) thumbnail.Result
}

type ProcessOptions struct {
	ProcessedBy    string
	DryRun         bool
	SkipThumbnails bool
}

type DetectionService struct {
	repo      DetectionRepository
	enricher  *ingest.Enricher
	thumbs    Thumbnailer
	maxPlates int
	log       zerolog.Logger
	now       func() time.Time
}

// NewDetectionService wires the ingestion pipeline. thumbs is nil when
// thumbnail storage is disabled.
func NewDetectionService(
	repo DetectionRepository,
	enricher *ingest.Enricher,
	thumbs Thumbnailer,
	maxPlates int,
	log zerolog.Logger,
) *DetectionService {
	if maxPlates <= 0 {
		maxPlates = DefaultMaxPlates
	}
	return &DetectionService{
		repo:      repo,
		enricher:  enricher,
		thumbs:    thumbs,
		maxPlates: maxPlates,
		log:       log,
		now:       time.Now,
	}
}

// ProcessWebhook handles one pushed webhook body.
func (s *DetectionService) ProcessWebhook(ctx context.Context, raw []byte) (*lpr.ProcessResult, error) {
	p, err := ingest.ParsePayload(raw)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	result, err := s.ProcessPayload(ctx, p, ProcessOptions{ProcessedBy: lpr.ProcessedByWebhook})
	if result != nil {
		metrics.WebhooksReceived.WithLabelValues(result.Format).Inc()
	}
	return result, err
}

// ProcessPayload runs classification, extraction, enrichment, thumbnails and
// the sink write for every plate in p. A failed write does not stop the
// remaining plates; all write errors are joined into the returned error and
// the result still lists what was written.
func (s *DetectionService) ProcessPayload(ctx context.Context, p *ingest.Payload, opts ProcessOptions) (*lpr.ProcessResult, error) {
	format := ingest.Classify(p)
	result := &lpr.ProcessResult{
		Format:    format.String(),
		Plates:    []string{},
		RecordIDs: []string{},
		DryRun:    opts.DryRun,
	}

	if format == lpr.FormatUnrecognized {
		s.log.Debug().Str("type", p.Type()).Msg("ignoring unrecognized payload")
		return result, nil
	}

	extraction := ingest.Extract(p, format)
	plates := extraction.Plates
	if len(plates) == 0 {
		s.log.Debug().
			Str("format", result.Format).
			Str("event_id", p.EventID()).
			Msg("no plates in payload")
		return result, nil
	}
	if len(plates) > s.maxPlates {
		s.log.Warn().
			Int("plates", len(plates)).
			Int("max_plates", s.maxPlates).
			Str("event_id", p.EventID()).
			Msg("too many plates in payload, truncating")
		plates = plates[:s.maxPlates]
	}

	inline := thumbnail.NewInlineImage(extraction.InlineThumbnail)

	var errs []error
	for _, plate := range plates {
		rec := s.enricher.Enrich(ctx, plate, p, opts.ProcessedBy)

		if s.thumbs != nil && !opts.SkipThumbnails {
			thumbs := s.thumbs.Process(ctx, rec, thumbnail.Input{
				Inline:    inline,
				CameraID:  rec.CameraID,
				EventID:   rec.EventID,
				CroppedID: plate.CroppedID,
			})
			rec.Thumbnail = thumbs.Full
			rec.CroppedThumbnail = thumbs.Crop
			if rec.SnapshotURL == "" && thumbs.Full != nil {
				rec.SnapshotURL = thumbs.Full.PublicURL
			}
		}

		result.Plates = append(result.Plates, rec.PlateNumber)

		if opts.DryRun {
			s.log.Info().
				Str("plate", rec.PlateNumber).
				Str("camera_id", rec.CameraID).
				Str("event_id", rec.EventID).
				Time("detection_timestamp", rec.DetectionTimestamp).
				Msg("dry run, detection not written")
			continue
		}

		// Detached from request cancellation; the row is written even if the
		// caller has already gone away.
		recordID, err := s.repo.InsertDetection(context.WithoutCancel(ctx), rec)
		if err != nil {
			metrics.SinkErrors.Inc()
			s.log.Error().
				Err(err).
				Str("plate", rec.PlateNumber).
				Str("event_id", rec.EventID).
				Msg("failed to insert detection")
			errs = append(errs, fmt.Errorf("%w: plate %s: %w", ErrSinkWrite, rec.PlateNumber, err))
			continue
		}

		metrics.RecordsWritten.WithLabelValues(opts.ProcessedBy).Inc()
		result.RecordIDs = append(result.RecordIDs, recordID)

		s.log.Info().
			Str("record_id", recordID).
			Str("plate", rec.PlateNumber).
			Str("camera_id", rec.CameraID).
			Str("camera_name", rec.CameraName).
			Str("event_id", rec.EventID).
			Bool("thumbnail", rec.Thumbnail != nil).
			Bool("cropped_thumbnail", rec.CroppedThumbnail != nil).
			Msg("saved detection")
	}

	return result, errors.Join(errs...)
}

type DetectionQuery struct {
	Plate          string
	CameraID       string
	CameraLocation string
	From           string
	To             string
	Limit          int
	Offset         int
}

func (s *DetectionService) FindDetections(ctx context.Context, q DetectionQuery) ([]repository.DetectionView, error) {
	filter := repository.DetectionFilter{
		Plate:          utils.NormalizePlate(q.Plate),
		CameraID:       strings.TrimSpace(q.CameraID),
		CameraLocation: strings.TrimSpace(q.CameraLocation),
		Limit:          q.Limit,
		Offset:         q.Offset,
	}

	var err error
	if filter.From, err = parseBound("from", q.From); err != nil {
		return nil, err
	}
	if filter.To, err = parseBound("to", q.To); err != nil {
		return nil, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidInput)
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultQueryLimit
	}
	if filter.Limit > maxQueryLimit {
		filter.Limit = maxQueryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	views, err := s.repo.FindDetections(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find detections: %w", err)
	}
	if views == nil {
		views = []repository.DetectionView{}
	}
	return views, nil
}

func parseBound(name, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, ok := ingest.ParseTimestamp(value)
	if !ok {
		return nil, fmt.Errorf("%w: invalid %s time format", ErrInvalidInput, name)
	}
	return &t, nil
}

func (s *DetectionService) Cameras(ctx context.Context) ([]repository.CameraSummary, error) {
	cameras, err := s.repo.ListCameraSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	if cameras == nil {
		cameras = []repository.CameraSummary{}
	}
	return cameras, nil
}

// Stats returns per-day totals for the last days days, newest first.
func (s *DetectionService) Stats(ctx context.Context, days int) ([]repository.DailyStats, error) {
	if days == 0 {
		days = defaultStatsDays
	}
	if days < 0 || days > maxStatsDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidInput, maxStatsDays)
	}

	since := s.now().UTC().AddDate(0, 0, -days)
	stats, err := s.repo.DetectionStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load detection stats: %w", err)
	}
	if stats == nil {
		stats = []repository.DailyStats{}
	}
	return stats, nil
}

// CleanupOldDetections deletes detections older than days days.
func (s *DetectionService) CleanupOldDetections(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive", ErrInvalidInput)
	}

	cutoff := s.now().UTC().AddDate(0, 0, -days)
	deleted, err := s.repo.DeleteDetectionsBefore(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old detections")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old detections")
	}
	return deleted, nil
}
