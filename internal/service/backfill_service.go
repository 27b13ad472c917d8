package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lpr-service/internal/domain/lpr"
	"lpr-service/internal/ingest"
	"lpr-service/internal/metrics"
	"lpr-service/internal/unifi"
)

const (
	DefaultBackfillChunk   = 7 * 24 * time.Hour
	DefaultBackfillWorkers = 4
)

var backfillEventTypes = []string{"smartDetect"}

type EventSource interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	ListEvents(ctx context.Context, start, end time.Time, types []string) ([]unifi.Event, error)
}

type PayloadProcessor interface {
	ProcessPayload(ctx context.Context, p *ingest.Payload, opts ProcessOptions) (*lpr.ProcessResult, error)
}

type BackfillOptions struct {
	Chunk      time.Duration
	Workers    int
	Thumbnails bool
}

type BackfillError struct {
	EventID string
	Err     error
}

func (e BackfillError) Error() string {
	if e.EventID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("event %s: %v", e.EventID, e.Err)
}

func (e BackfillError) Unwrap() error {
	return e.Err
}

type BackfillSummary struct {
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
	DryRun          bool            `json:"dry_run"`
	EventsFound     int             `json:"events_found"`
	Duplicates      int             `json:"duplicates"`
	EventsProcessed int             `json:"events_processed"`
	RecordsInserted int             `json:"records_inserted"`
	Errors          []BackfillError `json:"-"`
}

// BackfillService replays historical smart detection events from the NVR
// through the same pipeline as pushed webhooks.
type BackfillService struct {
	nvr       EventSource
	processor PayloadProcessor
	opts      BackfillOptions
	log       zerolog.Logger
	now       func() time.Time
}

func NewBackfillService(nvr EventSource, processor PayloadProcessor, opts BackfillOptions, log zerolog.Logger) *BackfillService {
	if opts.Chunk <= 0 {
		opts.Chunk = DefaultBackfillChunk
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultBackfillWorkers
	}
	return &BackfillService{
		nvr:       nvr,
		processor: processor,
		opts:      opts,
		log:       log.With().Str("component", "backfill").Logger(),
		now:       time.Now,
	}
}

type eventOutcome struct {
	records int
	err     error
}

// Run walks [now-lookback, now] in chunks, oldest first. Only events that
// carry plate text are processed, each event id at most once per run. A failed
// event is recorded in the summary and the run continues; failing to connect
// to the NVR aborts it.
func (s *BackfillService) Run(ctx context.Context, lookback time.Duration, dryRun bool) (*BackfillSummary, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("%w: lookback must be positive", ErrInvalidInput)
	}

	if err := s.nvr.Connect(ctx); err != nil {
		return nil, connectError(err)
	}
	defer s.nvr.Disconnect(context.WithoutCancel(ctx))

	end := s.now().UTC()
	summary := &BackfillSummary{
		Start:  end.Add(-lookback),
		End:    end,
		DryRun: dryRun,
	}

	if dryRun && s.opts.Thumbnails {
		s.log.Warn().Msg("dry run still stores thumbnails; disable thumbnails to avoid uploads")
	}
	s.log.Info().
		Time("start", summary.Start).
		Time("end", summary.End).
		Bool("dry_run", dryRun).
		Int("workers", s.opts.Workers).
		Msg("starting backfill")

	seen := make(map[string]struct{})
	for chunkStart := summary.Start; chunkStart.Before(end); {
		chunkEnd := chunkStart.Add(s.opts.Chunk)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		if err := s.runChunk(ctx, chunkStart, chunkEnd, dryRun, seen, summary); err != nil {
			return summary, err
		}
		chunkStart = chunkEnd
	}

	s.log.Info().
		Int("events_found", summary.EventsFound).
		Int("duplicates", summary.Duplicates).
		Int("events_processed", summary.EventsProcessed).
		Int("records_inserted", summary.RecordsInserted).
		Int("errors", len(summary.Errors)).
		Msg("backfill finished")
	return summary, nil
}

// runChunk only returns an error when ctx is done.
func (s *BackfillService) runChunk(
	ctx context.Context,
	start, end time.Time,
	dryRun bool,
	seen map[string]struct{},
	summary *BackfillSummary,
) error {
	events, err := s.nvr.ListEvents(ctx, start, end, backfillEventTypes)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Error().Err(err).Time("start", start).Time("end", end).Msg("failed to list events")
		summary.Errors = append(summary.Errors, BackfillError{Err: err})
		return nil
	}

	var batch []unifi.Event
	for _, e := range events {
		if !e.HasPlates() {
			continue
		}
		summary.EventsFound++
		if e.ID == "" {
			// Nothing to deduplicate on.
			batch = append(batch, e)
			continue
		}
		if _, dup := seen[e.ID]; dup {
			summary.Duplicates++
			metrics.BackfillEvents.WithLabelValues("duplicate").Inc()
			continue
		}
		seen[e.ID] = struct{}{}
		batch = append(batch, e)
	}

	s.log.Info().
		Time("start", start).
		Time("end", end).
		Int("events", len(events)).
		Int("with_plates", len(batch)).
		Msg("processing chunk")

	outcomes := make([]eventOutcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, e := range batch {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			outcomes[i] = s.processEvent(gctx, e, dryRun)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, o := range outcomes {
		summary.RecordsInserted += o.records
		if o.err != nil {
			metrics.BackfillEvents.WithLabelValues("failed").Inc()
			summary.Errors = append(summary.Errors, BackfillError{EventID: batch[i].ID, Err: o.err})
			continue
		}
		metrics.BackfillEvents.WithLabelValues("processed").Inc()
		summary.EventsProcessed++
	}
	return nil
}

func (s *BackfillService) processEvent(ctx context.Context, e unifi.Event, dryRun bool) eventOutcome {
	p, err := ingest.NewPayload(e.WebhookPayload())
	if err != nil {
		return eventOutcome{err: err}
	}

	result, err := s.processor.ProcessPayload(ctx, p, ProcessOptions{
		ProcessedBy:    lpr.ProcessedByBackfill,
		DryRun:         dryRun,
		SkipThumbnails: !s.opts.Thumbnails,
	})
	if result == nil {
		return eventOutcome{err: err}
	}

	records := len(result.RecordIDs)
	if dryRun {
		records = len(result.Plates)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", e.ID).Msg("failed to process event")
	}
	return eventOutcome{records: records, err: err}
}
