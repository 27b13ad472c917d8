package thumbnail

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lpr-service/internal/domain/lpr"
	"lpr-service/internal/metrics"
	"lpr-service/internal/storage"
)

const (
	slotFull = "full"
	slotCrop = "crop"

	sourceInline = "alarm_thumbnail"
)

// ImageSource resolves and downloads images from the NVR.
type ImageSource interface {
	SnapshotURL(cameraID, eventID string) string
	CropURL(cameraID, croppedID string) string
	DetectionThumbnails(cameraID, eventID, croppedID string) []lpr.ThumbnailRef
	DownloadImage(ctx context.Context, url string) ([]byte, error)
}

type Store interface {
	Put(ctx context.Context, data []byte, hints storage.ObjectHints) (*lpr.ThumbnailArtifact, error)
}

type Options struct {
	StoreEventSnapshots    bool
	StoreCroppedThumbnails bool
	// Timeout bounds one Process call; zero means no extra deadline.
	Timeout time.Duration
}

type Input struct {
	Inline    *InlineImage
	CameraID  string
	EventID   string
	CroppedID string
}

type Result struct {
	Full *lpr.ThumbnailArtifact
	Crop *lpr.ThumbnailArtifact
}

func (r Result) Empty() bool {
	return r.Full == nil && r.Crop == nil
}

// Pipeline archives up to two images per detection: the full scene and the
// plate crop. Failures never propagate; a slot that could not be filled is
// simply left nil.
type Pipeline struct {
	images ImageSource
	store  Store
	opts   Options
	log    zerolog.Logger
}

// NewPipeline returns a pipeline. images may be nil when no NVR session is
// configured; only inline thumbnails are stored then.
func NewPipeline(images ImageSource, store Store, opts Options, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		images: images,
		store:  store,
		opts:   opts,
		log:    log.With().Str("component", "thumbnail").Logger(),
	}
}

// Process fills both slots concurrently. Inside a slot sources are tried in
// priority order and a later source only runs once the earlier one failed.
// The generic enumeration runs only when neither slot got anything.
func (p *Pipeline) Process(ctx context.Context, rec *lpr.Record, in Input) Result {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	var (
		res Result
		g   errgroup.Group
	)
	g.Go(func() error {
		res.Full = p.fullScene(ctx, rec, in)
		return nil
	})
	g.Go(func() error {
		res.Crop = p.plateCrop(ctx, rec, in)
		return nil
	})
	g.Wait()

	if res.Empty() {
		p.fallback(ctx, rec, in, &res)
	}
	return res
}

func (p *Pipeline) fullScene(ctx context.Context, rec *lpr.Record, in Input) *lpr.ThumbnailArtifact {
	if in.Inline != nil {
		artifact, err := in.Inline.store(ctx, p.store, p.hints(rec, sourceInline))
		if p.record(rec, slotFull, sourceInline, err) {
			return artifact
		}
	}

	if !p.opts.StoreEventSnapshots || p.images == nil || in.EventID == "" {
		return nil
	}
	url := p.images.SnapshotURL(in.CameraID, in.EventID)
	if url == "" {
		return nil
	}
	return p.fetch(ctx, rec, slotFull, lpr.ThumbnailEventSnapshot, url)
}

func (p *Pipeline) plateCrop(ctx context.Context, rec *lpr.Record, in Input) *lpr.ThumbnailArtifact {
	if !p.opts.StoreCroppedThumbnails || p.images == nil || in.CameraID == "" || in.CroppedID == "" {
		return nil
	}
	url := p.images.CropURL(in.CameraID, in.CroppedID)
	if url == "" {
		return nil
	}
	return p.fetch(ctx, rec, slotCrop, lpr.ThumbnailPlateCrop, url)
}

func (p *Pipeline) fallback(ctx context.Context, rec *lpr.Record, in Input, res *Result) {
	if p.images == nil {
		return
	}

	for _, ref := range p.images.DetectionThumbnails(in.CameraID, in.EventID, in.CroppedID) {
		if ref.URL == "" {
			continue
		}
		if ref.Kind == lpr.ThumbnailPlateCrop {
			if res.Crop == nil && p.opts.StoreCroppedThumbnails {
				res.Crop = p.fetch(ctx, rec, slotCrop, ref.Kind, ref.URL)
			}
			continue
		}
		if res.Full == nil && p.opts.StoreEventSnapshots {
			res.Full = p.fetch(ctx, rec, slotFull, ref.Kind, ref.URL)
		}
	}
}

func (p *Pipeline) fetch(ctx context.Context, rec *lpr.Record, slot string, kind lpr.ThumbnailKind, url string) *lpr.ThumbnailArtifact {
	data, err := p.images.DownloadImage(ctx, url)
	if err != nil {
		p.record(rec, slot, string(kind), err)
		return nil
	}
	artifact, err := p.store.Put(ctx, data, p.hints(rec, string(kind)))
	if !p.record(rec, slot, string(kind), err) {
		return nil
	}
	return artifact
}

// record logs and counts one attempt and reports whether it succeeded.
func (p *Pipeline) record(rec *lpr.Record, slot, source string, err error) bool {
	if err != nil {
		metrics.ThumbnailOutcomes.WithLabelValues(slot, source, "failed").Inc()
		p.log.Warn().
			Err(err).
			Str("plate", rec.PlateNumber).
			Str("event_id", rec.EventID).
			Str("slot", slot).
			Str("source", source).
			Msg("thumbnail source failed")
		return false
	}
	metrics.ThumbnailOutcomes.WithLabelValues(slot, source, "stored").Inc()
	p.log.Debug().
		Str("plate", rec.PlateNumber).
		Str("slot", slot).
		Str("source", source).
		Msg("stored thumbnail")
	return true
}

func (p *Pipeline) hints(rec *lpr.Record, imageType string) storage.ObjectHints {
	return storage.ObjectHints{
		PlateNumber: rec.PlateNumber,
		Timestamp:   rec.DetectionTimestamp,
		EventID:     rec.EventID,
		ImageType:   imageType,
	}
}
