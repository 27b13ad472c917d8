package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"lpr-service/internal/domain/lpr"
	"lpr-service/internal/utils"
)

// ErrLookupOffline is returned by a CameraLookup that has no NVR session.
// Running without one is a supported mode, so the enricher does not warn on it.
var ErrLookupOffline = errors.New("camera lookup offline")

type CameraLookup interface {
	CameraInfo(ctx context.Context, cameraID string) (*lpr.CameraInfo, error)
}

type Enricher struct {
	cameras CameraLookup
	log     zerolog.Logger
	now     func() time.Time
}

// NewEnricher returns an enricher. cameras may be nil, in which case camera
// name and location are always left empty.
func NewEnricher(cameras CameraLookup, log zerolog.Logger) *Enricher {
	return &Enricher{
		cameras: cameras,
		log:     log,
		now:     time.Now,
	}
}

// Enrich builds the canonical record for one plate of p. It never fails:
// every field has a fallback or is left empty.
func (e *Enricher) Enrich(ctx context.Context, plate lpr.RawPlate, p *Payload, processedBy string) *lpr.Record {
	now := e.now().UTC()

	rec := &lpr.Record{
		PlateNumber:         utils.NormalizePlate(plate.PlateNumber),
		Confidence:          lpr.DefaultConfidence,
		DetectionType:       plate.DetectionType,
		GroupName:           plate.GroupName,
		CroppedID:           plate.CroppedID,
		ProcessingTimestamp: now,
		DeviceID:            plate.DeviceID,
		CameraID:            firstNonEmpty(p.CameraID(), plate.DeviceID),
		EventID:             firstNonEmpty(p.EventID(), plate.EventID),
		VehicleType:         plate.VehicleType,
		VehicleColor:        plate.VehicleColor,
		ProcessedBy:         processedBy,
		RawDetectionData:    p.Raw(),
	}

	if ts, ok := ParseTimestamp(plate.Timestamp); ok {
		rec.PlateDetectionTimestamp = &ts
	}
	if ts, ok := ParseTimestamp(p.EventStart()); ok {
		rec.EventTimestamp = &ts
	}
	switch {
	case rec.PlateDetectionTimestamp != nil:
		rec.DetectionTimestamp = *rec.PlateDetectionTimestamp
	case rec.EventTimestamp != nil:
		rec.DetectionTimestamp = *rec.EventTimestamp
	default:
		rec.DetectionTimestamp = now
	}

	if snap, ok := p.snapshot(); ok {
		rec.SnapshotURL = snap.URL
		rec.ImageWidth = snap.Width
		rec.ImageHeight = snap.Height
	}
	if lat, lng, ok := p.location(); ok {
		rec.Latitude = &lat
		rec.Longitude = &lng
	}

	e.resolveCamera(ctx, rec)
	return rec
}

func (e *Enricher) resolveCamera(ctx context.Context, rec *lpr.Record) {
	if e.cameras == nil || rec.CameraID == "" {
		return
	}

	info, err := e.cameras.CameraInfo(ctx, rec.CameraID)
	switch {
	case errors.Is(err, ErrLookupOffline):
		e.log.Debug().Str("camera_id", rec.CameraID).Msg("nvr offline, skipping camera lookup")
		return
	case err != nil:
		e.log.Warn().Err(err).Str("camera_id", rec.CameraID).Msg("camera lookup failed")
		return
	case info == nil:
		return
	}

	rec.CameraName = info.Name
	rec.CameraLocation = info.Location
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
