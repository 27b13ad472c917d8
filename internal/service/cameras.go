package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"lpr-service/internal/domain/lpr"
	"lpr-service/internal/ingest"
	"lpr-service/internal/repository"
	"lpr-service/internal/unifi"
)

type CameraSource interface {
	Connected() bool
	Camera(ctx context.Context, id string) (*unifi.Camera, error)
}

type CameraRegistry interface {
	CameraLocation(ctx context.Context, cameraID string) (*repository.CameraLocation, error)
	UpsertCamera(ctx context.Context, info lpr.CameraInfo) (bool, error)
}

// CameraLookup resolves camera names from the NVR and locations from the
// camera registry.
type CameraLookup struct {
	nvr      CameraSource
	registry CameraRegistry
	log      zerolog.Logger
}

// NewCameraLookup returns a lookup for the enricher. nvr is nil in
// webhook-only mode; registry may be nil when no location data is kept.
func NewCameraLookup(nvr CameraSource, registry CameraRegistry, log zerolog.Logger) *CameraLookup {
	return &CameraLookup{
		nvr:      nvr,
		registry: registry,
		log:      log,
	}
}

func (l *CameraLookup) CameraInfo(ctx context.Context, cameraID string) (*lpr.CameraInfo, error) {
	if l.nvr == nil || !l.nvr.Connected() {
		return nil, ingest.ErrLookupOffline
	}

	camera, err := l.nvr.Camera(ctx, cameraID)
	if err != nil {
		if errors.Is(err, unifi.ErrNotConnected) {
			return nil, ingest.ErrLookupOffline
		}
		return nil, err
	}

	info := camera.Info()
	if l.registry == nil {
		return &info, nil
	}

	loc, err := l.registry.CameraLocation(ctx, cameraID)
	if err != nil {
		l.log.Warn().Err(err).Str("camera_id", cameraID).Msg("failed to read camera registry")
		return &info, nil
	}
	if loc != nil && loc.Location != nil {
		info.Location = *loc.Location
	}
	return &info, nil
}

type CameraLister interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	Cameras(ctx context.Context) ([]unifi.Camera, error)
}

type CameraSyncSummary struct {
	Seen    int `json:"seen"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// CameraSync copies camera names and models from the NVR into the registry.
// Locations and coordinates in the registry are left alone.
type CameraSync struct {
	nvr      CameraLister
	registry CameraRegistry
	log      zerolog.Logger
}

func NewCameraSync(nvr CameraLister, registry CameraRegistry, log zerolog.Logger) *CameraSync {
	return &CameraSync{
		nvr:      nvr,
		registry: registry,
		log:      log,
	}
}

func (s *CameraSync) Run(ctx context.Context) (*CameraSyncSummary, error) {
	if err := s.nvr.Connect(ctx); err != nil {
		return nil, connectError(err)
	}
	defer s.nvr.Disconnect(context.WithoutCancel(ctx))

	cameras, err := s.nvr.Cameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}

	summary := &CameraSyncSummary{Seen: len(cameras)}
	for _, camera := range cameras {
		info := camera.Info()
		created, err := s.registry.UpsertCamera(ctx, info)
		if err != nil {
			summary.Failed++
			s.log.Error().Err(err).Str("camera_id", info.ID).Msg("failed to upsert camera")
			continue
		}
		if created {
			summary.Created++
		} else {
			summary.Updated++
		}
		s.log.Debug().
			Str("camera_id", info.ID).
			Str("camera_name", info.Name).
			Bool("created", created).
			Msg("synced camera")
	}

	s.log.Info().
		Int("seen", summary.Seen).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("failed", summary.Failed).
		Msg("camera sync finished")
	return summary, nil
}

type LocationRegistry interface {
	SetCameraLocation(ctx context.Context, u repository.LocationUpdate) (bool, error)
}

// CameraLocator writes operator-maintained locations into the registry.
type CameraLocator struct {
	registry LocationRegistry
	log      zerolog.Logger
}

func NewCameraLocator(registry LocationRegistry, log zerolog.Logger) *CameraLocator {
	return &CameraLocator{
		registry: registry,
		log:      log,
	}
}

// SetLocation stores a location label and optional coordinates for a camera.
// It reports whether the camera was new to the registry.
func (l *CameraLocator) SetLocation(ctx context.Context, u repository.LocationUpdate) (bool, error) {
	u.CameraID = strings.TrimSpace(u.CameraID)
	u.Name = strings.TrimSpace(u.Name)
	u.Location = strings.TrimSpace(u.Location)

	if u.CameraID == "" {
		return false, fmt.Errorf("%w: camera id is required", ErrInvalidInput)
	}
	if (u.Latitude == nil) != (u.Longitude == nil) {
		return false, fmt.Errorf("%w: latitude and longitude must be given together", ErrInvalidInput)
	}
	if u.Location == "" && u.Latitude == nil {
		return false, fmt.Errorf("%w: location or coordinates are required", ErrInvalidInput)
	}
	if u.Latitude != nil {
		if *u.Latitude < -90 || *u.Latitude > 90 {
			return false, fmt.Errorf("%w: latitude %v out of range", ErrInvalidInput, *u.Latitude)
		}
		if *u.Longitude < -180 || *u.Longitude > 180 {
			return false, fmt.Errorf("%w: longitude %v out of range", ErrInvalidInput, *u.Longitude)
		}
	}

	created, err := l.registry.SetCameraLocation(ctx, u)
	if err != nil {
		return false, fmt.Errorf("failed to set camera location: %w", err)
	}

	event := l.log.Info().
		Str("camera_id", u.CameraID).
		Str("location", u.Location).
		Bool("created", created)
	if u.Latitude != nil {
		event = event.Float64("latitude", *u.Latitude).Float64("longitude", *u.Longitude)
	}
	event.Msg("camera location set")
	return created, nil
}

func connectError(err error) error {
	if errors.Is(err, unifi.ErrAuthFailed) {
		return fmt.Errorf("%w: %w", ErrUpstreamAuth, err)
	}
	return fmt.Errorf("failed to connect to unifi protect: %w", err)
}
