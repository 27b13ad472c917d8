package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"lpr-service/internal/config"
	"lpr-service/internal/db"
	"lpr-service/internal/ingest"
	"lpr-service/internal/repository"
	"lpr-service/internal/service"
	"lpr-service/internal/storage"
	"lpr-service/internal/thumbnail"
	"lpr-service/internal/unifi"
)

var ErrNVRNotConfigured = errors.New("unifi protect is not configured")

// App holds the components shared by the server and the backfill tool.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	DB         *gorm.DB
	Repo       *repository.DetectionRepository
	Cameras    *repository.CameraRepository
	NVR        *unifi.Client // nil without UniFi Protect credentials
	LocalStore *storage.LocalStore
	Detections *service.DetectionService

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	gdb, err := db.New(db.Options{
		DSN:             cfg.DB.DSN,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		AutoMigrate:     cfg.DB.AutoMigrate,
	}, log)
	if err != nil {
		return nil, err
	}
	a.DB = gdb
	a.closers = append(a.closers, func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	a.Repo = repository.NewDetectionRepository(gdb)
	a.Cameras = repository.NewCameraRepository(gdb)

	if cfg.UniFi.Configured() {
		a.NVR, err = unifi.New(unifi.Config{
			Host:              cfg.UniFi.Host,
			Port:              cfg.UniFi.Port,
			Username:          cfg.UniFi.Username,
			Password:          cfg.UniFi.Password,
			VerifySSL:         cfg.UniFi.VerifySSL,
			ImageVerifySSL:    cfg.Thumbnails.DownloadVerifySSL,
			Timeout:           cfg.UniFi.Timeout,
			DownloadTimeout:   cfg.Thumbnails.DownloadTimeout,
			MaxImageBytes:     cfg.Thumbnails.MaxFileSize,
			RequestsPerSecond: cfg.UniFi.RequestsPerSecond,
		}, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create unifi client: %w", err)
		}
	} else {
		log.Info().Msg("unifi protect not configured, camera lookup and image download disabled")
	}

	var thumbs service.Thumbnailer
	if cfg.Thumbnails.Enabled {
		store, err := a.newStore(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}

		var images thumbnail.ImageSource
		if a.NVR != nil {
			images = a.NVR
		}
		thumbs = thumbnail.NewPipeline(images, store, thumbnail.Options{
			StoreEventSnapshots:    cfg.Thumbnails.StoreEventSnapshots,
			StoreCroppedThumbnails: cfg.Thumbnails.StoreCroppedThumbnails,
			Timeout:                cfg.Thumbnails.Timeout,
		}, log)
	}

	var cameras service.CameraSource
	if a.NVR != nil {
		cameras = a.NVR
	}
	lookup := service.NewCameraLookup(cameras, a.Cameras, log)
	enricher := ingest.NewEnricher(lookup, log)
	a.Detections = service.NewDetectionService(a.Repo, enricher, thumbs, cfg.Processing.MaxPlatesPerEvent, log)

	return a, nil
}

func (a *App) newStore(ctx context.Context) (thumbnail.Store, error) {
	tc := a.Config.Thumbnails
	switch tc.Backend {
	case config.ThumbnailBackendLocal:
		ls, err := storage.NewLocalStore(tc.LocalPath, tc.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create local thumbnail store: %w", err)
		}
		a.LocalStore = ls
		a.Log.Info().Str("path", ls.BasePath()).Msg("storing thumbnails on local disk")
		return ls, nil
	default:
		gs, err := storage.NewGCSStore(ctx, storage.GCSOptions{
			Bucket:          tc.Bucket,
			ProjectID:       tc.ProjectID,
			MakePublic:      tc.MakePublic,
			SignedURLExpiry: tc.SignedURLExpiry,
			Location:        tc.BucketLocation,
			RetentionDays:   tc.RetentionDays,
		}, a.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to create gcs thumbnail store: %w", err)
		}
		a.closers = append(a.closers, gs.Close)
		a.Log.Info().Str("bucket", tc.Bucket).Msg("storing thumbnails in cloud storage")
		return gs, nil
	}
}

// NVRState returns the NVR as a connection state for the health endpoint, or
// nil when none is configured.
func (a *App) NVRState() interface{ Connected() bool } {
	if a.NVR == nil {
		return nil
	}
	return a.NVR
}

func (a *App) NewBackfill(workers int, thumbnails bool) (*service.BackfillService, error) {
	if a.NVR == nil {
		return nil, ErrNVRNotConfigured
	}
	return service.NewBackfillService(a.NVR, a.Detections, service.BackfillOptions{
		Chunk:      a.Config.Backfill.ChunkSize,
		Workers:    workers,
		Thumbnails: thumbnails && a.Config.Thumbnails.Enabled,
	}, a.Log), nil
}

func (a *App) NewCameraSync() (*service.CameraSync, error) {
	if a.NVR == nil {
		return nil, ErrNVRNotConfigured
	}
	return service.NewCameraSync(a.NVR, a.Cameras, a.Log), nil
}

func (a *App) NewCameraLocator() *service.CameraLocator {
	return service.NewCameraLocator(a.Cameras, a.Log)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
