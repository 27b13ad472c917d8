package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lpr-service/internal/domain/lpr"
)

// CameraLocation is the camera registry. Names and models are synced from the
// NVR; location and coordinates are set by an operator and never touched by
// the sync.
type CameraLocation struct {
	CameraID   string `gorm:"primaryKey"`
	CameraName string `gorm:"not null"`
	Model      *string
	MAC        *string `gorm:"column:mac"`
	Location   *string
	Latitude   *float64
	Longitude  *float64
	Active     bool `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (CameraLocation) TableName() string {
	return "camera_locations"
}

// Columns refreshed by UpsertCamera on conflict.
var nvrOwnedColumns = []string{"camera_name", "model", "mac", "active", "updated_at"}

type CameraRepository struct {
	db *gorm.DB
}

func NewCameraRepository(db *gorm.DB) *CameraRepository {
	return &CameraRepository{db: db}
}

// UpsertCamera inserts a camera or refreshes its NVR-owned columns.
// It reports whether the camera was new.
func (r *CameraRepository) UpsertCamera(ctx context.Context, info lpr.CameraInfo) (bool, error) {
	existed, err := r.exists(ctx, info.ID)
	if err != nil {
		return false, err
	}

	now := time.Now()
	cam := CameraLocation{
		CameraID:   info.ID,
		CameraName: info.Name,
		Model:      optString(info.Model),
		MAC:        optString(info.MAC),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "camera_id"}},
		DoUpdates: clause.AssignmentColumns(nvrOwnedColumns),
	}).Create(&cam).Error
	if err != nil {
		return false, err
	}
	return !existed, nil
}

type LocationUpdate struct {
	CameraID string
	// Name is only used when the camera is not registered yet; the camera id
	// stands in when it is empty.
	Name      string
	Location  string
	Latitude  *float64
	Longitude *float64
}

// locationColumns lists the columns SetCameraLocation overwrites on an
// existing camera. Fields the update leaves empty are kept as they are.
func locationColumns(u LocationUpdate) []string {
	cols := []string{"updated_at"}
	if u.Location != "" {
		cols = append(cols, "location")
	}
	if u.Latitude != nil && u.Longitude != nil {
		cols = append(cols, "latitude", "longitude")
	}
	return cols
}

// SetCameraLocation records an operator-maintained location, registering the
// camera if the NVR sync has not seen it yet. It reports whether the camera
// was new.
func (r *CameraRepository) SetCameraLocation(ctx context.Context, u LocationUpdate) (bool, error) {
	existed, err := r.exists(ctx, u.CameraID)
	if err != nil {
		return false, err
	}

	name := u.Name
	if name == "" {
		name = u.CameraID
	}
	now := time.Now()
	cam := CameraLocation{
		CameraID:   u.CameraID,
		CameraName: name,
		Location:   optString(u.Location),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if u.Latitude != nil && u.Longitude != nil {
		cam.Latitude = u.Latitude
		cam.Longitude = u.Longitude
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "camera_id"}},
		DoUpdates: clause.AssignmentColumns(locationColumns(u)),
	}).Create(&cam).Error
	if err != nil {
		return false, err
	}
	return !existed, nil
}

// CameraLocation returns the registry entry, or nil when the camera is unknown.
func (r *CameraRepository) CameraLocation(ctx context.Context, cameraID string) (*CameraLocation, error) {
	var cam CameraLocation
	err := r.db.WithContext(ctx).Where("camera_id = ?", cameraID).First(&cam).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cam, nil
}

func (r *CameraRepository) exists(ctx context.Context, cameraID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&CameraLocation{}).Where("camera_id = ?", cameraID).Count(&n).Error
	return n > 0, err
}
