package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lpr-service/internal/domain/lpr"
)

type DetectionRepository struct {
	db *gorm.DB
}

func NewDetectionRepository(db *gorm.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

type DetectionRow struct {
	RecordID      string  `gorm:"column:record_id;primaryKey"`
	PlateNumber   string  `gorm:"not null"`
	Confidence    float64 `gorm:"not null"`
	CroppedID     *string
	DetectionType *string
	GroupName     *string

	DetectionTimestamp      *DateTime `gorm:"not null"`
	PlateDetectionTimestamp *DateTime
	ProcessingTimestamp     *DateTime
	EventTimestamp          *DateTime

	VehicleType            *string
	VehicleTypeConfidence  float64
	VehicleColor           *string
	VehicleColorConfidence float64

	DeviceID       *string
	CameraID       *string
	CameraName     *string
	CameraLocation *string
	EventID        *string
	Latitude       *float64
	Longitude      *float64

	SnapshotURL *string `gorm:"column:snapshot_url"`
	ImageWidth  *int
	ImageHeight *int

	ThumbnailGCSPath         *string `gorm:"column:thumbnail_gcs_path"`
	ThumbnailPublicURL       *string `gorm:"column:thumbnail_public_url"`
	ThumbnailFilename        *string
	ThumbnailSizeBytes       *int64
	ThumbnailContentType     *string
	ThumbnailUploadTimestamp *DateTime

	CroppedThumbnailGCSPath     *string `gorm:"column:cropped_thumbnail_gcs_path"`
	CroppedThumbnailPublicURL   *string `gorm:"column:cropped_thumbnail_public_url"`
	CroppedThumbnailFilename    *string
	CroppedThumbnailSizeBytes   *int64
	CroppedThumbnailContentType *string

	ProcessedBy      *string
	RawDetectionData datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time
}

func (DetectionRow) TableName() string {
	return "plate_detections"
}

// ToRow maps a record to its warehouse row. The plate is upper-cased again
// here; upstream normalization is not trusted.
func ToRow(rec *lpr.Record, recordID string) DetectionRow {
	row := DetectionRow{
		RecordID:                recordID,
		PlateNumber:             strings.ToUpper(strings.TrimSpace(rec.PlateNumber)),
		Confidence:              rec.Confidence,
		CroppedID:               optString(rec.CroppedID),
		DetectionType:           optString(rec.DetectionType),
		GroupName:               optString(rec.GroupName),
		DetectionTimestamp:      NewDateTime(rec.DetectionTimestamp),
		PlateDetectionTimestamp: newDateTimePtr(rec.PlateDetectionTimestamp),
		ProcessingTimestamp:     NewDateTime(rec.ProcessingTimestamp),
		EventTimestamp:          newDateTimePtr(rec.EventTimestamp),
		DeviceID:                optString(rec.DeviceID),
		CameraID:                optString(rec.CameraID),
		CameraName:              optString(rec.CameraName),
		CameraLocation:          optString(rec.CameraLocation),
		EventID:                 optString(rec.EventID),
		Latitude:                rec.Latitude,
		Longitude:               rec.Longitude,
		SnapshotURL:             optString(rec.SnapshotURL),
		ImageWidth:              optInt(rec.ImageWidth),
		ImageHeight:             optInt(rec.ImageHeight),
		ProcessedBy:             optString(rec.ProcessedBy),
	}

	if v := rec.VehicleType; v != nil {
		row.VehicleType = optString(v.Value)
		row.VehicleTypeConfidence = v.Confidence
	}
	if v := rec.VehicleColor; v != nil {
		row.VehicleColor = optString(v.Value)
		row.VehicleColorConfidence = v.Confidence
	}

	if t := rec.Thumbnail; t != nil {
		row.ThumbnailGCSPath = optString(t.StoragePath)
		row.ThumbnailPublicURL = optString(t.PublicURL)
		row.ThumbnailFilename = optString(t.Filename)
		row.ThumbnailSizeBytes = &t.SizeBytes
		row.ThumbnailContentType = optString(t.ContentType)
		row.ThumbnailUploadTimestamp = NewDateTime(t.UploadedAt)
	}
	if t := rec.CroppedThumbnail; t != nil {
		row.CroppedThumbnailGCSPath = optString(t.StoragePath)
		row.CroppedThumbnailPublicURL = optString(t.PublicURL)
		row.CroppedThumbnailFilename = optString(t.Filename)
		row.CroppedThumbnailSizeBytes = &t.SizeBytes
		row.CroppedThumbnailContentType = optString(t.ContentType)
	}

	if rec.RawDetectionData != "" {
		row.RawDetectionData = datatypes.JSON(rec.RawDetectionData)
	}
	return row
}

// InsertDetection appends one row. Every call gets a fresh record id, so the
// same detection written twice yields two rows.
func (r *DetectionRepository) InsertDetection(ctx context.Context, rec *lpr.Record) (string, error) {
	row := ToRow(rec, uuid.NewString())
	row.CreatedAt = time.Now()

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}
	return row.RecordID, nil
}

type DetectionFilter struct {
	Plate          string
	CameraID       string
	CameraLocation string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// DetectionView is a detection joined with the camera registry, as served to
// the map layer. Coordinates fall back to the registry when the payload had none.
type DetectionView struct {
	RecordID                  string   `json:"record_id"`
	PlateNumber               string   `json:"plate_number"`
	Confidence                float64  `json:"confidence"`
	DetectionTimestamp        DateTime `json:"detection_timestamp"`
	DetectionType             *string  `json:"detection_type,omitempty"`
	CameraID                  *string  `json:"camera_id,omitempty"`
	CameraName                *string  `json:"camera_name,omitempty"`
	CameraLocation            *string  `json:"camera_location,omitempty"`
	EventID                   *string  `json:"event_id,omitempty"`
	VehicleType               *string  `json:"vehicle_type,omitempty"`
	VehicleColor              *string  `json:"vehicle_color,omitempty"`
	Latitude                  *float64 `json:"latitude,omitempty"`
	Longitude                 *float64 `json:"longitude,omitempty"`
	SnapshotURL               *string  `json:"snapshot_url,omitempty"`
	ThumbnailPublicURL        *string  `json:"thumbnail_public_url,omitempty"`
	CroppedThumbnailPublicURL *string  `json:"cropped_thumbnail_public_url,omitempty"`
}

const detectionViewColumns = `d.record_id, d.plate_number, d.confidence, d.detection_timestamp, d.detection_type,
	d.camera_id, COALESCE(NULLIF(c.camera_name, ''), d.camera_name) AS camera_name,
	COALESCE(NULLIF(d.camera_location, ''), c.location) AS camera_location,
	d.event_id, d.vehicle_type, d.vehicle_color,
	COALESCE(d.latitude, c.latitude) AS latitude, COALESCE(d.longitude, c.longitude) AS longitude,
	d.snapshot_url, d.thumbnail_public_url, d.cropped_thumbnail_public_url`

func (r *DetectionRepository) FindDetections(ctx context.Context, f DetectionFilter) ([]DetectionView, error) {
	query := r.db.WithContext(ctx).
		Table("plate_detections AS d").
		Select(detectionViewColumns).
		Joins("LEFT JOIN camera_locations AS c ON c.camera_id = d.camera_id")

	if f.Plate != "" {
		query = query.Where("d.plate_number LIKE ?", "%"+f.Plate+"%")
	}
	if f.CameraID != "" {
		query = query.Where("d.camera_id = ?", f.CameraID)
	}
	if f.CameraLocation != "" {
		query = query.Where("COALESCE(NULLIF(d.camera_location, ''), c.location) = ?", f.CameraLocation)
	}
	if f.From != nil {
		query = query.Where("d.detection_timestamp >= ?", NewDateTime(*f.From))
	}
	if f.To != nil {
		query = query.Where("d.detection_timestamp <= ?", NewDateTime(*f.To))
	}

	query = query.Order("d.detection_timestamp DESC")
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var views []DetectionView
	err := query.Scan(&views).Error
	return views, err
}

type DailyStats struct {
	Day               string  `json:"day"`
	TotalDetections   int64   `json:"total_detections"`
	UniquePlates      int64   `json:"unique_plates"`
	ActiveCameras     int64   `json:"active_cameras"`
	AverageConfidence float64 `json:"average_confidence"`
}

func (r *DetectionRepository) DetectionStats(ctx context.Context, since time.Time) ([]DailyStats, error) {
	var stats []DailyStats
	err := r.db.WithContext(ctx).
		Table("plate_detections").
		Select(`TO_CHAR(DATE(detection_timestamp), 'YYYY-MM-DD') AS day,
			COUNT(*) AS total_detections,
			COUNT(DISTINCT plate_number) AS unique_plates,
			COUNT(DISTINCT camera_id) AS active_cameras,
			COALESCE(AVG(confidence), 0) AS average_confidence`).
		Where("detection_timestamp >= ?", NewDateTime(since)).
		Group("DATE(detection_timestamp)").
		Order("DATE(detection_timestamp) DESC").
		Scan(&stats).Error
	return stats, err
}

func (r *DetectionRepository) DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("detection_timestamp < ?", NewDateTime(cutoff)).
		Delete(&DetectionRow{})
	return result.RowsAffected, result.Error
}

type CameraSummary struct {
	CameraID       string    `json:"camera_id"`
	CameraName     *string   `json:"camera_name,omitempty"`
	Location       *string   `json:"location,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	DetectionCount int64     `json:"detection_count"`
	LastDetection  *DateTime `json:"last_detection,omitempty"`
}

// ListCameraSummaries lists every camera seen either in the registry or in the
// detections, with its detection count.
func (r *DetectionRepository) ListCameraSummaries(ctx context.Context) ([]CameraSummary, error) {
	var summaries []CameraSummary
	err := r.db.WithContext(ctx).Raw(`
		SELECT COALESCE(c.camera_id, d.camera_id) AS camera_id,
			COALESCE(c.camera_name, d.camera_name) AS camera_name,
			c.location, c.latitude, c.longitude,
			COALESCE(d.detection_count, 0) AS detection_count,
			d.last_detection
		FROM camera_locations c
		FULL OUTER JOIN (
			SELECT camera_id, MAX(camera_name) AS camera_name,
				COUNT(*) AS detection_count, MAX(detection_timestamp) AS last_detection
			FROM plate_detections
			WHERE camera_id IS NOT NULL
			GROUP BY camera_id
		) d ON d.camera_id = c.camera_id
		ORDER BY detection_count DESC, camera_id`).
		Scan(&summaries).Error
	return summaries, err
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
