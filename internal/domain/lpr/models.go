package lpr

import (
	"time"
)

// DefaultConfidence is used for every plate read: the vendor only ever
// reports vehicle-level confidence, never a plate-level one.
const DefaultConfidence = 0.95

// Values of Record.ProcessedBy. They match the rows already in the warehouse.
const (
	ProcessedByWebhook  = "unifi-protect-cloud-function"
	ProcessedByBackfill = "backfill_script"
)

// Format is the wire shape of a webhook payload.
type Format int

const (
	FormatUnrecognized Format = iota
	FormatAlarmTrigger
	FormatSmartDetection
)

func (f Format) String() string {
	switch f {
	case FormatAlarmTrigger:
		return "alarm_trigger"
	case FormatSmartDetection:
		return "smart_detection"
	default:
		return "unrecognized"
	}
}

// Attribute is a classifier label with its confidence, e.g. vehicle type "car" at 0.9.
type Attribute struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// RawPlate is one plate read pulled out of a payload, before enrichment.
type RawPlate struct {
	PlateNumber   string
	Timestamp     any
	DeviceID      string
	EventID       string
	CroppedID     string
	DetectionType string
	GroupName     string
	VehicleType   *Attribute
	VehicleColor  *Attribute
}

type ThumbnailArtifact struct {
	StoragePath string    `json:"storage_path"`
	PublicURL   string    `json:"public_url"`
	Filename    string    `json:"filename"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// ThumbnailKind names the image a thumbnail URL points at.
type ThumbnailKind string

const (
	ThumbnailEventSnapshot ThumbnailKind = "event_snapshot"
	ThumbnailLiveSnapshot  ThumbnailKind = "live_snapshot"
	ThumbnailPlateCrop     ThumbnailKind = "license_plate_crop"
)

type ThumbnailRef struct {
	Kind ThumbnailKind
	URL  string
}

type CameraInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Model    string `json:"model,omitempty"`
	MAC      string `json:"mac,omitempty"`
	State    string `json:"state,omitempty"`
}

// Record is the canonical detection persisted to the warehouse.
type Record struct {
	PlateNumber   string
	Confidence    float64
	DetectionType string
	GroupName     string
	CroppedID     string

	DetectionTimestamp      time.Time
	PlateDetectionTimestamp *time.Time
	EventTimestamp          *time.Time
	ProcessingTimestamp     time.Time

	DeviceID       string
	CameraID       string
	CameraName     string
	CameraLocation string
	EventID        string

	VehicleType  *Attribute
	VehicleColor *Attribute

	SnapshotURL string
	ImageWidth  int
	ImageHeight int
	Latitude    *float64
	Longitude   *float64

	Thumbnail        *ThumbnailArtifact
	CroppedThumbnail *ThumbnailArtifact

	ProcessedBy      string
	RawDetectionData string
}

type ProcessResult struct {
	Format    string   `json:"format"`
	Plates    []string `json:"plates"`
	RecordIDs []string `json:"record_ids"`
	DryRun    bool     `json:"dry_run,omitempty"`
}
