package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS plate_detections (
		record_id                       TEXT PRIMARY KEY,
		plate_number                    TEXT NOT NULL,
		confidence                      DOUBLE PRECISION NOT NULL DEFAULT 0,
		cropped_id                      TEXT,
		detection_type                  TEXT,
		group_name                      TEXT,
		detection_timestamp             TIMESTAMP NOT NULL,
		plate_detection_timestamp       TIMESTAMP,
		processing_timestamp            TIMESTAMP,
		event_timestamp                 TIMESTAMP,
		vehicle_type                    TEXT,
		vehicle_type_confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
		vehicle_color                   TEXT,
		vehicle_color_confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
		device_id                       TEXT,
		camera_id                       TEXT,
		camera_name                     TEXT,
		camera_location                 TEXT,
		event_id                        TEXT,
		latitude                        DOUBLE PRECISION,
		longitude                       DOUBLE PRECISION,
		snapshot_url                    TEXT,
		image_width                     INT,
		image_height                    INT,
		thumbnail_gcs_path              TEXT,
		thumbnail_public_url            TEXT,
		thumbnail_filename              TEXT,
		thumbnail_size_bytes            BIGINT,
		thumbnail_content_type          TEXT,
		thumbnail_upload_timestamp      TIMESTAMP,
		cropped_thumbnail_gcs_path      TEXT,
		cropped_thumbnail_public_url    TEXT,
		cropped_thumbnail_filename      TEXT,
		cropped_thumbnail_size_bytes    BIGINT,
		cropped_thumbnail_content_type  TEXT,
		processed_by                    TEXT,
		raw_detection_data              JSONB,
		created_at                      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_detections_detection_timestamp ON plate_detections(detection_timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_detections_plate_number ON plate_detections(plate_number);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_detections_camera_id ON plate_detections(camera_id);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_detections_event_id ON plate_detections(event_id);`,
	`CREATE TABLE IF NOT EXISTS camera_locations (
		camera_id       TEXT PRIMARY KEY,
		camera_name     TEXT NOT NULL,
		model           TEXT,
		mac             TEXT,
		location        TEXT,
		latitude        DOUBLE PRECISION,
		longitude       DOUBLE PRECISION,
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_camera_locations_location ON camera_locations(location);`,
}

// Migrate creates the warehouse schema. Every statement is idempotent.
func Migrate(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
