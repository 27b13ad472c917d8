package storage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"lpr-service/internal/utils"
)

const defaultContentType = "image/jpeg"

// ObjectHints carry what an object key is derived from.
type ObjectHints struct {
	PlateNumber string
	Timestamp   time.Time
	EventID     string
	ImageType   string
}

// ObjectKey returns the storage key for an image. The same hints always give
// the same key, so a backfill that replays an event already delivered by
// webhook overwrites the earlier object instead of adding a second one.
//
// Layout: YYYY/MM/DD/{PLATE}_{HHMMSS}_{hash8}_{type}.jpg
func ObjectKey(h ObjectHints) string {
	imageType := h.ImageType
	if imageType == "" {
		imageType = "snapshot"
	}
	if h.Timestamp.IsZero() {
		return fmt.Sprintf("fallback/%s_%s.jpg", uuid.NewString(), imageType)
	}

	ts := h.Timestamp.UTC()
	sum := md5.Sum([]byte(strings.Join([]string{
		h.PlateNumber,
		ts.Format(time.RFC3339Nano),
		h.EventID,
		imageType,
	}, "_")))

	filename := fmt.Sprintf("%s_%s_%s_%s.jpg",
		utils.FilenamePlate(h.PlateNumber),
		ts.Format("150405"),
		hex.EncodeToString(sum[:])[:8],
		imageType,
	)
	return path.Join(ts.Format("2006/01/02"), filename)
}

// DetectContentType sniffs image bytes. Anything that is not recognisably an
// image is stored as JPEG, which is what the cameras produce.
func DetectContentType(data []byte) string {
	mt := mimetype.Detect(data)
	if strings.HasPrefix(mt.String(), "image/") {
		return mt.String()
	}
	return defaultContentType
}

func objectMetadata(h ObjectHints, uploadedAt time.Time) map[string]string {
	return map[string]string{
		"plate_number":        h.PlateNumber,
		"detection_timestamp": h.Timestamp.UTC().Format(time.RFC3339),
		"event_id":            h.EventID,
		"image_type":          h.ImageType,
		"uploaded_by":         "lpr-service",
		"upload_timestamp":    uploadedAt.UTC().Format(time.RFC3339),
	}
}
