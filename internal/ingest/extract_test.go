package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpr-service/internal/domain/lpr"
)

func extract(t *testing.T, body string) Extraction {
	t.Helper()
	p := mustParse(t, body)
	return Extract(p, Classify(p))
}

func TestExtractAlarmLicensePlateTrigger(t *testing.T) {
	ex := extract(t, `{"alarm":{"triggers":[
		{"key":"license_plate_unknown","value":" h2f55u ","device":"ABC123","eventId":"E1",
		 "timestamp":1758468216321,"group":{"name":"Unknown plates"}}
	]}}`)

	require.Len(t, ex.Plates, 1)
	plate := ex.Plates[0]
	assert.Equal(t, "H2F55U", plate.PlateNumber)
	assert.Equal(t, "ABC123", plate.DeviceID)
	assert.Equal(t, "E1", plate.EventID)
	assert.Equal(t, "license_plate_unknown", plate.DetectionType)
	assert.Equal(t, "Unknown plates", plate.GroupName)
	assert.NotNil(t, plate.Timestamp)
	assert.Empty(t, ex.InlineThumbnail)
}

func TestExtractAlarmEveryPlateTrigger(t *testing.T) {
	ex := extract(t, `{"alarm":{"triggers":[
		{"key":"license_plate_known","value":"aaa111"},
		{"key":"motion","value":"ignored"},
		{"key":"license_plate_of_interest","value":"bbb222"},
		{"key":"license_plate_unknown","value":"   "}
	]}}`)

	require.Len(t, ex.Plates, 2)
	assert.Equal(t, "AAA111", ex.Plates[0].PlateNumber)
	assert.Equal(t, "BBB222", ex.Plates[1].PlateNumber)
}

func TestExtractAlarmVehicleWithValue(t *testing.T) {
	ex := extract(t, `{"alarm":{"triggers":[{"key":"vehicle","value":"xyz9","eventId":"E3"}]}}`)

	require.Len(t, ex.Plates, 1)
	assert.Equal(t, "XYZ9", ex.Plates[0].PlateNumber)
	assert.Equal(t, "vehicle", ex.Plates[0].DetectionType)
}

func TestExtractAlarmBareVehicleWithoutSibling(t *testing.T) {
	ex := extract(t, `{"alarm":{"triggers":[{"key":"vehicle","eventId":"E2"}]}}`)

	assert.Equal(t, lpr.FormatAlarmTrigger, ex.Format)
	assert.Empty(t, ex.Plates)
}

func TestExtractAlarmBareVehicleWithoutEventID(t *testing.T) {
	ex := extract(t, `{"alarm":{"triggers":[
		{"key":"vehicle","device":"D1"},
		{"key":"motion","value":"x"}
	]}}`)

	assert.Empty(t, ex.Plates)
}

func TestExtractAlarmVehicleSiblingEmittedOnce(t *testing.T) {
	// The vehicle trigger comes first, so the plate is claimed through it and
	// the license_plate trigger itself is skipped later on.
	ex := extract(t, `{"alarm":{"triggers":[
		{"key":"vehicle","eventId":"E5","device":"D1"},
		{"key":"license_plate_known","value":"sib123","eventId":"E5","device":"D1"}
	]}}`)

	require.Len(t, ex.Plates, 1)
	assert.Equal(t, "SIB123", ex.Plates[0].PlateNumber)
	assert.Equal(t, "license_plate_known", ex.Plates[0].DetectionType)
	assert.Equal(t, "E5", ex.Plates[0].EventID)
}

func TestExtractAlarmVehicleSiblingByDeviceAndZone(t *testing.T) {
	ex := extract(t, `{"alarm":{"triggers":[
		{"key":"vehicle","eventId":"E6","device":"D1","zones":{"line":[2],"zone":[1]}},
		{"key":"license_plate_unknown","value":"zone42","eventId":"other","device":"D1","zones":{"zone":[1]}},
		{"key":"license_plate_unknown","value":"far77","eventId":"other2","device":"D2","zones":{"zone":[1]}}
	]}}`)

	plates := make([]string, 0, len(ex.Plates))
	for _, p := range ex.Plates {
		plates = append(plates, p.PlateNumber)
	}
	assert.Equal(t, []string{"ZONE42", "FAR77"}, plates)
}

func TestExtractAlarmVehicleSiblingNoZoneOverlap(t *testing.T) {
	ex := extract(t, `{"alarm":{"triggers":[
		{"key":"vehicle","eventId":"E7","device":"D1","zones":{"zone":[1]}},
		{"key":"license_plate_unknown","value":"","eventId":"E7","device":"D1","zones":{"zone":[2]}}
	]}}`)

	assert.Empty(t, ex.Plates)
}

func TestExtractAlarmInlineThumbnail(t *testing.T) {
	ex := extract(t, `{"alarm":{"thumbnail":"data:image/jpeg;base64,AAAA","triggers":[
		{"key":"license_plate_known","value":"a1"},
		{"key":"license_plate_known","value":"b2"}
	]}}`)

	require.Len(t, ex.Plates, 2)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", ex.InlineThumbnail)
}

func TestExtractAlarmIgnoresNonDataThumbnail(t *testing.T) {
	ex := extract(t, `{"alarm":{"thumbnail":"https://example.com/a.jpg","triggers":[
		{"key":"license_plate_known","value":"a1"}
	]}}`)

	assert.Empty(t, ex.InlineThumbnail)
}

func TestExtractSmartDetection(t *testing.T) {
	ex := extract(t, `{"type":"smart_detection","metadata":{"detected_thumbnails":[
		{"type":"vehicle","name":"7erf019","cropped_id":"C1","clock_best_wall":1758468216321,
		 "attributes":{"vehicle_type":{"val":"car","confidence":0.9},"color":{"val":"white","confidence":0.75}}}
	]}}`)

	require.Len(t, ex.Plates, 1)
	plate := ex.Plates[0]
	assert.Equal(t, "7ERF019", plate.PlateNumber)
	assert.Equal(t, "C1", plate.CroppedID)
	assert.Equal(t, "smart_detection", plate.DetectionType)
	require.NotNil(t, plate.VehicleType)
	assert.Equal(t, "car", plate.VehicleType.Value)
	assert.InDelta(t, 0.9, plate.VehicleType.Confidence, 1e-9)
	require.NotNil(t, plate.VehicleColor)
	assert.Equal(t, "white", plate.VehicleColor.Value)
	assert.InDelta(t, 0.75, plate.VehicleColor.Confidence, 1e-9)
	assert.Empty(t, plate.DeviceID)
}

func TestExtractSmartDetectionDeviceIsCamera(t *testing.T) {
	ex := extract(t, `{"type":"smart_detection","camera":{"id":"942A6FD0AD1A"},
		"metadata":{"detected_thumbnails":[{"type":"vehicle","name":"ab12cd"}]}}`)

	require.Len(t, ex.Plates, 1)
	assert.Equal(t, "942A6FD0AD1A", ex.Plates[0].DeviceID)
}

func TestExtractSmartDetectionSkipsNonPlateThumbnails(t *testing.T) {
	ex := extract(t, `{"type":"smart_detection","metadata":{"detected_thumbnails":[
		{"type":"person","name":"bob"},
		{"type":"vehicle","name":""},
		{"type":"vehicle","name":"   "},
		{"type":"vehicle"},
		"not-an-object"
	]}}`)

	assert.Empty(t, ex.Plates)
}

func TestExtractSmartDetectionWithoutAttributes(t *testing.T) {
	ex := extract(t, `{"type":"smart_detection","metadata":{"detected_thumbnails":[{"type":"vehicle","name":"q1"}]}}`)

	require.Len(t, ex.Plates, 1)
	assert.Nil(t, ex.Plates[0].VehicleType)
	assert.Nil(t, ex.Plates[0].VehicleColor)
}

func TestExtractUnrecognized(t *testing.T) {
	ex := extract(t, `{"type":"motion"}`)

	assert.Equal(t, lpr.FormatUnrecognized, ex.Format)
	assert.Empty(t, ex.Plates)
}
