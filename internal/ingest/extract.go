package ingest

import (
	"strings"

	"lpr-service/internal/domain/lpr"
	"lpr-service/internal/utils"
)

const (
	licensePlateKey = "license_plate"
	vehicleKey      = "vehicle"
	inlineImageHead = "data:image/"
)

// Extraction is what a payload yields before enrichment. InlineThumbnail is
// shared by every plate of an alarm and must be stored once per payload.
type Extraction struct {
	Format          lpr.Format
	Plates          []lpr.RawPlate
	InlineThumbnail string
}

// Extract decodes the plates carried by p in the given format. An empty result
// is a normal outcome (motion-only events and the like), not an error.
func Extract(p *Payload, format lpr.Format) Extraction {
	ex := Extraction{Format: format}
	if p == nil {
		return ex
	}

	switch format {
	case lpr.FormatAlarmTrigger:
		ex.Plates = extractAlarm(p)
		if thumb := text(p.alarm()["thumbnail"]); strings.HasPrefix(thumb, inlineImageHead) {
			ex.InlineThumbnail = thumb
		}
	case lpr.FormatSmartDetection:
		ex.Plates = extractSmartDetection(p)
	}
	return ex
}

func isPlateTrigger(key string) bool {
	return strings.Contains(key, licensePlateKey) || key == vehicleKey
}

func extractAlarm(p *Payload) []lpr.RawPlate {
	var triggers []map[string]any
	for _, t := range list(p.alarm()["triggers"]) {
		if m, ok := t.(map[string]any); ok {
			triggers = append(triggers, m)
		}
	}

	// A plate-bearing trigger can be reached both directly and through a bare
	// vehicle trigger; claimed keeps it from being emitted twice.
	claimed := make(map[int]bool, len(triggers))
	var plates []lpr.RawPlate

	for i, trigger := range triggers {
		key := text(trigger["key"])
		if !isPlateTrigger(key) || claimed[i] {
			continue
		}

		source := i
		if utils.NormalizePlate(text(trigger["value"])) == "" {
			if key != vehicleKey || text(trigger["eventId"]) == "" {
				continue
			}
			sibling, ok := findSiblingPlate(triggers, i)
			if !ok || claimed[sibling] {
				continue
			}
			source = sibling
		}

		claimed[source] = true
		plates = append(plates, plateFromTrigger(triggers[source]))
	}
	return plates
}

// findSiblingPlate looks for a license_plate trigger carrying the plate value
// for the bare vehicle trigger at idx. Triggers correlate by event id, or by
// device when they share a zone.
func findSiblingPlate(triggers []map[string]any, idx int) (int, bool) {
	vehicle := triggers[idx]
	eventID := text(vehicle["eventId"])
	device := text(vehicle["device"])

	byDevice := -1
	for j, candidate := range triggers {
		if j == idx || !strings.Contains(text(candidate["key"]), licensePlateKey) {
			continue
		}
		if utils.NormalizePlate(text(candidate["value"])) == "" {
			continue
		}
		if text(candidate["eventId"]) == eventID {
			return j, true
		}
		if byDevice < 0 && device != "" && text(candidate["device"]) == device &&
			zonesOverlap(object(vehicle["zones"]), object(candidate["zones"])) {
			byDevice = j
		}
	}
	return byDevice, byDevice >= 0
}

func zonesOverlap(a, b map[string]any) bool {
	for kind, ids := range a {
		seen := make(map[string]bool)
		for _, id := range list(ids) {
			seen[text(id)] = true
		}
		for _, id := range list(b[kind]) {
			if seen[text(id)] {
				return true
			}
		}
	}
	return false
}

func plateFromTrigger(trigger map[string]any) lpr.RawPlate {
	return lpr.RawPlate{
		PlateNumber:   utils.NormalizePlate(text(trigger["value"])),
		Timestamp:     trigger["timestamp"],
		DeviceID:      text(trigger["device"]),
		EventID:       text(trigger["eventId"]),
		DetectionType: text(trigger["key"]),
		GroupName:     text(object(trigger["group"])["name"]),
	}
}

func extractSmartDetection(p *Payload) []lpr.RawPlate {
	metadata := object(p.doc["metadata"])
	// Smart detections name no separate device; the camera is the device.
	device := p.CameraID()

	var plates []lpr.RawPlate
	for _, item := range list(metadata["detected_thumbnails"]) {
		thumb, ok := item.(map[string]any)
		if !ok || text(thumb["type"]) != vehicleKey {
			continue
		}
		// The vendor reuses the name of a vehicle thumbnail for the OCR'd plate.
		plate := utils.NormalizePlate(text(thumb["name"]))
		if plate == "" {
			continue
		}

		attrs := object(thumb["attributes"])
		plates = append(plates, lpr.RawPlate{
			PlateNumber:   plate,
			Timestamp:     thumb["clock_best_wall"],
			DeviceID:      device,
			CroppedID:     text(thumb["cropped_id"]),
			DetectionType: smartDetectionType,
			VehicleType:   attribute(attrs["vehicle_type"]),
			VehicleColor:  attribute(attrs["color"]),
		})
	}
	return plates
}

func attribute(v any) *lpr.Attribute {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	confidence, _ := number(m["confidence"])
	return &lpr.Attribute{
		Value:      text(m["val"]),
		Confidence: confidence,
	}
}
