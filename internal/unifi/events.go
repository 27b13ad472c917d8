package unifi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Event is a Protect event as returned by /proxy/protect/api/events.
type Event struct {
	ID               string        `json:"id"`
	Type             string        `json:"type"`
	Start            int64         `json:"start"`
	End              *int64        `json:"end"`
	Camera           string        `json:"camera"`
	Score            int           `json:"score"`
	SmartDetectTypes []string      `json:"smartDetectTypes"`
	Metadata         EventMetadata `json:"metadata"`
}

type EventMetadata struct {
	DetectedThumbnails []DetectedThumbnail `json:"detectedThumbnails"`
}

type DetectedThumbnail struct {
	Type          string               `json:"type"`
	Name          string               `json:"name"`
	CroppedID     string               `json:"croppedId"`
	ClockBestWall int64                `json:"clockBestWall"`
	Attributes    *ThumbnailAttributes `json:"attributes"`
}

type ThumbnailAttributes struct {
	VehicleType *AttributeValue `json:"vehicleType"`
	Color       *AttributeValue `json:"color"`
}

type AttributeValue struct {
	Val        string  `json:"val"`
	Confidence float64 `json:"confidence"`
}

// HasPlates reports whether any vehicle thumbnail carries plate text.
func (e Event) HasPlates() bool {
	for _, t := range e.Metadata.DetectedThumbnails {
		if t.Type == "vehicle" && strings.TrimSpace(t.Name) != "" {
			return true
		}
	}
	return false
}

// WebhookPayload renders the event in the smart detection webhook shape so it
// can go through the same pipeline as a pushed webhook.
func (e Event) WebhookPayload() map[string]any {
	thumbs := make([]any, 0, len(e.Metadata.DetectedThumbnails))
	for _, t := range e.Metadata.DetectedThumbnails {
		thumb := map[string]any{
			"type":       t.Type,
			"name":       t.Name,
			"cropped_id": t.CroppedID,
		}
		if t.ClockBestWall > 0 {
			thumb["clock_best_wall"] = t.ClockBestWall
		}
		if t.Attributes != nil {
			attrs := map[string]any{}
			if v := t.Attributes.VehicleType; v != nil {
				attrs["vehicle_type"] = map[string]any{"val": v.Val, "confidence": v.Confidence}
			}
			if v := t.Attributes.Color; v != nil {
				attrs["color"] = map[string]any{"val": v.Val, "confidence": v.Confidence}
			}
			thumb["attributes"] = attrs
		}
		thumbs = append(thumbs, thumb)
	}

	event := map[string]any{
		"id":    e.ID,
		"type":  e.Type,
		"start": e.Start,
	}
	if e.End != nil {
		event["end"] = *e.End
	}

	return map[string]any{
		"type":     "smart_detection",
		"camera":   map[string]any{"id": e.Camera},
		"event":    event,
		"metadata": map[string]any{"detected_thumbnails": thumbs},
	}
}

// ListEvents returns the events that started between start and end. When
// types is non-empty only events whose type or smart detect types match one of
// them are kept; matching ignores case and underscores.
func (c *Client) ListEvents(ctx context.Context, start, end time.Time, types []string) ([]Event, error) {
	query := url.Values{}
	query.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	query.Set("end", strconv.FormatInt(end.UnixMilli(), 10))

	var events []Event
	if err := c.getJSON(ctx, "/proxy/protect/api/events", query, &events); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	if len(types) == 0 {
		return events, nil
	}

	filtered := events[:0]
	for _, e := range events {
		if matchesType(e, types) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func matchesType(e Event, types []string) bool {
	candidates := append([]string{e.Type}, e.SmartDetectTypes...)
	for _, want := range types {
		w := normalizeType(want)
		if w == "" {
			continue
		}
		for _, have := range candidates {
			if strings.Contains(normalizeType(have), w) {
				return true
			}
		}
	}
	return false
}

func normalizeType(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "")
}
