package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// millisecondThreshold separates Unix seconds from Unix milliseconds. Rows
// already in the warehouse were written with this exact cut-off.
const millisecondThreshold = 9_999_999_999

// maxUnixMilli is 9999-12-31T23:59:59.999Z, the last instant the warehouse
// TIMESTAMP columns and DateTimeLayout can hold.
const maxUnixMilli = 253_402_300_799_999

// DateTimeLayout is the warehouse timestamp format.
const DateTimeLayout = "2006-01-02 15:04:05"

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	DateTimeLayout,
}

// ParseTimestamp normalizes a vendor timestamp to UTC. It accepts Unix seconds
// or milliseconds (as numbers or numeric strings), RFC 3339 and zone-less ISO
// 8601 strings, which are taken as UTC. ok is false for anything absent,
// non-positive, past year 9999 or unparsable.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t.UTC(), !t.IsZero()
	case string:
		return parseTimestampString(t)
	}

	f, ok := number(v)
	if !ok {
		return time.Time{}, false
	}
	return fromUnix(f)
}

func parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromUnix(f)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromUnix(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f > millisecondThreshold {
		if f > maxUnixMilli {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), true
}

// FormatDateTime renders t in the warehouse layout, in UTC.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}
