package repository

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"lpr-service/internal/ingest"
)

// DateTime is a UTC wall-clock timestamp stored and rendered as
// "YYYY-MM-DD HH:MM:SS", the layout the warehouse has always used.
type DateTime struct {
	time.Time
}

// NewDateTime returns nil for the zero time, so absent timestamps are
// written as NULL instead of a sentinel date.
func NewDateTime(t time.Time) *DateTime {
	if t.IsZero() {
		return nil
	}
	return &DateTime{Time: t.UTC().Truncate(time.Second)}
}

func newDateTimePtr(t *time.Time) *DateTime {
	if t == nil {
		return nil
	}
	return NewDateTime(*t)
}

func (d DateTime) String() string {
	return ingest.FormatDateTime(d.Time)
}

func (d DateTime) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *DateTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.Time = time.Time{}
		return nil
	case time.Time:
		// TIMESTAMP columns come back in the session zone but hold UTC wall time.
		d.Time = time.Date(v.Year(), v.Month(), v.Day(), v.Hour(), v.Minute(), v.Second(), 0, time.UTC)
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into DateTime", src)
	}
}

func (d *DateTime) parse(s string) error {
	t, ok := ingest.ParseTimestamp(s)
	if !ok {
		return fmt.Errorf("invalid datetime %q", s)
	}
	d.Time = t
	return nil
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DateTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}
