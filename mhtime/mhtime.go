// Package mhtime converts mhealth timestamps to and from millisecond epoch values.
//
// Timestamps are zone-less: wall clock values are read and written as if they were
// UTC, and no offset is ever applied.
package mhtime

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// LayoutMillis is the canonical mhealth timestamp layout.
	LayoutMillis = "2006-01-02 15:04:05.000"
	// LayoutSeconds is the accepted layout without a fractional component.
	LayoutSeconds = "2006-01-02 15:04:05"

	// Hour is one hour in milliseconds.
	Hour int64 = 3600 * 1000
	// Minute is one minute in milliseconds.
	Minute int64 = 60 * 1000
)

// ErrInvalidTimestamp reports a value that is not a recognized timestamp.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// layoutFraction accepts any number of fractional digits after the seconds field.
const layoutFraction = "2006-01-02 15:04:05.999999999"

// Parse converts a textual timestamp to epoch milliseconds.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	layout := LayoutSeconds
	if strings.Contains(s, ".") {
		layout = layoutFraction
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return FromTime(t), nil
}

// ToEpochMs converts a string, time.Time or int64 millisecond value to epoch milliseconds.
func ToEpochMs(v any) (int64, error) {
	switch x := v.(type) {
	case string:
		return Parse(x)
	case time.Time:
		if x.IsZero() {
			return 0, fmt.Errorf("%w: zero time", ErrInvalidTimestamp)
		}
		return FromTime(x), nil
	case *time.Time:
		if x == nil {
			return 0, fmt.Errorf("%w: nil time", ErrInvalidTimestamp)
		}
		return ToEpochMs(*x)
	case int64:
		return x, nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidTimestamp, v)
	}
}

// FromTime returns the wall clock of t as zone-less epoch milliseconds.
// Sub-millisecond precision is truncated toward the past.
func FromTime(t time.Time) int64 {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return wall.UnixMilli()
}

// FromEpochMs returns the zone-less time for ms, carried in the UTC location.
func FromEpochMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Format renders ms with the canonical millisecond layout.
func Format(ms int64) string {
	return FromEpochMs(ms).Format(LayoutMillis)
}

// Seconds converts epoch milliseconds to fractional epoch seconds.
func Seconds(ms int64) float64 {
	return float64(ms) / 1000.0
}

// FromSeconds converts fractional epoch seconds to milliseconds, rounding to the nearest ms.
func FromSeconds(s float64) int64 {
	return int64(math.Round(s * 1000.0))
}

// FloorHour truncates ms to the start of its hour.
func FloorHour(ms int64) int64 {
	return floorTo(ms, Hour)
}

// CeilHour returns the start of the hour following the one containing ms.
func CeilHour(ms int64) int64 {
	return FloorHour(ms) + Hour
}

// FloorMinute truncates ms to the start of its minute.
func FloorMinute(ms int64) int64 {
	return floorTo(ms, Minute)
}

func floorTo(ms, unit int64) int64 {
	r := ms % unit
	if r < 0 {
		r += unit
	}
	return ms - r
}
