package models

import (
	"fmt"
	"strings"
	"time"
)

// TimeRange is a half-open interval [Start, End) of millisecond timestamps.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// acceptedTimeLayouts are tried in order by ParseTimestamp. Layouts without a
// zone are interpreted as UTC.
var acceptedTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// NewTimeRange builds a range from two times.
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: start.UnixMilli(), End: end.UnixMilli()}
}

// ParseTimeRange parses two ISO-8601 boundaries into a range.
func ParseTimeRange(start, end string) (TimeRange, error) {
	s, err := ParseTimestamp(start)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid start: %w", err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid end: %w", err)
	}
	return NewTimeRange(s, e), nil
}

// ParseTimestamp parses an ISO-8601 date or date-time. Values without an
// offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	value := strings.TrimSpace(s)
	for _, layout := range acceptedTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised ISO-8601 timestamp %q", s)
}

// IsEmpty reports whether the range contains no instants.
func (r TimeRange) IsEmpty() bool {
	return r.Start >= r.End
}

func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.Start && ts < r.End
}

func (r TimeRange) Duration() time.Duration {
	if r.IsEmpty() {
		return 0
	}
	return time.Duration(r.End-r.Start) * time.Millisecond
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)",
		time.UnixMilli(r.Start).UTC().Format(time.RFC3339),
		time.UnixMilli(r.End).UTC().Format(time.RFC3339))
}
