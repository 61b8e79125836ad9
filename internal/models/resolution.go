package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	msPerMinute = int64(time.Minute / time.Millisecond)
	msPerDay    = int64(24 * time.Hour / time.Millisecond)
)

// Resolution is a fixed bucket width. Calendar resolutions are aligned to UTC
// midnight; every other resolution is aligned to epoch-relative multiples of
// its duration.
type Resolution struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Calendar bool          `json:"calendar"`
}

// Common resolutions.
var (
	Minute         = mustResolution("1m")
	FiveMinutes    = mustResolution("5m")
	FifteenMinutes = mustResolution("15m")
	ThirtyMinutes  = mustResolution("30m")
	Hour           = mustResolution("1h")
	FourHours      = mustResolution("4h")
	Day            = mustResolution("1d")
)

// DefaultResampleResolutions is the target list the resample command uses when
// none is configured.
var DefaultResampleResolutions = []Resolution{Minute, FiveMinutes, FifteenMinutes, Hour, Day}

var unitWidths = map[string]time.Duration{
	"m": time.Minute, "min": time.Minute, "T": time.Minute,
	"h": time.Hour, "H": time.Hour,
	"d": 24 * time.Hour, "D": 24 * time.Hour,
}

// ParseResolution parses exchange-style labels ("1m", "4h", "1d") and the
// pandas-style labels used in file names ("1min", "60min", "1H", "1D").
func ParseResolution(s string) (Resolution, error) {
	label := strings.TrimSpace(s)
	if label == "" {
		return Resolution{}, fmt.Errorf("resolution cannot be empty")
	}

	i := 0
	for i < len(label) && label[i] >= '0' && label[i] <= '9' {
		i++
	}
	count := 1
	if i > 0 {
		n, err := strconv.Atoi(label[:i])
		if err != nil {
			return Resolution{}, fmt.Errorf("invalid resolution %q: %w", s, err)
		}
		count = n
	}
	if count <= 0 {
		return Resolution{}, fmt.Errorf("invalid resolution %q: count must be positive", s)
	}

	unit := label[i:]
	if width, ok := unitWidths[unit]; ok && int64(count) > math.MaxInt64/int64(width) {
		return Resolution{}, fmt.Errorf("invalid resolution %q: count is too large", s)
	}

	switch unit {
	case "m", "min", "T":
		if count%60 == 0 {
			return Resolution{Name: fmt.Sprintf("%dh", count/60), Duration: time.Duration(count) * time.Minute}, nil
		}
		return Resolution{Name: fmt.Sprintf("%dm", count), Duration: time.Duration(count) * time.Minute}, nil
	case "h", "H":
		return Resolution{Name: fmt.Sprintf("%dh", count), Duration: time.Duration(count) * time.Hour}, nil
	case "d", "D":
		if count != 1 {
			return Resolution{}, fmt.Errorf("unsupported resolution %q: only single calendar days are supported", s)
		}
		return Resolution{Name: "1d", Duration: 24 * time.Hour, Calendar: true}, nil
	default:
		return Resolution{}, fmt.Errorf("unsupported resolution unit %q in %q", unit, s)
	}
}

// ParseResolutions parses a comma separated list of resolution labels.
func ParseResolutions(s string) ([]Resolution, error) {
	var out []Resolution
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		res, err := ParseResolution(part)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no resolutions in %q", s)
	}
	return out, nil
}

func mustResolution(s string) Resolution {
	res, err := ParseResolution(s)
	if err != nil {
		panic(err)
	}
	return res
}

// Millis returns the bucket width in milliseconds.
func (r Resolution) Millis() int64 {
	if r.Calendar {
		return msPerDay
	}
	return r.Duration.Milliseconds()
}

// BucketStart returns the start of the bucket containing ts.
func (r Resolution) BucketStart(ts int64) int64 {
	width := r.Millis()
	if width <= 0 {
		return ts
	}
	rem := ts % width
	if rem < 0 {
		rem += width
	}
	return ts - rem
}

// BucketEnd returns the exclusive end of the bucket containing ts.
func (r Resolution) BucketEnd(ts int64) int64 {
	return r.BucketStart(ts) + r.Millis()
}

// Suffix is the label used in output file names: 1min, 5min, 60min, 1D.
func (r Resolution) Suffix() string {
	if r.Calendar {
		return "1D"
	}
	return fmt.Sprintf("%dmin", r.Millis()/msPerMinute)
}

func (r Resolution) IsZero() bool {
	return r.Duration == 0
}

func (r Resolution) String() string {
	return r.Name
}
