package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"2024-01-02T03:04:05Z", want},
		{"2024-01-02T05:04:05+02:00", want},
		{"2024-01-02T03:04:05", want},
		{"2024-01-02 03:04:05", want},
		{"2024-01-02 03:04:05+00:00", want},
		{"2024-01-02T03:04", time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestParseTimeRange(t *testing.T) {
	r, err := ParseTimeRange("2024-01-01", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), r.Start)
	assert.Equal(t, 24*time.Hour, r.Duration())
	assert.False(t, r.IsEmpty())
	assert.True(t, r.Contains(r.Start))
	assert.False(t, r.Contains(r.End))

	_, err = ParseTimeRange("bad", "2024-01-02")
	assert.ErrorContains(t, err, "invalid start")
	_, err = ParseTimeRange("2024-01-01", "bad")
	assert.ErrorContains(t, err, "invalid end")
}

func TestTimeRange_IsEmpty(t *testing.T) {
	assert.True(t, TimeRange{Start: 10, End: 10}.IsEmpty())
	assert.True(t, TimeRange{Start: 11, End: 10}.IsEmpty())
	assert.Equal(t, time.Duration(0), TimeRange{Start: 11, End: 10}.Duration())
	assert.Equal(t, "[2024-01-01T00:00:00Z, 2024-01-02T00:00:00Z)",
		NewTimeRange(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)).String())
}
