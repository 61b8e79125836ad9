package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/johnayoung/go-ohlcv-history/internal/models"
)

// createTestCandles generates a minute series with uneven prices
func createTestCandles(count int, start time.Time) []models.Candle {
	candles := make([]models.Candle, count)
	basePrice := 42000.0

	for i := 0; i < count; i++ {
		open := basePrice + float64(i)*1.25 + float64(i%5)*0.1
		candles[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open:      open,
			High:      open + 12.34,
			Low:       open - 7.01,
			Close:     open + float64(i%3) - 1,
			Volume:    0.1 + float64(i)*0.00000001,
		}
	}
	return candles
}

type CSVStoreTestSuite struct {
	suite.Suite
	ctx   context.Context
	dir   string
	store *CSVStore
}

func (s *CSVStoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()
	s.store = NewCSVStore(nil)
}

func (s *CSVStoreTestSuite) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *CSVStoreTestSuite) TestWriteLayout() {
	rows := []models.Candle{
		{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), Open: 10, High: 12, Low: 9, Close: 11, Volume: 5},
		{Timestamp: time.Date(2024, 1, 1, 0, 0, 30, 250e6, time.UTC).UnixMilli(), Open: 0.1, High: 0.30000000000000004, Low: 0.05, Close: 0.2, Volume: 1e-8},
	}
	dest := s.path("BTCUSDT_1min.csv")

	s.Require().NoError(s.store.Write(s.ctx, dest, rows))

	data, err := os.ReadFile(dest)
	s.Require().NoError(err)
	s.Equal("time,open,high,low,close,volume\n"+
		"2024-01-01T00:00:00Z,10,12,9,11,5\n"+
		"2024-01-01T00:00:30.25Z,0.1,0.30000000000000004,0.05,0.2,0.00000001\n", string(data))
}

func (s *CSVStoreTestSuite) TestRoundTrip() {
	rows := createTestCandles(500, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dest := s.path("nested/dir/series.csv")

	s.Require().NoError(s.store.Write(s.ctx, dest, rows))

	read, err := s.store.Read(s.ctx, dest)
	s.Require().NoError(err)
	s.Equal(rows, read)
}

func (s *CSVStoreTestSuite) TestRewriteIsByteIdentical() {
	rows := createTestCandles(100, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	first := s.path("first.csv")
	second := s.path("second.csv")

	s.Require().NoError(s.store.Write(s.ctx, first, rows))
	read, err := s.store.Read(s.ctx, first)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Write(s.ctx, second, read))

	a, err := os.ReadFile(first)
	s.Require().NoError(err)
	b, err := os.ReadFile(second)
	s.Require().NoError(err)
	s.Equal(a, b)
}

func (s *CSVStoreTestSuite) TestWriteEmptySeries() {
	dest := s.path("empty.csv")
	s.Require().NoError(s.store.Write(s.ctx, dest, nil))

	read, err := s.store.Read(s.ctx, dest)
	s.Require().NoError(err)
	s.Empty(read)
}

func (s *CSVStoreTestSuite) TestWriteLeavesNoTempFiles() {
	s.Require().NoError(s.store.Write(s.ctx, s.path("a.csv"), createTestCandles(3, time.Unix(0, 0))))

	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	s.Len(entries, 1)
	s.Equal("a.csv", entries[0].Name())
}

func (s *CSVStoreTestSuite) TestReadAlternateTimeFormats() {
	src := s.path("pandas.csv")
	content := "timestamp,open,high,low,close,volume\n" +
		"2024-01-01 00:00:00+00:00,1,2,0.5,1.5,10\n" +
		"2024-01-01T00:01:00Z,1.5,2.5,1,2,11\n" +
		"1704067320000,2,3,1.5,2.5,12\n"
	s.Require().NoError(os.WriteFile(src, []byte(content), 0o644))

	rows, err := s.store.Read(s.ctx, src)
	s.Require().NoError(err)
	s.Require().Len(rows, 3)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	s.Equal(start, rows[0].Timestamp)
	s.Equal(start+60_000, rows[1].Timestamp)
	s.Equal(start+120_000, rows[2].Timestamp)
	s.Equal(12.0, rows[2].Volume)
}

func (s *CSVStoreTestSuite) TestReadReorderedColumns() {
	src := s.path("reordered.csv")
	content := "volume,close,low,high,open,time\n5,11,9,12,10,2024-01-01T00:00:00Z\n"
	s.Require().NoError(os.WriteFile(src, []byte(content), 0o644))

	rows, err := s.store.Read(s.ctx, src)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(models.Candle{Timestamp: 1704067200000, Open: 10, High: 12, Low: 9, Close: 11, Volume: 5}, rows[0])
}

func (s *CSVStoreTestSuite) TestReadErrors() {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"missing column", "time,open,high,low,close\n2024-01-01T00:00:00Z,1,2,0,1\n"},
		{"bad timestamp", "time,open,high,low,close,volume\nyesterday,1,2,0,1,1\n"},
		{"bad number", "time,open,high,low,close,volume\n2024-01-01T00:00:00Z,1,2,zero,1,1\n"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			src := s.path("bad.csv")
			s.Require().NoError(os.WriteFile(src, []byte(tt.content), 0o644))

			_, err := s.store.Read(s.ctx, src)
			s.Require().Error(err)

			var storageErr *StorageError
			s.Require().True(errors.As(err, &storageErr))
			s.Equal("read", storageErr.Operation)
			s.Equal(src, storageErr.Path)
		})
	}
}

func (s *CSVStoreTestSuite) TestReadMissingFile() {
	_, err := s.store.Read(s.ctx, s.path("missing.csv"))
	s.Require().Error(err)
	s.True(errors.Is(err, os.ErrNotExist))
}

func (s *CSVStoreTestSuite) TestAppender() {
	rows := createTestCandles(250, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dest := s.path("stream.csv")

	appender, err := s.store.Appender(dest)
	s.Require().NoError(err)

	for i := 0; i < len(rows); i += 100 {
		end := min(i+100, len(rows))
		s.Require().NoError(appender.Append(s.ctx, rows[i:end]))
	}

	_, err = os.Stat(dest)
	s.True(os.IsNotExist(err), "destination appears only on close")

	s.Require().NoError(appender.Close())
	s.Require().NoError(appender.Close())
	s.Error(appender.Append(s.ctx, rows[:1]))

	read, err := s.store.Read(s.ctx, dest)
	s.Require().NoError(err)
	s.Equal(rows, read)

	written := s.path("written.csv")
	s.Require().NoError(s.store.Write(s.ctx, written, rows))
	a, _ := os.ReadFile(dest)
	b, _ := os.ReadFile(written)
	s.Equal(b, a)
}

func (s *CSVStoreTestSuite) TestFilesAreWorldReadable() {
	written := s.path("written.csv")
	s.Require().NoError(s.store.Write(s.ctx, written, createTestCandles(3, time.Unix(0, 0))))

	streamed := s.path("streamed.csv")
	appender, err := s.store.Appender(streamed)
	s.Require().NoError(err)
	s.Require().NoError(appender.Append(s.ctx, createTestCandles(3, time.Unix(0, 0))))
	s.Require().NoError(appender.Close())

	for _, path := range []string{written, streamed} {
		info, err := os.Stat(path)
		s.Require().NoError(err)
		s.Equal(os.FileMode(0o644), info.Mode().Perm(), path)
	}
}

func (s *CSVStoreTestSuite) TestCancelledWrite() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	err := s.store.Write(ctx, s.path("cancelled.csv"), createTestCandles(1, time.Unix(0, 0)))
	s.ErrorIs(err, context.Canceled)
}

func TestCSVStoreTestSuite(t *testing.T) {
	suite.Run(t, new(CSVStoreTestSuite))
}

func TestParquetPath(t *testing.T) {
	assert.Equal(t, "data/BTCUSDT_5min.parquet", ParquetPath("data/BTCUSDT_5min.csv"))
	assert.Equal(t, "series.parquet", ParquetPath("series"))
}

func TestFormatTime(t *testing.T) {
	require.Equal(t, "1970-01-01T00:00:00Z", FormatTime(0))
	require.Equal(t, "2024-01-01T00:00:00.001Z", FormatTime(1704067200001))
}

func TestCSVAppender_Abort(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "aborted.csv")
	store := NewCSVStore(nil)

	appender, err := store.Appender(dest)
	require.NoError(t, err)
	require.NoError(t, appender.Append(context.Background(), createTestCandles(5, time.Unix(0, 0))))

	aborter, ok := appender.(interface{ Abort() error })
	require.True(t, ok)
	require.NoError(t, aborter.Abort())
	require.NoError(t, appender.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
