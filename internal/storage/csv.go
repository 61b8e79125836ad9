package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-history/internal/models"
)

// TimeLayout is the timestamp format written to the time column.
const TimeLayout = "2006-01-02T15:04:05.999Z07:00"

// CSVStore reads and writes the text layout:
//
//	time,open,high,low,close,volume
//	2024-01-01T00:00:00Z,42283.58,42298.62,42261.02,42298.61,35.92724
type CSVStore struct {
	logger *slog.Logger
}

// NewCSVStore creates a CSV store.
func NewCSVStore(logger *slog.Logger) *CSVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVStore{logger: logger.With("component", "csv_store")}
}

// Write replaces dest with rows via a temp file in the same directory.
func (s *CSVStore) Write(ctx context.Context, dest string, rows []models.Candle) error {
	if err := ctx.Err(); err != nil {
		return NewWriteError(dest, err)
	}

	start := time.Now()
	err := writeAtomically(dest, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(Columns); err != nil {
			return err
		}
		record := make([]string, len(Columns))
		for _, row := range rows {
			if err := w.Write(formatRecord(record, row)); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
	if err != nil {
		return NewWriteError(dest, err)
	}

	s.logger.Debug("wrote csv series", "path", dest, "rows", len(rows), "duration", time.Since(start))
	return nil
}

// Read loads src. The time column may hold RFC 3339 values, the
// "2006-01-02 15:04:05+00:00" form, or integer epoch milliseconds. A column
// named timestamp is accepted in place of time.
func (s *CSVStore) Read(ctx context.Context, src string) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewReadError(src, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, NewReadError(src, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, NewReadError(src, fmt.Errorf("file is empty"))
		}
		return nil, NewReadError(src, err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, NewReadError(src, err)
	}

	var rows []models.Candle
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, NewReadError(src, err)
		}

		row, err := parseRecord(record, index)
		if err != nil {
			return nil, NewReadError(src, fmt.Errorf("line %d: %w", line, err))
		}
		rows = append(rows, row)
	}

	s.logger.Debug("read csv series", "path", src, "rows", len(rows))
	return rows, nil
}

// Appender opens dest for streaming writes. Rows go to a temp file that is
// renamed into place on Close.
func (s *CSVStore) Appender(dest string) (CandleAppender, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, NewWriteError(dest, err)
	}
	f, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return nil, NewWriteError(dest, err)
	}

	a := &CSVAppender{
		dest:   dest,
		file:   f,
		writer: csv.NewWriter(f),
		record: make([]string, len(Columns)),
		logger: s.logger,
	}
	if err := a.writer.Write(Columns); err != nil {
		a.abort()
		return nil, NewWriteError(dest, err)
	}
	return a, nil
}

// CSVAppender streams pages into a CSV file. The header is written once.
type CSVAppender struct {
	dest   string
	file   *os.File
	writer *csv.Writer
	record []string
	rows   int
	closed bool
	logger *slog.Logger
}

// Append writes rows and flushes them to the file. Pages handed over after
// the run was cancelled are still written.
func (a *CSVAppender) Append(_ context.Context, rows []models.Candle) error {
	if a.closed {
		return NewWriteError(a.dest, fmt.Errorf("appender is closed"))
	}

	for _, row := range rows {
		if err := a.writer.Write(formatRecord(a.record, row)); err != nil {
			return NewWriteError(a.dest, err)
		}
	}
	a.writer.Flush()
	if err := a.writer.Error(); err != nil {
		return NewWriteError(a.dest, err)
	}
	a.rows += len(rows)
	return nil
}

// Rows returns the number of rows appended so far.
func (a *CSVAppender) Rows() int {
	return a.rows
}

// Close syncs the file and moves it into place.
func (a *CSVAppender) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	a.writer.Flush()
	if err := a.writer.Error(); err != nil {
		a.abort()
		return NewWriteError(a.dest, err)
	}
	if err := a.file.Chmod(outputFileMode); err != nil {
		a.abort()
		return NewWriteError(a.dest, err)
	}
	if err := a.file.Sync(); err != nil {
		a.abort()
		return NewWriteError(a.dest, err)
	}
	if err := a.file.Close(); err != nil {
		os.Remove(a.file.Name())
		return NewWriteError(a.dest, err)
	}
	if err := os.Rename(a.file.Name(), a.dest); err != nil {
		os.Remove(a.file.Name())
		return NewWriteError(a.dest, err)
	}

	a.logger.Debug("closed csv appender", "path", a.dest, "rows", a.rows)
	return nil
}

// Abort discards everything appended so far. The destination is left as it
// was before the appender was opened.
func (a *CSVAppender) Abort() error {
	if a.closed {
		return nil
	}
	a.abort()
	return nil
}

func (a *CSVAppender) abort() {
	a.closed = true
	a.file.Close()
	os.Remove(a.file.Name())
}

func writeAtomically(dest string, write func(*os.File) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Chmod(outputFileMode); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func formatRecord(record []string, row models.Candle) []string {
	record[0] = FormatTime(row.Timestamp)
	record[1] = formatFloat(row.Open)
	record[2] = formatFloat(row.High)
	record[3] = formatFloat(row.Low)
	record[4] = formatFloat(row.Close)
	record[5] = formatFloat(row.Volume)
	return record
}

// FormatTime renders epoch milliseconds the way the time column stores them.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(TimeLayout)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func columnIndex(header []string) ([]int, error) {
	index := make([]int, len(Columns))
	for i := range index {
		index[i] = -1
	}

	for pos, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if name == "timestamp" || name == "date" {
			name = ColumnTime
		}
		for i, col := range Columns {
			if name == col && index[i] < 0 {
				index[i] = pos
			}
		}
	}

	var missing []string
	for i, pos := range index {
		if pos < 0 {
			missing = append(missing, Columns[i])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return index, nil
}

func parseRecord(record []string, index []int) (models.Candle, error) {
	for _, pos := range index {
		if pos >= len(record) {
			return models.Candle{}, fmt.Errorf("expected at least %d fields, got %d", pos+1, len(record))
		}
	}

	ts, err := parseTime(record[index[0]])
	if err != nil {
		return models.Candle{}, err
	}
	return models.NewCandleFromStrings(ts,
		record[index[1]],
		record[index[2]],
		record[index[3]],
		record[index[4]],
		record[index[5]])
}

func parseTime(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ms, nil
	}
	t, err := models.ParseTimestamp(value)
	if err != nil {
		return 0, &models.ParseError{Field: ColumnTime, Value: value, Err: err}
	}
	return t.UnixMilli(), nil
}
