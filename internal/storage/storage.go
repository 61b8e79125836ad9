// Package storage persists candle series as files. A destination is a path;
// the CSV store writes the text layout, the Parquet store writes columnar files
// through DuckDB, and the dual store writes both side by side.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/johnayoung/go-ohlcv-history/internal/models"
)

// SeriesStore writes and reads whole candle series.
type SeriesStore interface {
	// Write replaces dest with rows. A partially written dest is never left
	// behind.
	Write(ctx context.Context, dest string, rows []models.Candle) error

	// Read returns the rows stored at src in ascending time order.
	Read(ctx context.Context, src string) ([]models.Candle, error)
}

// CandleAppender writes a series incrementally, one page at a time.
type CandleAppender interface {
	Append(ctx context.Context, rows []models.Candle) error
	Close() error
}

// StreamingStore is a SeriesStore that can also be written page by page.
type StreamingStore interface {
	SeriesStore
	Appender(dest string) (CandleAppender, error)
}

// Column names shared by every file layout.
const (
	ColumnTime   = "time"
	ColumnOpen   = "open"
	ColumnHigh   = "high"
	ColumnLow    = "low"
	ColumnClose  = "close"
	ColumnVolume = "volume"
)

// outputFileMode is applied to finished files before they are renamed into place.
const outputFileMode = 0o644

// Columns is the header order for written files.
var Columns = []string{ColumnTime, ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "write", "read")
	Operation string

	// Path is the file involved in the operation
	Path string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage operation %s on %s failed: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, path string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewWriteError creates a StorageError for failed writes.
func NewWriteError(path string, err error) *StorageError {
	return NewStorageError("write", path, err)
}

// NewReadError creates a StorageError for failed reads.
func NewReadError(path string, err error) *StorageError {
	return NewStorageError("read", path, err)
}

// ParquetPath returns the Parquet twin of a CSV path: same stem, .parquet
// suffix.
func ParquetPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".parquet"
}
