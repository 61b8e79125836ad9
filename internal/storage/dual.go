package storage

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/johnayoung/go-ohlcv-history/internal/config"
	"github.com/johnayoung/go-ohlcv-history/internal/models"
)

// DualStore writes every series as CSV and, when a Parquet store is attached,
// as a Parquet twin at the same stem. Reads dispatch on the file extension.
type DualStore struct {
	csv     *CSVStore
	parquet *ParquetStore
	logger  *slog.Logger
}

// NewDualStore combines csv and parquet. A nil parquet store writes CSV only.
func NewDualStore(csv *CSVStore, parquet *ParquetStore, logger *slog.Logger) *DualStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DualStore{csv: csv, parquet: parquet, logger: logger}
}

// NewStore builds the store described by cfg.
func NewStore(cfg config.StorageConfig, logger *slog.Logger) (*DualStore, error) {
	csvStore := NewCSVStore(logger)
	if !cfg.WriteParquet {
		return NewDualStore(csvStore, nil, logger), nil
	}

	parquetStore, err := NewParquetStore(logger)
	if err != nil {
		return nil, err
	}
	return NewDualStore(csvStore, parquetStore, logger), nil
}

// Write writes dest as CSV, then its Parquet twin.
func (d *DualStore) Write(ctx context.Context, dest string, rows []models.Candle) error {
	if isParquet(dest) {
		if d.parquet == nil {
			return NewWriteError(dest, errors.New("parquet output is disabled"))
		}
		return d.parquet.Write(ctx, dest, rows)
	}

	if err := d.csv.Write(ctx, dest, rows); err != nil {
		return err
	}
	if d.parquet == nil {
		return nil
	}
	return d.parquet.Write(ctx, ParquetPath(dest), rows)
}

// Read loads src from CSV, or from Parquet when src ends in .parquet.
func (d *DualStore) Read(ctx context.Context, src string) ([]models.Candle, error) {
	if isParquet(src) {
		if d.parquet == nil {
			return nil, NewReadError(src, errors.New("parquet input is disabled"))
		}
		return d.parquet.Read(ctx, src)
	}
	return d.csv.Read(ctx, src)
}

// Appender streams dest as CSV. The Parquet twin is converted from the
// finished CSV file when the appender is closed.
func (d *DualStore) Appender(dest string) (CandleAppender, error) {
	appender, err := d.csv.Appender(dest)
	if err != nil {
		return nil, err
	}
	return &dualAppender{CandleAppender: appender, store: d, dest: dest}, nil
}

// Destinations lists the files a Write to dest produces.
func (d *DualStore) Destinations(dest string) []string {
	if d.parquet == nil || isParquet(dest) {
		return []string{dest}
	}
	return []string{dest, ParquetPath(dest)}
}

// Close releases the Parquet store.
func (d *DualStore) Close() error {
	if d.parquet == nil {
		return nil
	}
	return d.parquet.Close()
}

type dualAppender struct {
	CandleAppender
	store *DualStore
	dest  string
}

func (a *dualAppender) Close() error {
	if err := a.CandleAppender.Close(); err != nil {
		return err
	}
	if a.store.parquet == nil {
		return nil
	}

	return a.store.parquet.ConvertCSV(context.Background(), a.dest, ParquetPath(a.dest))
}

func (a *dualAppender) Abort() error {
	if ab, ok := a.CandleAppender.(interface{ Abort() error }); ok {
		return ab.Abort()
	}
	return nil
}

func isParquet(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".parquet")
}
