package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-history/internal/config"
)

func TestDualStore_WritesTwin(t *testing.T) {
	store, err := NewStore(config.StorageConfig{WriteParquet: true}, nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rows := createTestCandles(50, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dest := filepath.Join(t.TempDir(), "BTCUSDT_5min.csv")

	require.NoError(t, store.Write(ctx, dest, rows))
	assert.Equal(t, []string{dest, ParquetPath(dest)}, store.Destinations(dest))

	fromCSV, err := store.Read(ctx, dest)
	require.NoError(t, err)
	fromParquet, err := store.Read(ctx, ParquetPath(dest))
	require.NoError(t, err)

	assert.Equal(t, rows, fromCSV)
	assert.Equal(t, fromCSV, fromParquet)
}

func TestDualStore_CSVOnly(t *testing.T) {
	store, err := NewStore(config.StorageConfig{WriteParquet: false}, nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "only.csv")
	require.NoError(t, store.Write(ctx, dest, createTestCandles(5, time.Unix(0, 0))))

	_, err = os.Stat(ParquetPath(dest))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, []string{dest}, store.Destinations(dest))

	_, err = store.Read(ctx, ParquetPath(dest))
	assert.Error(t, err)
}

func TestDualStore_AppenderWritesTwinOnClose(t *testing.T) {
	store, err := NewStore(config.StorageConfig{WriteParquet: true}, nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rows := createTestCandles(30, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dest := filepath.Join(t.TempDir(), "stream.csv")

	appender, err := store.Appender(dest)
	require.NoError(t, err)
	require.NoError(t, appender.Append(ctx, rows[:15]))
	require.NoError(t, appender.Append(ctx, rows[15:]))
	require.NoError(t, appender.Close())

	fromParquet, err := store.Read(ctx, ParquetPath(dest))
	require.NoError(t, err)
	assert.Equal(t, rows, fromParquet)

	fromCSV, err := store.Read(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, fromCSV, fromParquet)
}

func TestDualStore_AbortedAppenderWritesNoTwin(t *testing.T) {
	store, err := NewStore(config.StorageConfig{WriteParquet: true}, nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "aborted.csv")

	appender, err := store.Appender(dest)
	require.NoError(t, err)
	require.NoError(t, appender.Append(ctx, createTestCandles(10, time.Unix(0, 0))))

	aborter, ok := appender.(interface{ Abort() error })
	require.True(t, ok)
	require.NoError(t, aborter.Abort())

	for _, path := range store.Destinations(dest) {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), path)
	}
}

func TestParquetStore_ConvertCSV(t *testing.T) {
	csvStore := NewCSVStore(nil)
	parquetStore, err := NewParquetStore(nil)
	require.NoError(t, err)
	defer parquetStore.Close()

	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "BTCUSDT_1min.csv")

	// Millisecond and whole-second timestamps
	rows := createTestCandles(120, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rows[7].Timestamp += 250
	require.NoError(t, csvStore.Write(ctx, src, rows))

	dest := ParquetPath(src)
	require.NoError(t, parquetStore.ConvertCSV(ctx, src, dest))

	converted, err := parquetStore.Read(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, rows, converted)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestParquetStore_ConvertCSVErrors(t *testing.T) {
	parquetStore, err := NewParquetStore(nil)
	require.NoError(t, err)

	ctx := context.Background()
	dir := t.TempDir()

	err = parquetStore.ConvertCSV(ctx, filepath.Join(dir, "missing.csv"), filepath.Join(dir, "missing.parquet"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, parquetStore.Close())
	src := filepath.Join(dir, "a.csv")
	require.NoError(t, NewCSVStore(nil).Write(ctx, src, createTestCandles(2, time.Unix(0, 0))))
	assert.Error(t, parquetStore.ConvertCSV(ctx, src, ParquetPath(src)))
}
