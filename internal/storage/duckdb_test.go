package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-history/internal/models"
)

// createTestParquetStore opens a store that is closed when the test ends
func createTestParquetStore(t *testing.T) *ParquetStore {
	t.Helper()

	store, err := NewParquetStore(nil)
	require.NoError(t, err, "failed to create test parquet store")
	t.Cleanup(func() { store.Close() })

	return store
}

func TestParquetStore_RoundTrip(t *testing.T) {
	store := createTestParquetStore(t)
	ctx := context.Background()
	rows := createTestCandles(1000, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dest := filepath.Join(t.TempDir(), "out", "BTCUSDT_1min.parquet")

	require.NoError(t, store.Write(ctx, dest, rows))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	read, err := store.Read(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, rows, read)
}

func TestParquetStore_ReadOrdersByTime(t *testing.T) {
	store := createTestParquetStore(t)
	ctx := context.Background()
	rows := createTestCandles(10, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	shuffled := append(append([]models.Candle(nil), rows[5:]...), rows[:5]...)

	dest := filepath.Join(t.TempDir(), "shuffled.parquet")
	require.NoError(t, store.Write(ctx, dest, shuffled))

	read, err := store.Read(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, rows, read)
}

func TestParquetStore_EmptySeries(t *testing.T) {
	store := createTestParquetStore(t)
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "empty.parquet")

	require.NoError(t, store.Write(ctx, dest, nil))

	read, err := store.Read(ctx, dest)
	require.NoError(t, err)
	assert.Empty(t, read)
}

func TestParquetStore_QuotedPath(t *testing.T) {
	store := createTestParquetStore(t)
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "it's here.parquet")
	rows := createTestCandles(3, time.Unix(0, 0))

	require.NoError(t, store.Write(ctx, dest, rows))
	read, err := store.Read(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, rows, read)
}

func TestParquetStore_ReadMissing(t *testing.T) {
	store := createTestParquetStore(t)

	_, err := store.Read(context.Background(), filepath.Join(t.TempDir(), "missing.parquet"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParquetStore_Closed(t *testing.T) {
	store, err := NewParquetStore(nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err = store.Write(context.Background(), filepath.Join(t.TempDir(), "x.parquet"), nil)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "write", storageErr.Operation)
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'plain'", quoteLiteral("plain"))
	assert.Equal(t, "'it''s'", quoteLiteral("it's"))
}
