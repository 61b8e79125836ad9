package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_WriteRead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rows := createTestCandles(10, time.Unix(0, 0))

	require.NoError(t, store.Write(ctx, "a.csv", rows))

	read, err := store.Read(ctx, "a.csv")
	require.NoError(t, err)
	assert.Equal(t, rows, read)

	// Returned slices are copies
	read[0].Open = -1
	rows[1].Open = -1
	again, err := store.Read(ctx, "a.csv")
	require.NoError(t, err)
	assert.NotEqual(t, -1.0, again[0].Open)
	assert.NotEqual(t, -1.0, again[1].Open)
	assert.Equal(t, 1, store.Writes("a.csv"))
}

func TestMemoryStore_ReadMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Read(context.Background(), "missing.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMemoryStore_Appender(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rows := createTestCandles(20, time.Unix(0, 0))
	require.NoError(t, store.Write(ctx, "s.csv", createTestCandles(3, time.Unix(3600, 0))))

	appender, err := store.Appender("s.csv")
	require.NoError(t, err)
	require.NoError(t, appender.Append(ctx, rows[:10]))
	require.NoError(t, appender.Append(ctx, rows[10:]))
	require.NoError(t, appender.Close())
	assert.Error(t, appender.Append(ctx, rows[:1]))

	read, err := store.Read(ctx, "s.csv")
	require.NoError(t, err)
	assert.Equal(t, rows, read)
}

func TestMemoryStore_ConcurrentWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dest := fmt.Sprintf("series_%02d.csv", i)
			assert.NoError(t, store.Write(ctx, dest, createTestCandles(i+1, time.Unix(0, 0))))
		}(i)
	}
	wg.Wait()

	keys := store.Keys()
	require.Len(t, keys, 20)
	assert.Equal(t, "series_00.csv", keys[0])

	read, err := store.Read(ctx, "series_19.csv")
	require.NoError(t, err)
	assert.Len(t, read, 20)
}
