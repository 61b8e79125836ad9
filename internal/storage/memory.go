package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/johnayoung/go-ohlcv-history/internal/models"
)

// MemoryStore keeps series in memory keyed by destination. It is safe for
// concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string][]models.Candle
	writes map[string]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series: make(map[string][]models.Candle),
		writes: make(map[string]int),
	}
}

// Write stores a copy of rows under dest.
func (m *MemoryStore) Write(ctx context.Context, dest string, rows []models.Candle) error {
	if err := ctx.Err(); err != nil {
		return NewWriteError(dest, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.series[dest] = append(make([]models.Candle, 0, len(rows)), rows...)
	m.writes[dest]++
	return nil
}

// Read returns a copy of the rows stored under src.
func (m *MemoryStore) Read(ctx context.Context, src string) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewReadError(src, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, ok := m.series[src]
	if !ok {
		return nil, NewReadError(src, fmt.Errorf("series not found: %w", os.ErrNotExist))
	}
	return append([]models.Candle(nil), rows...), nil
}

// Appender returns an appender that adds rows to dest, replacing whatever dest
// held before.
func (m *MemoryStore) Appender(dest string) (CandleAppender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.series[dest] = []models.Candle{}
	m.writes[dest]++
	return &memoryAppender{store: m, dest: dest}, nil
}

// Keys returns every stored destination in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.series))
	for k := range m.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Writes returns how many times dest was written.
func (m *MemoryStore) Writes(dest string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[dest]
}

type memoryAppender struct {
	store  *MemoryStore
	dest   string
	closed bool
}

func (a *memoryAppender) Append(_ context.Context, rows []models.Candle) error {
	if a.closed {
		return NewWriteError(a.dest, fmt.Errorf("appender is closed"))
	}

	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.series[a.dest] = append(a.store.series[a.dest], rows...)
	return nil
}

func (a *memoryAppender) Abort() error {
	a.closed = true
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	delete(a.store.series, a.dest)
	return nil
}

func (a *memoryAppender) Close() error {
	a.closed = true
	return nil
}
