package usage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStore collects flushed batches for inspection.
type captureStore struct {
	mu      sync.Mutex
	batches [][]*Entry
	flushed bool
	closed  bool
}

func (s *captureStore) WriteBatch(_ context.Context, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]*Entry, len(entries))
	copy(batch, entries)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = true
	return nil
}

func (s *captureStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func entry(i int) *Entry {
	return &Entry{
		ID:        fmt.Sprintf("id-%d", i),
		Timestamp: time.Now(),
		Key:       fmt.Sprintf("key-%d", i),
		DataType:  "market",
		Endpoint:  "quotes",
		Outcome:   "ok",
	}
}

func TestLoggerFlushesAtBatchThreshold(t *testing.T) {
	store := &captureStore{}
	logger := NewLogger(store, Config{BufferSize: 200, FlushInterval: time.Hour})
	defer logger.Close()

	for i := 0; i < BatchFlushThreshold; i++ {
		logger.Write(entry(i))
	}

	// The flush goroutine drains the channel asynchronously.
	require.Eventually(t, func() bool {
		return store.total() == BatchFlushThreshold
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLoggerCloseFlushesRemainder(t *testing.T) {
	store := &captureStore{}
	logger := NewLogger(store, Config{BufferSize: 200, FlushInterval: time.Hour})

	for i := 0; i < 7; i++ {
		logger.Write(entry(i))
	}

	require.NoError(t, logger.Close())

	assert.Equal(t, 7, store.total())
	assert.True(t, store.flushed)
	assert.True(t, store.closed)
}

func TestLoggerWriteAfterCloseIsDropped(t *testing.T) {
	store := &captureStore{}
	logger := NewLogger(store, Config{BufferSize: 10, FlushInterval: time.Hour})
	require.NoError(t, logger.Close())

	logger.Write(entry(1))

	assert.Equal(t, 0, store.total())
}

func TestLoggerCloseIsIdempotent(t *testing.T) {
	store := &captureStore{}
	logger := NewLogger(store, Config{BufferSize: 10, FlushInterval: time.Hour})

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestLoggerNilEntryIgnored(t *testing.T) {
	store := &captureStore{}
	logger := NewLogger(store, Config{BufferSize: 10, FlushInterval: time.Hour})
	defer logger.Close()

	logger.Write(nil)
	require.NoError(t, logger.Close())
	assert.Equal(t, 0, store.total())
}

func TestNoopLogger(t *testing.T) {
	var logger NoopLogger
	logger.Write(entry(1))
	assert.False(t, logger.Config().Enabled)
	assert.NoError(t, logger.Close())
}
