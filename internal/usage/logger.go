package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BatchFlushThreshold is the buffered-entry count that triggers an
// immediate flush ahead of the interval.
const BatchFlushThreshold = 50

// Logger provides async buffered ledger writes. Entries are collected in a
// channel and flushed to storage when the batch threshold is reached or at
// regular intervals.
type Logger struct {
	store         Store
	config        Config
	buffer        chan *Entry
	done          chan struct{}
	wg            sync.WaitGroup
	writes        sync.WaitGroup // tracks in-flight Write calls
	flushInterval time.Duration
	closed        atomic.Bool
}

// NewLogger creates a new async buffered Logger and starts its flush
// goroutine.
func NewLogger(store Store, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:         store,
		config:        cfg,
		buffer:        make(chan *Entry, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Write queues an entry for async writing. Non-blocking: if the buffer is
// full or the logger is closed, the entry is dropped with a warning.
func (l *Logger) Write(entry *Entry) {
	if entry == nil {
		return
	}

	if l.closed.Load() {
		return
	}

	// Track this write so Close cannot close the buffer mid-send.
	l.writes.Add(1)
	defer l.writes.Done()

	// Close() may have set closed between the first check and Add.
	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		slog.Warn("usage ledger buffer full, dropping entry",
			"key", entry.Key,
			"provider", entry.Provider,
		)
	}
}

// Config returns the logger configuration.
func (l *Logger) Config() Config {
	return l.config
}

// Close stops the logger and flushes remaining entries. Idempotent.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.writes.Wait()
	close(l.done)
	l.wg.Wait()

	return l.store.Close()
}

// flushLoop runs in the background and periodically flushes the buffer.
func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, BatchFlushThreshold)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, BatchFlushThreshold)
			}

		case <-l.done:
			// l.closed is already set by Close() before done is closed.
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush usage store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*Entry) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write usage batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopLogger is used when the ledger is disabled.
type NoopLogger struct{}

// Write does nothing.
func (l *NoopLogger) Write(_ *Entry) {}

// Config returns an empty config.
func (l *NoopLogger) Config() Config {
	return Config{Enabled: false}
}

// Close does nothing.
func (l *NoopLogger) Close() error {
	return nil
}

// LoggerInterface is implemented by both the real and noop loggers.
type LoggerInterface interface {
	Write(entry *Entry)
	Config() Config
	Close() error
}
