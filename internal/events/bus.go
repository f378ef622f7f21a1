// Package events provides a best-effort, non-blocking event stream for
// dashboards and agents observing the gateway.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"datacache/internal/core"
)

// DefaultBufferSize is the per-subscriber channel depth.
const DefaultBufferSize = 256

// Bus fans events out to subscribers. Publish never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber and
// counted. Safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan core.Event
	nextID  int
	bufSize int
	dropped atomic.Int64
}

// NewBus creates a bus with the given per-subscriber buffer size
// (DefaultBufferSize if <= 0).
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Bus{
		subs:    make(map[int]chan core.Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a consumer. The returned cancel func must be called
// to release the subscription; the channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan core.Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan core.Event, b.bufSize)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to all subscribers, best-effort. A slow consumer
// loses events rather than blocking the emitter.
func (b *Bus) Publish(ev core.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.dropped.Add(1)%1000 == 1 {
				slog.Warn("event subscriber lagging, dropping events",
					"type", ev.Type,
					"total_dropped", b.dropped.Load(),
				)
			}
		}
	}
}

// Dropped returns the total number of events dropped across subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
