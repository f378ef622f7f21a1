// Package ratelimit enforces per-provider request ceilings over sliding
// minute, hour, and day windows, with a token bucket smoothing bursts under
// the per-minute cap.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxWaitInterval caps the poll interval when waiting for capacity, so a
// mis-scheduled wake never sleeps unboundedly.
const maxWaitInterval = time.Second

// window is a sliding window of request timestamps. Zero limit means
// unlimited.
type window struct {
	span   time.Duration
	limit  int
	stamps []time.Time
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

func (w *window) hasCapacity(now time.Time) bool {
	if w.limit <= 0 {
		return true
	}
	w.prune(now)
	return len(w.stamps) < w.limit
}

// nextFree returns when one slot frees up. Only meaningful when the window
// is at capacity.
func (w *window) nextFree(now time.Time) time.Time {
	if w.limit <= 0 || len(w.stamps) == 0 {
		return now
	}
	return w.stamps[0].Add(w.span)
}

func (w *window) record(now time.Time) {
	if w.limit > 0 {
		w.stamps = append(w.stamps, now)
	}
}

func (w *window) utilization(now time.Time) float64 {
	if w.limit <= 0 {
		return 0
	}
	w.prune(now)
	return float64(len(w.stamps)) / float64(w.limit)
}

// Limits holds the three window ceilings. Zero disables a window.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// Limiter tracks request timestamps for one provider. All three windows are
// enforced simultaneously; a request is admitted only when every window has
// capacity. Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	minute *window
	hour   *window
	day    *window
	bucket *rate.Limiter
	now    func() time.Time
}

// New creates a limiter. now may be nil (time.Now); tests inject a clock.
func New(limits Limits, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	l := &Limiter{
		minute: &window{span: time.Minute, limit: limits.PerMinute},
		hour:   &window{span: time.Hour, limit: limits.PerHour},
		day:    &window{span: 24 * time.Hour, limit: limits.PerDay},
		now:    now,
	}
	if limits.PerMinute > 0 {
		// Smooth bursts: refill at the per-minute rate, allow a small burst.
		burst := limits.PerMinute / 4
		if burst < 1 {
			burst = 1
		}
		l.bucket = rate.NewLimiter(rate.Limit(float64(limits.PerMinute)/60.0), burst)
	}
	return l
}

// Allow reports whether a request could be admitted right now, without
// consuming capacity.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	return l.minute.hasCapacity(now) && l.hour.hasCapacity(now) && l.day.hasCapacity(now)
}

// Reserve consumes one slot in every window if all have capacity.
// Returns false, leaving the windows untouched, when any window is full.
func (l *Limiter) Reserve() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.minute.hasCapacity(now) || !l.hour.hasCapacity(now) || !l.day.hasCapacity(now) {
		return false
	}
	l.minute.record(now)
	l.hour.record(now)
	l.day.record(now)
	return true
}

// Wait blocks until a slot is reserved or ctx is done. The wake time is
// scheduled from the earliest-expiring timestamp of the saturated window,
// capped at maxWaitInterval so clock drift cannot stall the caller.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Reserve() {
			break
		}

		interval := l.untilNextFree()
		if interval <= 0 {
			interval = 10 * time.Millisecond
		}
		if interval > maxWaitInterval {
			interval = maxWaitInterval
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	// Smooth the admitted request through the token bucket.
	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Utilization returns the highest fill ratio across the three windows,
// in [0,1]. The router uses it as a load penalty.
func (l *Limiter) Utilization() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	u := l.minute.utilization(now)
	if h := l.hour.utilization(now); h > u {
		u = h
	}
	if d := l.day.utilization(now); d > u {
		u = d
	}
	return u
}

func (l *Limiter) untilNextFree() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var earliest time.Time
	for _, w := range []*window{l.minute, l.hour, l.day} {
		if w.hasCapacity(now) {
			continue
		}
		free := w.nextFree(now)
		if free.After(earliest) {
			earliest = free
		}
	}
	if earliest.IsZero() {
		return 0
	}
	return earliest.Sub(now)
}
