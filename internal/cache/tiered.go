package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"datacache/internal/core"
)

// DefaultPromoteThreshold is the reads-per-hour rate above which a key is
// considered frequently accessed and promoted into L1.
const DefaultPromoteThreshold = 10

// Remote is the shared L2 tier contract. *Redis is the production
// implementation; tests substitute an in-memory fake.
type Remote interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, keys ...string) (int, error)
	DeleteByTag(ctx context.Context, tag string) (int, error)
	Close() error
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	CostSaved   float64 `json:"cost_saved"`
	L1Entries   int     `json:"l1_entries"`
	L1Evictions int64   `json:"l1_evictions"`
	L2Errors    int64   `json:"l2_errors"`
}

// TieredConfig configures the tiered store.
type TieredConfig struct {
	// MaxL1Entries bounds the in-process tier (defaults to 1000).
	MaxL1Entries int

	// PromoteThreshold is the reads/hour rate above which an L2 hit is
	// copied into L1 (defaults to 10).
	PromoteThreshold int

	// Now is the clock; defaults to time.Now. Injectable for tests.
	Now func() time.Time
}

// Tiered is the two-tier cache store. All methods are safe for concurrent
// use. L2 unavailability degrades to L1-only operation and is never
// surfaced to callers of Get.
type Tiered struct {
	l1        *Local
	l2        Remote
	threshold int
	now       func() time.Time

	mu        sync.Mutex
	hits      int64
	misses    int64
	costSaved float64
	l2Errors  int64
}

// NewTiered creates the tiered store. l2 may be nil for L1-only operation.
func NewTiered(l2 Remote, cfg TieredConfig) *Tiered {
	threshold := cfg.PromoteThreshold
	if threshold <= 0 {
		threshold = DefaultPromoteThreshold
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tiered{
		l1:        NewLocal(cfg.MaxL1Entries),
		l2:        l2,
		threshold: threshold,
		now:       now,
	}
}

// Get returns the entry for key, or nil on miss. The entry's own
// CreatedAt+TTL governs expiry regardless of any backend cleanup cadence.
// costSaved is the estimated provider cost a hit avoids, credited to the
// entry and the store totals.
func (t *Tiered) Get(ctx context.Context, key string, costSaved float64) *Entry {
	now := t.now()
	frequent := t.l1.RecordAccess(key, now, t.threshold)

	if entry, ok := t.l1.Get(key, now, costSaved); ok {
		t.recordHit(costSaved)
		return entry
	}

	if t.l2 == nil {
		t.recordMiss()
		return nil
	}

	entry, err := t.l2.Get(ctx, key)
	if err != nil {
		// L2 down: treat as a miss and let the caller go to origin.
		t.recordL2Error(err)
		t.recordMiss()
		return nil
	}
	if entry == nil || entry.Expired(now) {
		t.recordMiss()
		return nil
	}

	// The decoded entry is still private to this goroutine; touch it
	// before it is published to L1.
	entry.Touch(now, costSaved)
	if frequent {
		t.l1.Set(entry)
	}
	t.recordHit(costSaved)
	return entry
}

// GetStale returns the entry for key even if expired, for
// stale-while-revalidate serving. Returns nil only when no copy exists.
func (t *Tiered) GetStale(ctx context.Context, key string) *Entry {
	if entry, ok := t.l1.Peek(key); ok {
		return entry
	}

	if t.l2 == nil {
		return nil
	}
	entry, err := t.l2.Get(ctx, key)
	if err != nil {
		t.recordL2Error(err)
		return nil
	}
	return entry
}

// Set writes the value under key with the TTL policy for dt and priority.
// L1 receives the entry when priority is high/critical or the key is
// frequently accessed; L2 receives it unless the serialized entry exceeds
// the size cap, in which case a size-limit error is returned and the caller
// proceeds with the uncached value.
func (t *Tiered) Set(ctx context.Context, key string, value json.RawMessage, dt core.DataType, priority core.Priority, tags []string) error {
	now := t.now()
	entry := &Entry{
		Key:            key,
		Value:          value,
		TTL:            TTLFor(dt, priority),
		CreatedAt:      now,
		LastAccessedAt: now,
		Priority:       priority,
		Tags:           tags,
	}

	frequent := t.isFrequent(key, now)
	if priority == core.PriorityHigh || priority == core.PriorityCritical || frequent {
		t.l1.Set(entry)
	}

	if t.l2 == nil {
		return nil
	}
	if err := t.l2.Set(ctx, entry); err != nil {
		if core.IsErrorType(err, core.ErrorTypeSizeLimit) {
			return err
		}
		t.recordL2Error(err)
		return nil
	}
	return nil
}

// Invalidate removes keys from both tiers. Returns the number of distinct
// keys that were actually present in at least one tier; invalidating the
// same keys again is a no-op returning zero.
func (t *Tiered) Invalidate(ctx context.Context, keys ...string) int {
	removed := 0
	for _, key := range keys {
		inL1 := t.l1.Delete(key)
		inL2 := false
		if t.l2 != nil {
			n, err := t.l2.Delete(ctx, key)
			if err != nil {
				t.recordL2Error(err)
			} else {
				inL2 = n > 0
			}
		}
		if inL1 || inL2 {
			removed++
		}
	}
	return removed
}

// InvalidateTags removes every entry carrying any of the tags, across both
// tiers, using the incrementally maintained tag indexes.
func (t *Tiered) InvalidateTags(ctx context.Context, tags ...string) int {
	removed := 0
	for _, tag := range tags {
		n1 := t.l1.DeleteByTag(tag)
		n2 := 0
		if t.l2 != nil {
			n, err := t.l2.DeleteByTag(ctx, tag)
			if err != nil {
				t.recordL2Error(err)
			} else {
				n2 = n
			}
		}
		// Tiers usually hold overlapping copies; count each key once.
		removed += max(n1, n2)
	}
	return removed
}

// Stats returns a snapshot of cache effectiveness counters.
func (t *Tiered) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.hits + t.misses
	rate := 0.0
	if total > 0 {
		rate = float64(t.hits) / float64(total)
	}
	return Stats{
		Hits:        t.hits,
		Misses:      t.misses,
		HitRate:     rate,
		CostSaved:   t.costSaved,
		L1Entries:   t.l1.Len(),
		L1Evictions: t.l1.Evictions(),
		L2Errors:    t.l2Errors,
	}
}

// Close releases the L2 connection, if any.
func (t *Tiered) Close() error {
	if t.l2 != nil {
		return t.l2.Close()
	}
	return nil
}

// isFrequent peeks at the access tracker without recording a new read.
func (t *Tiered) isFrequent(key string, now time.Time) bool {
	return t.l1.Frequent(key, now, t.threshold)
}

func (t *Tiered) recordHit(costSaved float64) {
	t.mu.Lock()
	t.hits++
	t.costSaved += costSaved
	t.mu.Unlock()
}

func (t *Tiered) recordMiss() {
	t.mu.Lock()
	t.misses++
	t.mu.Unlock()
}

func (t *Tiered) recordL2Error(err error) {
	t.mu.Lock()
	t.l2Errors++
	t.mu.Unlock()

	var ge *core.GatewayError
	if errors.As(err, &ge) {
		slog.Warn("cache tier degraded, continuing without L2", "error", ge.Err)
		return
	}
	slog.Warn("cache tier degraded, continuing without L2", "error", err)
}
