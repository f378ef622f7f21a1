package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultMaxEntries bounds the L1 tier when no capacity is configured.
const DefaultMaxEntries = 1000

// accessWindow is the sliding window over which per-key read rates are
// measured for the promotion rule.
const accessWindow = time.Hour

// accessStat tracks reads of one key fingerprint within the current window.
type accessStat struct {
	count       int
	windowStart time.Time
}

// Local is the in-process L1 tier: a bounded map with LRU eviction and an
// incrementally maintained tag index. Eviction removes from L1 only; any L2
// copy remains authoritative.
type Local struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*list.Element
	lru        *list.List // front = most recently accessed
	tagIndex   map[string]map[string]struct{}

	// access rates are tracked by key fingerprint so L2-only keys can
	// qualify for promotion without L1 holding their full keys.
	access    map[uint64]*accessStat
	maxAccess int

	evictions int64
}

// NewLocal creates the L1 tier with the given capacity (entry count).
func NewLocal(maxEntries int) *Local {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Local{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		tagIndex:   make(map[string]map[string]struct{}),
		access:     make(map[uint64]*accessStat),
		maxAccess:  maxEntries * 4,
	}
}

// Get returns the entry for key if present and not expired, crediting
// costSaved and the access bookkeeping to the entry while the lock is held
// so concurrent hits on one key never race. An expired entry reads as a
// miss but stays resident (without refreshing its LRU position) so Peek can
// still serve it stale; it leaves via overwrite or eviction.
func (l *Local) Get(key string, now time.Time, costSaved float64) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if entry.Expired(now) {
		return nil, false
	}
	entry.Touch(now, costSaved)
	l.lru.MoveToFront(elem)
	return entry, true
}

// Set inserts or replaces the entry, evicting the least-recently-accessed
// entry when at capacity.
func (l *Local) Set(entry *Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.entries[entry.Key]; ok {
		l.unindexLocked(elem.Value.(*Entry))
		elem.Value = entry
		l.lru.MoveToFront(elem)
		l.indexLocked(entry)
		return
	}

	if l.lru.Len() >= l.maxEntries {
		l.evictOldestLocked()
	}

	elem := l.lru.PushFront(entry)
	l.entries[entry.Key] = elem
	l.indexLocked(entry)
}

// Delete removes key from L1. Returns true if the key was present.
func (l *Local) Delete(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.entries[key]
	if !ok {
		return false
	}
	l.removeLocked(key, elem)
	return true
}

// DeleteByTag removes every entry carrying tag and returns how many were
// removed. Cost is proportional to the tagged-key count, not the cache size.
func (l *Local) DeleteByTag(tag string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, ok := l.tagIndex[tag]
	if !ok {
		return 0
	}
	n := 0
	for key := range keys {
		if elem, present := l.entries[key]; present {
			l.removeLocked(key, elem)
			n++
		}
	}
	// removeLocked unindexes each entry; the tag bucket is gone once its
	// last key is removed.
	return n
}

// RecordAccess notes a read of key and reports whether the key is currently
// "frequently accessed" (reads within the trailing window above threshold).
func (l *Local) RecordAccess(key string, now time.Time, threshold int) bool {
	fp := xxhash.Sum64String(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	stat, ok := l.access[fp]
	if !ok || now.Sub(stat.windowStart) > accessWindow {
		if !ok && len(l.access) >= l.maxAccess {
			// Tracker full: drop all stale windows rather than grow unbounded.
			for k, s := range l.access {
				if now.Sub(s.windowStart) > accessWindow {
					delete(l.access, k)
				}
			}
		}
		stat = &accessStat{windowStart: now}
		l.access[fp] = stat
	}
	stat.count++
	return stat.count > threshold
}

// Frequent reports whether key's read rate in the current window exceeds
// threshold, without recording a read.
func (l *Local) Frequent(key string, now time.Time, threshold int) bool {
	fp := xxhash.Sum64String(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	stat, ok := l.access[fp]
	if !ok || now.Sub(stat.windowStart) > accessWindow {
		return false
	}
	return stat.count > threshold
}

// Peek returns the entry for key regardless of expiry and without touching
// LRU order or access stats. Used for stale-while-revalidate serving.
func (l *Local) Peek(key string) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Entry), true
}

// Len returns the number of entries currently in L1.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

// Evictions returns the number of capacity evictions since creation.
func (l *Local) Evictions() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evictions
}

// TagCount returns the number of live tag-index buckets. Used by tests to
// verify invalidation leaves no orphaned index entries.
func (l *Local) TagCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tagIndex)
}

func (l *Local) evictOldestLocked() {
	elem := l.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*Entry)
	l.removeLocked(entry.Key, elem)
	l.evictions++
}

func (l *Local) removeLocked(key string, elem *list.Element) {
	l.lru.Remove(elem)
	delete(l.entries, key)
	l.unindexLocked(elem.Value.(*Entry))
}

func (l *Local) indexLocked(entry *Entry) {
	for _, tag := range entry.Tags {
		bucket, ok := l.tagIndex[tag]
		if !ok {
			bucket = make(map[string]struct{})
			l.tagIndex[tag] = bucket
		}
		bucket[entry.Key] = struct{}{}
	}
}

func (l *Local) unindexLocked(entry *Entry) {
	for _, tag := range entry.Tags {
		bucket, ok := l.tagIndex[tag]
		if !ok {
			continue
		}
		delete(bucket, entry.Key)
		if len(bucket) == 0 {
			delete(l.tagIndex, tag)
		}
	}
}
