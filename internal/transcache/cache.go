// Package transcache remembers translations per (text, source, target) for a
// bounded time so each triple reaches the translator at most once per
// lifetime. The whole cache is persisted as a single durable record.
package transcache

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Jason198341/seatcon-sub001/internal/localstore"
	"github.com/Jason198341/seatcon-sub001/internal/metrics"
	"github.com/Jason198341/seatcon-sub001/internal/securelog"
)

// RecordKey is the durable record owned by the cache.
const RecordKey = "translation_cache"

const DefaultTTL = 24 * time.Hour

type entry struct {
	Translation string `json:"translation"`
	// Timestamp is unix milliseconds at Put time.
	Timestamp int64 `json:"timestamp"`
}

type Options struct {
	TTL time.Duration
	// MaxEntries caps the cache size; zero means unbounded.
	MaxEntries int
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type Cache struct {
	mu      sync.Mutex
	store   localstore.Store
	entries map[string]entry

	ttl     time.Duration
	max     int
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New loads the cache record from store and drops anything already expired.
// A missing or unreadable record starts an empty cache.
func New(store localstore.Store, opts Options) *Cache {
	c := &Cache{
		store:   store,
		entries: map[string]entry{},
		ttl:     opts.TTL,
		max:     opts.MaxEntries,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("transcache")
	c.load()
	if removed := c.SweepExpired(); removed > 0 {
		c.logger.Debug("dropped expired translations on load", zap.Int("removed", removed))
	}
	return c
}

func cacheKey(text, source, target string) string {
	return source + ":" + target + ":" + text
}

func (c *Cache) load() {
	raw, err := c.store.Get(RecordKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return
	}
	if err != nil {
		c.logger.Warn("translation cache unreadable", securelog.Err(err))
		return
	}
	loaded := map[string]entry{}
	if err := json.Unmarshal(raw, &loaded); err != nil {
		c.logger.Warn("translation cache corrupt, starting empty", securelog.Err(err))
		return
	}
	c.entries = loaded
}

func (c *Cache) fresh(e entry, now time.Time) bool {
	return now.Sub(time.UnixMilli(e.Timestamp)) < c.ttl
}

// Get returns the cached translation if one is present and younger than the
// TTL. A miss has no side effects.
func (c *Cache) Get(text, source, target string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(text, source, target)]
	if !ok || !c.fresh(e, c.now()) {
		c.metrics.CacheMiss()
		return "", false
	}
	c.metrics.CacheHit()
	return e.Translation, true
}

// Put stores a translation and persists the whole cache. When the durable
// store is full the cache sweeps expired entries and retries once; if that
// also fails the new entry is dropped.
func (c *Cache) Put(text, source, target, translated string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey(text, source, target)
	prev, hadPrev := c.entries[k]
	c.entries[k] = entry{Translation: translated, Timestamp: c.now().UnixMilli()}
	c.metrics.CacheEvicted(c.enforceCapLocked(k))

	err := c.persistLocked()
	if errors.Is(err, localstore.ErrQuota) {
		c.metrics.CacheEvicted(c.sweepLocked())
		err = c.persistLocked()
	}
	if err == nil {
		return
	}

	if hadPrev {
		c.entries[k] = prev
	} else {
		delete(c.entries, k)
	}
	c.metrics.CacheWriteDropped()
	c.logger.Warn("translation not cached", securelog.Err(err))
}

// SweepExpired removes entries older than the TTL and returns how many were
// removed. The durable record is rewritten when anything was removed.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.sweepLocked()
	c.metrics.CacheEvicted(removed)
	if removed > 0 {
		if err := c.persistLocked(); err != nil {
			c.logger.Warn("persist after sweep failed", securelog.Err(err))
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweepLocked() int {
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !c.fresh(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// enforceCapLocked evicts the oldest entries until the cache fits MaxEntries.
// The entry under keep was just written and counts as the newest regardless
// of timestamp ties.
func (c *Cache) enforceCapLocked(keep string) int {
	if c.max <= 0 || len(c.entries) <= c.max {
		return 0
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == keep || keys[j] == keep {
			return keys[j] == keep && keys[i] != keep
		}
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return keys[i] < keys[j]
	})
	excess := len(keys) - c.max
	for _, k := range keys[:excess] {
		delete(c.entries, k)
	}
	return excess
}

func (c *Cache) persistLocked() error {
	raw, err := json.Marshal(c.entries)
	if err != nil {
		return err
	}
	return c.store.Set(RecordKey, raw)
}
