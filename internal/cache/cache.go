package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config holds cache configuration.
type Config struct {
	MaxEntries     int                      // LRU cap (default: 10000)
	StaleRetention time.Duration            // Grace window for expired entries (default: 5m)
	Classes        map[string]time.Duration // cache_class -> TTL; 0 disables caching
	DefaultTTL     time.Duration            // TTL for classes missing from Classes
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:     10000,
		StaleRetention: 5 * time.Minute,
		Classes: map[string]time.Duration{
			"ticker":      5 * time.Second,
			"symbol-list": 10 * time.Minute,
			"candles":     30 * time.Second,
			"account":     0,
		},
		DefaultTTL: 0,
	}
}

// Entry is a snapshot of a cached response.
type Entry struct {
	Fingerprint string
	Payload     []byte
	StoredAt    time.Time
	TTL         time.Duration
	InFlight    bool
}

// Age returns how long ago the entry was stored.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Fresh reports whether the entry is within its TTL at now.
func (e Entry) Fresh(now time.Time) bool {
	return !now.After(e.StoredAt.Add(e.TTL))
}

// Stats contains cache statistics.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	StaleHits int64 `json:"stale_hits"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	InFlight  int   `json:"in_flight"`
}

type entry struct {
	payload  []byte
	storedAt time.Time
	lastRead time.Time
	ttl      time.Duration
}

func (e *entry) expiresAt() time.Time {
	return e.storedAt.Add(e.ttl)
}

// dropAt is when an expired entry stops being worth keeping.
func (e *entry) dropAt(grace time.Duration) time.Time {
	t := e.expiresAt()
	if e.lastRead.After(t) {
		t = e.lastRead
	}
	return t.Add(grace)
}

// Cache is a TTL + LRU response cache with a single-flight table.
type Cache struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	flights map[string]*Flight

	hits      int64
	misses    int64
	staleHits int64
	evictions int64
}

// New creates a new Cache. A nil clock uses the wall clock.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.StaleRetention < 0 {
		cfg.StaleRetention = 0
	}

	c := &Cache{
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		flights: make(map[string]*Flight),
	}

	// Only fails for a non-positive size, which is ruled out above.
	c.entries, _ = lru.NewWithEvict[string, *entry](cfg.MaxEntries, func(string, *entry) {
		c.evictions++
	})

	return c
}

// TTL returns the TTL configured for a cache class.
func (c *Cache) TTL(class string) time.Duration {
	if ttl, ok := c.cfg.Classes[class]; ok {
		return ttl
	}
	return c.cfg.DefaultTTL
}

// Get returns the entry for fp if it is still fresh. Expired entries count
// as a miss and are dropped once past their grace window.
func (c *Cache) Get(fp string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	e, ok := c.entries.Get(fp)
	if !ok {
		c.misses++
		return Entry{}, false
	}

	if now.After(e.expiresAt()) {
		c.misses++
		if now.After(e.dropAt(c.cfg.StaleRetention)) {
			c.entries.Remove(fp)
		} else {
			e.lastRead = now
		}
		return Entry{}, false
	}

	e.lastRead = now
	c.hits++
	return c.snapshotLocked(fp, e), true
}

// Lookup returns the entry for fp regardless of freshness, as long as it is
// still retained. Reading an expired entry renews its grace window.
func (c *Cache) Lookup(fp string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	e, ok := c.entries.Get(fp)
	if !ok {
		return Entry{}, false
	}
	if now.After(e.dropAt(c.cfg.StaleRetention)) {
		c.entries.Remove(fp)
		return Entry{}, false
	}
	if now.After(e.expiresAt()) {
		c.staleHits++
	}
	e.lastRead = now
	return c.snapshotLocked(fp, e), true
}

// Put stores payload under fp. A non-positive ttl stores nothing.
func (c *Cache) Put(fp string, payload []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(fp, payload, ttl)
}

func (c *Cache) putLocked(fp string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.clock.Now()
	c.entries.Add(fp, &entry{
		payload:  payload,
		storedAt: now,
		lastRead: now,
		ttl:      ttl,
	})
}

// Sweep drops every entry past its grace window and returns how many were
// removed. Correctness does not depend on it; it bounds memory between reads.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for _, fp := range c.entries.Keys() {
		e, ok := c.entries.Peek(fp)
		if !ok {
			continue
		}
		if now.After(e.dropAt(c.cfg.StaleRetention)) {
			c.entries.Remove(fp)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("cache sweep", "removed", removed, "remaining", c.entries.Len())
	}
	return removed
}

// Len returns the number of retained entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		StaleHits: c.staleHits,
		Evictions: c.evictions,
		Entries:   c.entries.Len(),
		InFlight:  len(c.flights),
	}
}

func (c *Cache) snapshotLocked(fp string, e *entry) Entry {
	_, inFlight := c.flights[fp]
	return Entry{
		Fingerprint: fp,
		Payload:     e.payload,
		StoredAt:    e.storedAt,
		TTL:         e.ttl,
		InFlight:    inFlight,
	}
}
