package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	cfotel "github.com/Strob0t/argus/internal/adapter/otel"
	"github.com/Strob0t/argus/internal/domain"
	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/port/cache"
)

// CacheEntry is one cached response and its access metadata. Only the hit
// metadata changes after insertion; a new Store replaces the whole entry.
type CacheEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Response    *agent.Response `json:"response"`
	CreatedAt   time.Time       `json:"created_at"`
	LastAccess  time.Time       `json:"-"`
	Hits        int             `json:"-"`
}

// Scorer rates how relevant a cached entry is to a lookup, in [0, 1].
type Scorer interface {
	Relevance(fingerprint string, entry *CacheEntry, now time.Time) float64
}

// RecencyScorer matches fingerprints exactly and decays relevance with the
// entry's age, halving every HalfLife. A zero HalfLife disables decay.
type RecencyScorer struct {
	HalfLife time.Duration
}

// Relevance implements Scorer.
func (s RecencyScorer) Relevance(fingerprint string, e *CacheEntry, now time.Time) float64 {
	if e.Fingerprint != fingerprint {
		return 0
	}
	if s.HalfLife <= 0 {
		return 1
	}
	age := now.Sub(e.CreatedAt)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Seconds()/s.HalfLife.Seconds())
}

// ResponseCacheConfig configures a ResponseCache.
type ResponseCacheConfig struct {
	TTL          time.Duration
	MaxEntries   int
	HalfLife     time.Duration
	MinRelevance float64
	// Scorer replaces the default RecencyScorer. A custom scorer also enables
	// approximate matching: entries under other fingerprints are considered.
	Scorer Scorer
	// Backend is an optional shared store consulted on a local miss.
	Backend cache.Cache
}

// CacheStats is a snapshot of response cache counters.
type CacheStats struct {
	Entries       int   `json:"entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	Expirations   int64 `json:"expirations"`
	BackendErrors int64 `json:"backend_errors"`
}

// ResponseCache stores agent responses by request fingerprint with lazy TTL
// expiry and LRU eviction that prefers expired entries.
type ResponseCache struct {
	mu           sync.Mutex
	lru          *simplelru.LRU[string, *CacheEntry]
	ttl          time.Duration
	maxEntries   int
	minRelevance float64
	scorer       Scorer
	approximate  bool
	backend      cache.Cache
	stats        CacheStats
	metrics      *cfotel.Metrics
	now          func() time.Time
}

// NewResponseCache creates a response cache.
func NewResponseCache(cfg ResponseCacheConfig) *ResponseCache {
	if cfg.MaxEntries < 1 {
		cfg.MaxEntries = 1
	}
	lru, _ := simplelru.NewLRU[string, *CacheEntry](cfg.MaxEntries, nil) // only fails for size <= 0
	c := &ResponseCache{
		lru:          lru,
		ttl:          cfg.TTL,
		maxEntries:   cfg.MaxEntries,
		minRelevance: cfg.MinRelevance,
		scorer:       cfg.Scorer,
		approximate:  cfg.Scorer != nil,
		backend:      cfg.Backend,
		now:          time.Now,
	}
	if c.scorer == nil {
		c.scorer = RecencyScorer{HalfLife: cfg.HalfLife}
	}
	return c
}

// SetMetrics attaches OTEL metric instruments.
func (c *ResponseCache) SetMetrics(m *cfotel.Metrics) {
	c.metrics = m
}

// Lookup returns the cached response for fingerprint when a relevant,
// unexpired entry exists. Backend failures degrade to a miss.
func (c *ResponseCache) Lookup(ctx context.Context, fingerprint string) (*agent.Response, bool) {
	now := c.now()

	c.mu.Lock()
	if resp, ok := c.lookupLocal(fingerprint, now); ok {
		c.stats.Hits++
		c.mu.Unlock()
		c.count(ctx, true)
		return resp, true
	}
	c.mu.Unlock()

	if c.backend != nil {
		if e, ok := c.fetch(ctx, fingerprint, now); ok {
			c.mu.Lock()
			c.insert(e, now)
			c.stats.Hits++
			c.mu.Unlock()
			c.count(ctx, true)
			return e.Response, true
		}
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	c.count(ctx, false)
	return nil, false
}

// Recent checks only the local tier and leaves the hit and miss counters
// alone. The gateway uses it to re-check after a miss without another
// backend round trip.
func (c *ResponseCache) Recent(fingerprint string) (*agent.Response, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocal(fingerprint, now)
}

// Store inserts or replaces the entry for fingerprint and writes it through
// to the backend.
func (c *ResponseCache) Store(ctx context.Context, fingerprint string, resp *agent.Response) {
	now := c.now()
	e := &CacheEntry{Fingerprint: fingerprint, Response: resp, CreatedAt: now, LastAccess: now}

	c.mu.Lock()
	c.insert(e, now)
	c.mu.Unlock()

	if c.backend == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("encode cache entry", "fingerprint", fingerprint, "error", err)
		return
	}
	if err := c.backend.Set(ctx, fingerprint, data, c.ttl); err != nil {
		c.backendFailed(ctx, "set", fingerprint, err)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	return s
}

// lookupLocal must be called with c.mu held.
func (c *ResponseCache) lookupLocal(fingerprint string, now time.Time) (*agent.Response, bool) {
	if e, ok := c.lru.Peek(fingerprint); ok {
		if c.expired(e, now) {
			c.lru.Remove(fingerprint)
			c.stats.Expirations++
		} else if c.scorer.Relevance(fingerprint, e, now) >= c.minRelevance {
			return c.touch(e, now), true
		}
	}
	if !c.approximate {
		return nil, false
	}

	var best *CacheEntry
	bestScore := -1.0
	for _, k := range c.lru.Keys() {
		e, _ := c.lru.Peek(k)
		if e == nil || c.expired(e, now) {
			continue
		}
		if r := c.scorer.Relevance(fingerprint, e, now); r >= c.minRelevance && r > bestScore {
			best, bestScore = e, r
		}
	}
	if best == nil {
		return nil, false
	}
	return c.touch(best, now), true
}

// touch must be called with c.mu held.
func (c *ResponseCache) touch(e *CacheEntry, now time.Time) *agent.Response {
	c.lru.Get(e.Fingerprint)
	e.LastAccess = now
	e.Hits++
	return e.Response
}

// insert must be called with c.mu held.
func (c *ResponseCache) insert(e *CacheEntry, now time.Time) {
	if !c.lru.Contains(e.Fingerprint) && c.lru.Len() >= c.maxEntries {
		c.evictOne(now)
	}
	c.lru.Add(e.Fingerprint, e)
}

// evictOne removes the least recently used expired entry, or the least
// recently used entry when none has expired. Must be called with c.mu held.
func (c *ResponseCache) evictOne(now time.Time) {
	for _, k := range c.lru.Keys() { // oldest first
		if e, ok := c.lru.Peek(k); ok && c.expired(e, now) {
			c.lru.Remove(k)
			c.stats.Evictions++
			return
		}
	}
	if _, _, ok := c.lru.RemoveOldest(); ok {
		c.stats.Evictions++
	}
}

func (c *ResponseCache) expired(e *CacheEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.CreatedAt) >= c.ttl
}

func (c *ResponseCache) fetch(ctx context.Context, fingerprint string, now time.Time) (*CacheEntry, bool) {
	data, found, err := c.backend.Get(ctx, fingerprint)
	if err != nil {
		c.backendFailed(ctx, "get", fingerprint, err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var e CacheEntry
	if err := json.Unmarshal(data, &e); err != nil || e.Response == nil {
		slog.Warn("discard undecodable cache entry", "fingerprint", fingerprint, "error", err)
		return nil, false
	}
	e.Fingerprint = fingerprint
	e.LastAccess = now
	if c.expired(&e, now) || c.scorer.Relevance(fingerprint, &e, now) < c.minRelevance {
		return nil, false
	}
	e.Hits = 1
	return &e, true
}

func (c *ResponseCache) backendFailed(ctx context.Context, op, fingerprint string, err error) {
	err = fmt.Errorf("%w: %s: %w", domain.ErrCacheUnavailable, op, err)
	slog.Warn("response cache backend failed", "fingerprint", fingerprint, "error", err)
	c.mu.Lock()
	c.stats.BackendErrors++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheBackendErrors.Add(ctx, 1)
	}
}

func (c *ResponseCache) count(ctx context.Context, hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHits.Add(ctx, 1)
	} else {
		c.metrics.CacheMisses.Add(ctx, 1)
	}
}
