package querygrid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
)

// CacheConfig configures the result caching layer.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	MaxEntries  int           `yaml:"max_entries" json:"max_entries"`
	DefaultTTL  time.Duration `yaml:"default_ttl" json:"default_ttl"`
	Compression bool          `yaml:"compression" json:"compression"`
}

// DefaultCacheConfig returns sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:     true,
		MaxEntries:  1000,
		DefaultTTL:  5 * time.Minute,
		Compression: true,
	}
}

// cacheEntry is one cached normalized result. The payload is the
// JSON-encoded table, snappy-compressed when compression is on.
type cacheEntry struct {
	key        string
	query      string
	payload    []byte
	compressed bool
	rowCount   int
	createdAt  time.Time
	expiresAt  time.Time
}

// CacheStats contains cache counters.
type CacheStats struct {
	Entries   int     `json:"entries"`
	Bytes     int64   `json:"bytes"`
	HitCount  int64   `json:"hit_count"`
	MissCount int64   `json:"miss_count"`
	HitRate   float64 `json:"hit_rate"`
	Evictions int64   `json:"evictions"`
}

// ResultCache is an LRU cache of normalized query results, keyed by a
// content-addressed hash of the query text. Entries hold compressed payloads
// so a page of large results stays cheap to keep around between renders.
type ResultCache struct {
	config CacheConfig

	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string // least recently used first
	bytes   int64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewResultCache creates a result cache.
func NewResultCache(config CacheConfig) *ResultCache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	return &ResultCache{
		config:  config,
		entries: make(map[string]*cacheEntry),
	}
}

// cacheKey derives a content-addressed key for a query string.
func cacheKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached table for a query, if present and unexpired.
func (c *ResultCache) Get(query string) (NormalizedTable, bool) {
	if !c.config.Enabled {
		return EmptyTable(), false
	}
	key := cacheKey(query)

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.removeLocked(key)
		ok = false
	}
	var payload []byte
	var compressed bool
	if ok {
		c.touchLocked(key)
		payload = entry.payload
		compressed = entry.compressed
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return EmptyTable(), false
	}

	if compressed {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			c.Invalidate(query)
			c.misses.Add(1)
			return EmptyTable(), false
		}
		payload = decoded
	}
	var table NormalizedTable
	if err := json.Unmarshal(payload, &table); err != nil {
		c.Invalidate(query)
		c.misses.Add(1)
		return EmptyTable(), false
	}
	c.hits.Add(1)
	return table, true
}

// Put stores a normalized result for a query.
func (c *ResultCache) Put(query string, table NormalizedTable) {
	if !c.config.Enabled {
		return
	}
	payload, err := json.Marshal(table)
	if err != nil {
		return
	}
	compressed := false
	if c.config.Compression {
		payload = snappy.Encode(nil, payload)
		compressed = true
	}

	key := cacheKey(query)
	entry := &cacheEntry{
		key:        key,
		query:      query,
		payload:    payload,
		compressed: compressed,
		rowCount:   table.RowCount(),
		createdAt:  time.Now(),
	}
	if c.config.DefaultTTL > 0 {
		entry.expiresAt = entry.createdAt.Add(c.config.DefaultTTL)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.removeLocked(key)
	}
	for len(c.entries) >= c.config.MaxEntries && len(c.order) > 0 {
		c.removeLocked(c.order[0])
		c.evictions.Add(1)
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
	c.bytes += int64(len(entry.payload))
}

// Invalidate drops the cached result for a query.
func (c *ResultCache) Invalidate(query string) {
	c.mu.Lock()
	c.removeLocked(cacheKey(query))
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.order = nil
	c.bytes = 0
	c.mu.Unlock()
}

// Stats returns current cache counters.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	bytes := c.bytes
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return CacheStats{
		Entries:   entries,
		Bytes:     bytes,
		HitCount:  hits,
		MissCount: misses,
		HitRate:   rate,
		Evictions: c.evictions.Load(),
	}
}

// removeLocked deletes an entry and its order slot. Caller holds mu.
func (c *ResultCache) removeLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.bytes -= int64(len(entry.payload))
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// touchLocked moves a key to the most-recently-used position. Caller holds mu.
func (c *ResultCache) touchLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(append(c.order[:i], c.order[i+1:]...), key)
			return
		}
	}
}
