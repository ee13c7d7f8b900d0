package geo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

const DefaultExpiry = 30 * 24 * time.Hour

// Cache maps IPs to geolocation records with a TTL. Reads evict stale
// entries; writes go through to the backing store before returning.
//
// Thread Safety: table access is serialised by mu. Saves are serialised by
// saveMu and always write a snapshot taken after acquiring it, so a later
// save never loses an earlier write.
type Cache struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	version uint64

	saveMu       sync.Mutex
	savedVersion uint64

	store      ports.GeoStore
	expiry     time.Duration
	now        func() time.Time
	observer   ports.GeoObserver
	saveErrors atomic.Int64
}

type CacheOption func(*Cache)

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithObserver(o ports.GeoObserver) CacheOption {
	return func(c *Cache) {
		c.observer = o
	}
}

// NewCache loads the table from store. An unreadable or corrupt store
// yields an empty cache.
func NewCache(store ports.GeoStore, expiry time.Duration, opts ...CacheOption) *Cache {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	c := &Cache{
		store:  store,
		expiry: expiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	entries, err := store.Load()
	if err != nil {
		log.Warn().Err(err).Str("cache_file", store.Location()).Msg("Geo cache unreadable, starting empty")
		entries = nil
	}
	if entries == nil {
		entries = make(map[string]domain.CacheEntry)
	}
	c.entries = entries

	log.Debug().
		Int("entries", len(entries)).
		Str("backend", store.Backend()).
		Str("cache_file", store.Location()).
		Msg("Geo cache loaded")

	c.reportSize(len(entries))
	return c
}

func (c *Cache) expired(e domain.CacheEntry, now time.Time) bool {
	return e.Age(now) > c.expiry
}

// Get returns the record for ip. Entries older than the expiry are removed
// and reported as a miss.
func (c *Cache) Get(ip string) (domain.GeoRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ip]
	if !ok {
		return domain.GeoRecord{}, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, ip)
		c.version++
		return domain.GeoRecord{}, false
	}
	return e.Geo, true
}

// Set stores geo for ip and persists the table. A save failure is logged
// and returned; the in-memory entry stays authoritative either way.
func (c *Cache) Set(ip string, geo domain.GeoRecord) error {
	c.mu.Lock()
	c.entries[ip] = domain.NewCacheEntry(geo, c.now())
	c.version++
	c.mu.Unlock()

	return c.persist()
}

// SetBatch stores every record with one timestamp and persists once.
func (c *Cache) SetBatch(records map[string]domain.GeoRecord) error {
	if len(records) == 0 {
		return nil
	}

	c.mu.Lock()
	now := c.now()
	for ip, geo := range records {
		c.entries[ip] = domain.NewCacheEntry(geo, now)
	}
	c.version++
	c.mu.Unlock()

	return c.persist()
}

// CleanupExpired removes every stale entry and returns how many were removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for ip, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, ip)
			removed++
		}
	}
	if removed > 0 {
		c.version++
	}
	c.mu.Unlock()

	if removed > 0 {
		_ = c.persist()
		log.Info().Int("removed", removed).Msg("Cleaned up expired geo cache entries")
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Stats() domain.CacheStats {
	size, err := c.store.Size()
	if err != nil {
		log.Debug().Err(err).Msg("Cannot stat geo cache store")
	}
	return domain.CacheStats{
		TotalEntries: c.Len(),
		CacheFile:    c.store.Location(),
		SizeBytes:    size,
		Backend:      c.store.Backend(),
	}
}

// SaveErrors returns how many saves have failed since start.
func (c *Cache) SaveErrors() int64 {
	return c.saveErrors.Load()
}

// Expiry returns the configured TTL.
func (c *Cache) Expiry() time.Duration {
	return c.expiry
}

func (c *Cache) persist() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if c.version == c.savedVersion {
		c.mu.Unlock()
		return nil
	}
	version := c.version
	snapshot := make(map[string]domain.CacheEntry, len(c.entries))
	for ip, e := range c.entries {
		snapshot[ip] = e
	}
	c.mu.Unlock()

	c.reportSize(len(snapshot))

	if err := c.store.Save(snapshot); err != nil {
		c.saveErrors.Add(1)
		if c.observer != nil {
			c.observer.IncrementCacheSaveErrors()
		}
		log.Error().Err(err).Str("cache_file", c.store.Location()).Msg("Failed to save geo cache")
		return err
	}
	c.savedVersion = version
	return nil
}

func (c *Cache) reportSize(n int) {
	if c.observer != nil {
		c.observer.ObserveCacheSize(n)
	}
}
