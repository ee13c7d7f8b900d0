package ports

import (
	"context"

	"github.com/xoelrdgz/authradar/internal/domain"
)

// GeoProvider performs one external geolocation lookup.
//
// Thread Safety: Implementations MUST be safe for concurrent Lookup calls.
type GeoProvider interface {
	// Lookup resolves ip against the external service.
	//
	// Parameters:
	//   - ctx: Context for cancellation; the provider applies its own timeout
	//   - ip: Textual IP address
	//
	// Returns:
	//   - GeoRecord on a positive response
	//   - Error on transport failure, timeout, non-success status or
	//     malformed response
	Lookup(ctx context.Context, ip string) (domain.GeoRecord, error)

	// Name returns the provider identifier for logging.
	Name() string
}

// GeoStore persists the whole geolocation cache table.
//
// Implementations:
//   - JSONStore: single JSON file replaced atomically
//   - BoltStore: bbolt database file
type GeoStore interface {
	// Load reads the full table. A corrupt store returns an error and the
	// caller starts from an empty table.
	Load() (map[string]domain.CacheEntry, error)

	// Save replaces the persisted table with entries. Concurrent readers
	// never observe a partial table.
	Save(entries map[string]domain.CacheEntry) error

	// Location returns the backing path.
	Location() string

	// Size returns the backing store size in bytes.
	Size() (int64, error)

	// Backend returns the store type name ("json", "bolt").
	Backend() string
}

// GeoResolver turns IPs into enrichment records.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (domain.Resolution, error)
	ResolveBatch(ctx context.Context, ips []string) (map[string]domain.Resolution, error)
}
