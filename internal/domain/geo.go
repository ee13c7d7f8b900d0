package domain

import (
	"time"
)

const UnknownValue = "Unknown"

// GeoRecord is the enrichment attached to an IP. Lat and Lon are nil when
// no location is known.
type GeoRecord struct {
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	City        string   `json:"city"`
	Country     string   `json:"country"`
	CountryCode string   `json:"country_code"`
	Org         string   `json:"org"`
	ISP         string   `json:"isp"`
	AS          string   `json:"as"`
}

func UnknownGeo() GeoRecord {
	return GeoRecord{
		City:        UnknownValue,
		Country:     UnknownValue,
		CountryCode: UnknownValue,
		Org:         UnknownValue,
		ISP:         UnknownValue,
		AS:          UnknownValue,
	}
}

// LocalGeo is returned for private, loopback and link-local addresses.
func LocalGeo() GeoRecord {
	return GeoRecord{
		City:        "Local Network",
		Country:     "Local",
		CountryCode: UnknownValue,
		Org:         "Local Network",
		ISP:         UnknownValue,
		AS:          UnknownValue,
	}
}

// HasCoordinates reports whether the record carries a usable location.
// A (0, 0) pair is treated the same as missing coordinates.
func (g GeoRecord) HasCoordinates() bool {
	if g.Lat == nil || g.Lon == nil {
		return false
	}
	return *g.Lat != 0 || *g.Lon != 0
}

func (g GeoRecord) IsUnknown() bool {
	return !g.HasCoordinates() && g.Country == UnknownValue
}

type GeoOutcome string

const (
	GeoCached       GeoOutcome = "cached"
	GeoResolved     GeoOutcome = "resolved"
	GeoLocal        GeoOutcome = "local"
	GeoRateLimited  GeoOutcome = "rate_limited"
	GeoLookupFailed GeoOutcome = "lookup_failed"
)

// Resolution is the result of resolving one IP. Degraded outcomes carry the
// unknown record and, for failed lookups, the cause.
type Resolution struct {
	IP      string
	Geo     GeoRecord
	Outcome GeoOutcome
	Err     error
}

// Degraded reports whether Geo is a substitute rather than real data.
func (r Resolution) Degraded() bool {
	switch r.Outcome {
	case GeoRateLimited, GeoLookupFailed:
		return true
	case GeoCached:
		return r.Geo.IsUnknown()
	}
	return false
}

func Float(v float64) *float64 {
	return &v
}

// CacheEntry is the persisted form of one cached lookup.
type CacheEntry struct {
	Geo      GeoRecord `json:"data"`
	CachedAt float64   `json:"cached_at"`
}

func NewCacheEntry(geo GeoRecord, at time.Time) CacheEntry {
	return CacheEntry{Geo: geo, CachedAt: float64(at.UnixNano()) / float64(time.Second)}
}

func (e CacheEntry) CachedTime() time.Time {
	sec := int64(e.CachedAt)
	nsec := int64((e.CachedAt - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Age reports how long ago the entry was written.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedTime())
}

type CacheStats struct {
	TotalEntries int    `json:"total_entries"`
	CacheFile    string `json:"cache_file"`
	SizeBytes    int64  `json:"size_bytes"`
	Backend      string `json:"backend"`
}
