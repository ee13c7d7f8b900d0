package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

var ErrInvalidInterval = errors.New("invalid timeline interval")

const (
	IntervalHour = "hour"
	IntervalDay  = "day"
)

type IncidentServiceConfig struct {
	DefaultLimit int // Listing size when the query sets none (default: 1000)
	MaxLimit     int // Hard cap on any listing (default: 5000)

	// StatsGeoLimit bounds how many of the busiest IPs are resolved for
	// the country breakdown in Stats (default: 100).
	StatsGeoLimit int
	TopCountries  int // default: 10
}

func DefaultIncidentServiceConfig() IncidentServiceConfig {
	return IncidentServiceConfig{
		DefaultLimit:  1000,
		MaxLimit:      5000,
		StatsGeoLimit: 100,
		TopCountries:  10,
	}
}

// IncidentService answers on-demand incident queries. Every call re-reads
// and re-classifies the static log; nothing is retained between calls
// except the geolocation cache behind the resolver.
type IncidentService struct {
	reader   ports.LogFileReader
	pool     *ClassifyPool
	resolver ports.GeoResolver
	config   IncidentServiceConfig
	now      func() time.Time
}

func NewIncidentService(reader ports.LogFileReader, pool *ClassifyPool, resolver ports.GeoResolver, config IncidentServiceConfig) *IncidentService {
	def := DefaultIncidentServiceConfig()
	if config.MaxLimit <= 0 {
		config.MaxLimit = def.MaxLimit
	}
	if config.DefaultLimit <= 0 || config.DefaultLimit > config.MaxLimit {
		config.DefaultLimit = min(def.DefaultLimit, config.MaxLimit)
	}
	if config.StatsGeoLimit <= 0 {
		config.StatsGeoLimit = def.StatsGeoLimit
	}
	if config.TopCountries <= 0 {
		config.TopCountries = def.TopCountries
	}
	return &IncidentService{
		reader:   reader,
		pool:     pool,
		resolver: resolver,
		config:   config,
		now:      time.Now,
	}
}

// SetClock replaces the clock used for window cutoffs.
func (s *IncidentService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *IncidentService) events(ctx context.Context) ([]domain.Event, error) {
	lines, err := s.reader.ReadLines(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.pool.Classify(ctx, lines)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("lines", len(lines)).Int("events", len(events)).Msg("Auth log classified")
	return events, nil
}

func (s *IncidentService) limit(n int) int {
	if n <= 0 {
		return s.config.DefaultLimit
	}
	return min(n, s.config.MaxLimit)
}

// Query aggregates the log, filters and enriches the result.
//
// Kind filtering happens per event, before aggregation. IPContains is a
// substring match on the aggregate IP. With LocatedOnly, aggregates are
// enriched page by page until Limit located incidents are found.
func (s *IncidentService) Query(ctx context.Context, q domain.IncidentQuery) ([]domain.EnrichedIncident, error) {
	events, err := s.events(ctx)
	if err != nil {
		return nil, err
	}
	if len(q.Kinds) > 0 {
		events = filterKinds(events, q.Kinds)
	}

	aggs := Aggregate(events, AggregateOptions{
		LastN: q.LastN,
		Since: q.Window.Cutoff(s.now()),
	})

	if q.IPContains != "" {
		needle := strings.TrimSpace(q.IPContains)
		kept := aggs[:0]
		for _, a := range aggs {
			if strings.Contains(a.IP, needle) {
				kept = append(kept, a)
			}
		}
		aggs = kept
	}

	limit := s.limit(q.Limit)
	if !q.LocatedOnly {
		if len(aggs) > limit {
			aggs = aggs[:limit]
		}
		return s.enrich(ctx, aggs)
	}

	out := make([]domain.EnrichedIncident, 0, min(limit, len(aggs)))
	for start := 0; start < len(aggs) && len(out) < limit; start += limit {
		page, err := s.enrich(ctx, aggs[start:min(start+limit, len(aggs))])
		if err != nil {
			return nil, err
		}
		for _, inc := range page {
			if inc.Geo.HasCoordinates() {
				out = append(out, inc)
				if len(out) == limit {
					break
				}
			}
		}
	}
	return out, nil
}

// Top returns the n most active IPs within window.
func (s *IncidentService) Top(ctx context.Context, window domain.TimeWindow, n int) ([]domain.EnrichedIncident, error) {
	return s.Query(ctx, domain.IncidentQuery{Window: window, Limit: n})
}

// Stats summarises the events within window. The country breakdown counts
// events of the StatsGeoLimit busiest IPs that resolved to a known country.
func (s *IncidentService) Stats(ctx context.Context, window domain.TimeWindow) (domain.IncidentStats, error) {
	events, err := s.events(ctx)
	if err != nil {
		return domain.IncidentStats{}, err
	}
	events = filterSince(events, window.Cutoff(s.now()))

	stats := domain.IncidentStats{
		Window:       window.String(),
		TotalEvents:  len(events),
		ByKind:       make(map[domain.EventKind]int, len(domain.EventKinds)),
		TopCountries: []domain.CountryCount{},
	}
	for _, k := range domain.EventKinds {
		stats.ByKind[k] = 0
	}
	if len(events) == 0 {
		return stats, nil
	}

	first, last := events[0].Timestamp, events[0].Timestamp
	for _, ev := range events {
		stats.ByKind[ev.Kind]++
		if ev.Timestamp.Before(first) {
			first = ev.Timestamp
		}
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	stats.FirstSeen, stats.LastSeen = &first, &last

	aggs := Aggregate(events, AggregateOptions{})
	stats.UniqueIPs = len(aggs)
	if len(aggs) > s.config.StatsGeoLimit {
		aggs = aggs[:s.config.StatsGeoLimit]
	}

	enriched, err := s.enrich(ctx, aggs)
	if err != nil {
		return domain.IncidentStats{}, err
	}
	stats.TopCountries = topCountries(enriched, s.config.TopCountries)
	return stats, nil
}

// Timeline buckets events within window by hour or day (UTC), oldest first.
// Empty buckets are omitted.
func (s *IncidentService) Timeline(ctx context.Context, window domain.TimeWindow, interval string) ([]domain.TimelineBucket, error) {
	var step time.Duration
	switch interval {
	case IntervalHour, "":
		step = time.Hour
	case IntervalDay:
		step = 24 * time.Hour
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}

	events, err := s.events(ctx)
	if err != nil {
		return nil, err
	}
	events = filterSince(events, window.Cutoff(s.now()))

	buckets := make(map[time.Time]*domain.TimelineBucket)
	for _, ev := range events {
		start := ev.Timestamp.UTC().Truncate(step)
		b, ok := buckets[start]
		if !ok {
			b = &domain.TimelineBucket{Start: start, ByKind: make(map[domain.EventKind]int)}
			buckets[start] = b
		}
		b.Total++
		b.ByKind[ev.Kind]++
	}

	out := make([]domain.TimelineBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *IncidentService) enrich(ctx context.Context, aggs []domain.IncidentAggregate) ([]domain.EnrichedIncident, error) {
	out := make([]domain.EnrichedIncident, 0, len(aggs))
	if len(aggs) == 0 {
		return out, nil
	}

	ips := make([]string, len(aggs))
	for i, a := range aggs {
		ips[i] = a.IP
	}
	resolved, err := s.resolver.ResolveBatch(ctx, ips)
	if err != nil {
		return nil, fmt.Errorf("enrich incidents: %w", err)
	}

	for _, a := range aggs {
		inc := domain.EnrichedIncident{IncidentAggregate: a, Geo: domain.UnknownGeo()}
		if res, ok := resolved[a.IP]; ok {
			inc.Geo = res.Geo
			inc.Outcome = res.Outcome
		}
		out = append(out, inc)
	}
	return out, nil
}

func filterKinds(events []domain.Event, kinds []domain.EventKind) []domain.Event {
	want := make(map[domain.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		want[k] = struct{}{}
	}
	kept := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		if _, ok := want[ev.Kind]; ok {
			kept = append(kept, ev)
		}
	}
	return kept
}

func filterSince(events []domain.Event, cutoff time.Time) []domain.Event {
	return selectEvents(events, AggregateOptions{Since: cutoff})
}

func topCountries(incidents []domain.EnrichedIncident, n int) []domain.CountryCount {
	counts := make(map[string]int)
	for _, inc := range incidents {
		country := inc.Geo.Country
		if country == "" || country == domain.UnknownValue || inc.Outcome == domain.GeoLocal {
			continue
		}
		counts[country] += inc.Count
	}

	out := make([]domain.CountryCount, 0, len(counts))
	for country, count := range counts {
		out = append(out, domain.CountryCount{Country: country, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Country < out[j].Country
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
