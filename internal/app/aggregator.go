package app

import (
	"sort"
	"time"

	"github.com/xoelrdgz/authradar/internal/domain"
)

// AggregateOptions narrows the events considered by Aggregate. LastN is
// applied before Since.
type AggregateOptions struct {
	// LastN keeps only the N most recent events by timestamp (0 = all).
	LastN int

	// Since drops events older than this instant (zero = unbounded).
	Since time.Time
}

// Aggregate groups events by source IP.
//
// Output is sorted by count descending, then last_seen descending, then IP
// ascending, so identical input always produces identical order. Kinds are
// deduplicated and sorted; Samples hold up to MaxSamples timestamps,
// newest first.
func Aggregate(events []domain.Event, opts AggregateOptions) []domain.IncidentAggregate {
	events = selectEvents(events, opts)
	if len(events) == 0 {
		return []domain.IncidentAggregate{}
	}

	type group struct {
		agg   domain.IncidentAggregate
		kinds map[domain.EventKind]struct{}
		times []time.Time
	}

	groups := make(map[string]*group)
	for _, ev := range events {
		ip := ev.IPString()
		g, ok := groups[ip]
		if !ok {
			g = &group{
				agg:   domain.IncidentAggregate{IP: ip},
				kinds: make(map[domain.EventKind]struct{}, 2),
			}
			groups[ip] = g
		}
		g.agg.Count++
		g.kinds[ev.Kind] = struct{}{}
		if ev.Timestamp.After(g.agg.LastSeen) {
			g.agg.LastSeen = ev.Timestamp
		}
		g.times = append(g.times, ev.Timestamp)
	}

	out := make([]domain.IncidentAggregate, 0, len(groups))
	for _, g := range groups {
		kinds := make([]domain.EventKind, 0, len(g.kinds))
		for k := range g.kinds {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		g.agg.Kinds = kinds

		sort.Slice(g.times, func(i, j int) bool { return g.times[i].After(g.times[j]) })
		n := len(g.times)
		if n > domain.MaxSamples {
			n = domain.MaxSamples
		}
		g.agg.Samples = append([]time.Time(nil), g.times[:n]...)

		out = append(out, g.agg)
	}

	sortAggregates(out)
	return out
}

func sortAggregates(aggs []domain.IncidentAggregate) {
	sort.Slice(aggs, func(i, j int) bool {
		a, b := aggs[i], aggs[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.IP < b.IP
	})
}

// selectEvents applies LastN and Since without modifying the input.
func selectEvents(events []domain.Event, opts AggregateOptions) []domain.Event {
	if opts.LastN > 0 && opts.LastN < len(events) {
		sorted := make([]domain.Event, len(events))
		copy(sorted, events)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})
		events = sorted[len(sorted)-opts.LastN:]
	}

	if opts.Since.IsZero() {
		return events
	}

	kept := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		if !ev.Timestamp.Before(opts.Since) {
			kept = append(kept, ev)
		}
	}
	return kept
}
