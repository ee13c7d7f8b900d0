package ports

import (
	"github.com/xoelrdgz/authradar/internal/domain"
)

// ProcessingObserver defines the interface for observing live pipeline results.
// Used to track metrics for all processed lines, not just classified events.
type ProcessingObserver interface {
	// IncrementLinesProcessedByResult records the result of processing a line.
	//
	// Parameters:
	//   - result: The classification of the line ("event", "ignored")
	//
	// Thread Safety: Implementations MUST be safe for concurrent calls.
	IncrementLinesProcessedByResult(result string)

	// RecordEvent counts one published event by kind.
	RecordEvent(kind domain.EventKind)

	// AddDropped counts records discarded by slow subscribers.
	AddDropped(n int)
}

// GeoObserver records geolocation pipeline activity.
type GeoObserver interface {
	// ObserveResolution counts one resolve call by outcome.
	ObserveResolution(outcome domain.GeoOutcome)

	// ObserveLimiterWait records time spent waiting on the rate limiter.
	ObserveLimiterWait(seconds float64)

	// ObserveCacheSize reports the current number of cached entries.
	ObserveCacheSize(entries int)

	// IncrementCacheSaveErrors counts failed cache persistence attempts.
	IncrementCacheSaveErrors()
}
