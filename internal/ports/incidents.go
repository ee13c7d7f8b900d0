package ports

import (
	"context"

	"github.com/xoelrdgz/authradar/internal/domain"
)

// IncidentQuerier serves on-demand incident views to the transport layer.
type IncidentQuerier interface {
	Query(ctx context.Context, q domain.IncidentQuery) ([]domain.EnrichedIncident, error)
	Top(ctx context.Context, window domain.TimeWindow, n int) ([]domain.EnrichedIncident, error)
	Stats(ctx context.Context, window domain.TimeWindow) (domain.IncidentStats, error)
	Timeline(ctx context.Context, window domain.TimeWindow, interval string) ([]domain.TimelineBucket, error)
}

// CacheInspector exposes geolocation cache maintenance.
type CacheInspector interface {
	Stats() domain.CacheStats
	CleanupExpired() int
}
