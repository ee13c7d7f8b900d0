package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/adapters/geo"
	"github.com/xoelrdgz/authradar/internal/adapters/input"
	"github.com/xoelrdgz/authradar/internal/adapters/output"
	"github.com/xoelrdgz/authradar/internal/app"
	"github.com/xoelrdgz/authradar/internal/ports"
	"github.com/xoelrdgz/authradar/pkg/ratelimit"
)

// geoStack is the geolocation chain: store, cache, limiter and locator.
type geoStack struct {
	store   ports.GeoStore
	cache   *geo.Cache
	limiter *ratelimit.SlidingWindow
	locator *geo.Locator
	closer  func() error
}

func (g *geoStack) Close() {
	if g.closer == nil {
		return
	}
	if err := g.closer(); err != nil {
		log.Warn().Err(err).Msg("Failed to close geolocation store")
	}
}

func openGeoStore(s app.Settings) (ports.GeoStore, func() error, error) {
	switch s.CacheBackend {
	case "bolt":
		store, err := geo.OpenBoltStore(s.CachePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return geo.NewJSONStore(s.CachePath), nil, nil
	}
}

// buildGeo wires the geolocation chain. metrics may be nil.
func buildGeo(s app.Settings, metrics *output.PrometheusMetrics) (*geoStack, error) {
	store, closer, err := openGeoStore(s)
	if err != nil {
		return nil, fmt.Errorf("open geolocation cache: %w", err)
	}

	var opts []geo.CacheOption
	if metrics != nil {
		opts = append(opts, geo.WithObserver(metrics))
	}
	cache := geo.NewCache(store, s.CacheExpiry, opts...)

	limiter := ratelimit.New(s.GeoRateLimit, s.GeoWindow)
	provider := geo.NewIPAPIProvider(geo.IPAPIConfig{
		BaseURL: s.GeoAPIURL,
		Timeout: s.GeoTimeout,
	})
	locator := geo.NewLocator(cache, limiter, provider, geo.LocatorConfig{MaxWait: s.GeoMaxWait})
	if metrics != nil {
		locator.SetObserver(metrics)
	}

	log.Debug().
		Str("backend", store.Backend()).
		Str("location", store.Location()).
		Int("entries", cache.Len()).
		Int("rate_limit", s.GeoRateLimit).
		Dur("window", s.GeoWindow).
		Msg("Geolocation initialized")

	return &geoStack{store: store, cache: cache, limiter: limiter, locator: locator, closer: closer}, nil
}

func buildIncidents(s app.Settings, resolver ports.GeoResolver) (*input.AuthLogReader, *app.IncidentService) {
	reader := input.NewAuthLogReader(input.AuthLogConfig{
		Paths:          s.LogPaths,
		IncludeRotated: s.IncludeRotated,
	})
	pool := app.NewClassifyPool(input.NewClassifier(), app.DefaultClassifyPoolConfig())
	service := app.NewIncidentService(reader, pool, resolver, app.IncidentServiceConfig{
		DefaultLimit:  s.APIDefault,
		MaxLimit:      s.APIMax,
		StatsGeoLimit: s.StatsGeoLimit,
	})
	return reader, service
}

func newLiveSource(s app.Settings) ports.LineSource {
	switch s.LiveSource {
	case "file":
		return input.NewTailSource(s.LiveFile)
	case "follow":
		return input.NewFileFollower(s.LiveFile)
	case "demo":
		return input.NewDemoGenerator(input.DemoConfig{
			Rate:          s.DemoRate,
			AttackPercent: s.DemoAttackPct,
		})
	default:
		return input.NewJournalSource(s.LiveUnits)
	}
}
