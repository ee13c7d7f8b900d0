package geo

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
	"github.com/xoelrdgz/authradar/pkg/ratelimit"
)

type LocatorConfig struct {
	// MaxWait caps how long one resolve blocks on the rate limiter.
	MaxWait time.Duration
}

func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{MaxWait: time.Minute}
}

// Locator resolves IPs through the cache, the rate limiter and the external
// provider, in that order.
//
// Outcomes:
//   - cached: served from the cache, including cached defaults
//   - resolved: external lookup succeeded and was cached
//   - local: private or loopback address, never sent out
//   - rate_limited: limiter still full after waiting; default returned, not cached
//   - lookup_failed: external lookup failed; default returned and cached
type Locator struct {
	cache    *Cache
	limiter  *ratelimit.SlidingWindow
	provider ports.GeoProvider
	maxWait  time.Duration
	observer ports.GeoObserver
	flights  singleflight.Group
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewLocator(cache *Cache, limiter *ratelimit.SlidingWindow, provider ports.GeoProvider, config LocatorConfig) *Locator {
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultLocatorConfig().MaxWait
	}
	return &Locator{
		cache:    cache,
		limiter:  limiter,
		provider: provider,
		maxWait:  config.MaxWait,
		sleep:    sleepContext,
	}
}

func (l *Locator) SetObserver(o ports.GeoObserver) {
	l.observer = o
}

func (l *Locator) Cache() *Cache {
	return l.cache
}

func (l *Locator) Limiter() *ratelimit.SlidingWindow {
	return l.limiter
}

// Resolve returns the enrichment for ip. Lookup failures and rate limiting
// are absorbed into the Resolution; only an invalid IP or a cancelled ctx
// is returned as an error. Concurrent calls for the same uncached IP share
// one external lookup.
func (l *Locator) Resolve(ctx context.Context, ip string) (domain.Resolution, error) {
	key, local, err := normalizeIP(ip)
	if err != nil {
		return domain.Resolution{}, err
	}
	if local {
		return l.done(domain.Resolution{IP: key, Geo: domain.LocalGeo(), Outcome: domain.GeoLocal}), nil
	}
	if geo, ok := l.cache.Get(key); ok {
		return l.done(domain.Resolution{IP: key, Geo: geo, Outcome: domain.GeoCached}), nil
	}

	res, err := l.resolveShared(ctx, key)
	if err != nil {
		return domain.Resolution{}, err
	}
	return l.done(res), nil
}

// resolveShared joins the in-flight lookup for key or starts one. Resolve
// and ResolveBatch both go through here so an IP is never looked up twice
// at the same time.
func (l *Locator) resolveShared(ctx context.Context, key string) (domain.Resolution, error) {
	for {
		v, err, _ := l.flights.Do(key, func() (any, error) {
			return l.resolveMiss(ctx, key)
		})
		if err != nil {
			// The flight leader's ctx ended; retry under our own.
			if isContextErr(err) && ctx.Err() == nil {
				continue
			}
			return domain.Resolution{}, err
		}
		return v.(domain.Resolution), nil
	}
}

// resolveMiss re-checks the cache and stores the result before the flight
// ends, so callers arriving later see it cached.
func (l *Locator) resolveMiss(ctx context.Context, ip string) (domain.Resolution, error) {
	if geo, ok := l.cache.Get(ip); ok {
		return domain.Resolution{IP: ip, Geo: geo, Outcome: domain.GeoCached}, nil
	}

	res, err := l.lookup(ctx, ip)
	if err != nil {
		return res, err
	}
	if res.Outcome != domain.GeoRateLimited {
		_ = l.cache.Set(ip, res.Geo)
	}
	return res, nil
}

// lookup waits for the limiter and calls the provider. It never writes the
// cache.
func (l *Locator) lookup(ctx context.Context, ip string) (domain.Resolution, error) {
	if wait := l.limiter.WaitTime(); wait > 0 {
		if wait > l.maxWait {
			wait = l.maxWait
		}
		log.Debug().Str("ip", ip).Dur("wait", wait).Msg("Rate limit reached, waiting")
		if l.observer != nil {
			l.observer.ObserveLimiterWait(wait.Seconds())
		}
		if err := l.sleep(ctx, wait); err != nil {
			return domain.Resolution{}, err
		}
	}

	if !l.limiter.TryAcquire() {
		log.Warn().Str("ip", ip).Msg("Rate limit still exhausted, skipping lookup")
		return domain.Resolution{
			IP:      ip,
			Geo:     domain.UnknownGeo(),
			Outcome: domain.GeoRateLimited,
			Err:     ErrRateLimited,
		}, nil
	}

	geo, err := l.provider.Lookup(ctx, ip)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Resolution{}, ctxErr
		}
		log.Warn().Err(err).Str("ip", ip).Str("provider", l.provider.Name()).Msg("Geolocation lookup failed")
		return domain.Resolution{
			IP:      ip,
			Geo:     domain.UnknownGeo(),
			Outcome: domain.GeoLookupFailed,
			Err:     err,
		}, nil
	}

	return domain.Resolution{IP: ip, Geo: geo, Outcome: domain.GeoResolved}, nil
}

// ResolveBatch resolves every IP. Cached and local IPs are answered first;
// the rest are looked up one at a time, sharing in-flight lookups with
// concurrent callers, and each result is cached as soon as it arrives.
// Invalid IPs are skipped. On ctx cancellation the partial result is
// returned with the error.
func (l *Locator) ResolveBatch(ctx context.Context, ips []string) (map[string]domain.Resolution, error) {
	results := make(map[string]domain.Resolution, len(ips))
	var pending []string

	for _, ip := range ips {
		key, local, err := normalizeIP(ip)
		if err != nil {
			log.Debug().Str("ip", ip).Msg("Skipping invalid IP in batch")
			continue
		}
		if _, seen := results[key]; seen {
			continue
		}
		switch geo, ok := l.cache.Get(key); {
		case local:
			results[key] = l.done(domain.Resolution{IP: key, Geo: domain.LocalGeo(), Outcome: domain.GeoLocal})
		case ok:
			results[key] = l.done(domain.Resolution{IP: key, Geo: geo, Outcome: domain.GeoCached})
		default:
			results[key] = domain.Resolution{}
			pending = append(pending, key)
		}
	}

	for i, ip := range pending {
		res, err := l.resolveShared(ctx, ip)
		if err != nil {
			for _, rest := range pending[i:] {
				delete(results, rest)
			}
			return results, fmt.Errorf("resolve batch: %w", err)
		}
		results[ip] = l.done(res)
	}
	return results, nil
}

func (l *Locator) done(res domain.Resolution) domain.Resolution {
	if l.observer != nil {
		l.observer.ObserveResolution(res.Outcome)
	}
	return res
}

// normalizeIP parses ip and reports whether it is a non-routable address.
func normalizeIP(ip string) (string, bool, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	addr = addr.Unmap()
	local := addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
	return addr.String(), local, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
