package geo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/pkg/ratelimit"
)

type fakeProvider struct {
	calls  atomic.Int32
	delay  time.Duration
	err    error
	record func(ip string) domain.GeoRecord
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Lookup(ctx context.Context, ip string) (domain.GeoRecord, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.GeoRecord{}, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.err != nil {
		return domain.GeoRecord{}, p.err
	}
	if p.record != nil {
		return p.record(ip), nil
	}
	return located(37.4, -122.1), nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[domain.GeoOutcome]int
	waits    int
}

func (o *countingObserver) ObserveResolution(outcome domain.GeoOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[domain.GeoOutcome]int)
	}
	o.outcomes[outcome]++
}

func (o *countingObserver) ObserveLimiterWait(float64) {
	o.mu.Lock()
	o.waits++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveCacheSize(int)      {}
func (o *countingObserver) IncrementCacheSaveErrors() {}

func (o *countingObserver) count(outcome domain.GeoOutcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

type locatorFixture struct {
	locator  *Locator
	provider *fakeProvider
	store    *memStore
	clock    *testClock
}

func newLocatorFixture(capacity int, provider *fakeProvider) *locatorFixture {
	clock := newTestClock()
	store := &memStore{}
	cache := NewCache(store, DefaultExpiry, WithClock(clock.Now))
	limiter := ratelimit.NewWithClock(capacity, time.Minute, clock.Now)
	l := NewLocator(cache, limiter, provider, DefaultLocatorConfig())
	return &locatorFixture{locator: l, provider: provider, store: store, clock: clock}
}

func TestLocator_ResolveCachesResult(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{})
	ctx := context.Background()

	first, err := f.locator.Resolve(ctx, "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, domain.GeoResolved, first.Outcome)
	assert.InDelta(t, 37.4, *first.Geo.Lat, 1e-9)
	assert.InDelta(t, -122.1, *first.Geo.Lon, 1e-9)

	second, err := f.locator.Resolve(ctx, "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, domain.GeoCached, second.Outcome)
	assert.Equal(t, first.Geo, second.Geo)

	assert.Equal(t, int32(1), f.provider.calls.Load())
	assert.Contains(t, f.store.Persisted(), "8.8.8.8")
}

func TestLocator_LookupFailureIsCachedAsDefault(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{err: errors.New("connection refused")})
	ctx := context.Background()

	res, err := f.locator.Resolve(ctx, "203.0.113.42")
	require.NoError(t, err)
	assert.Equal(t, domain.GeoLookupFailed, res.Outcome)
	assert.Equal(t, domain.UnknownGeo(), res.Geo)
	assert.Error(t, res.Err)
	assert.True(t, res.Degraded())

	again, err := f.locator.Resolve(ctx, "203.0.113.42")
	require.NoError(t, err)
	assert.Equal(t, domain.GeoCached, again.Outcome)
	assert.False(t, again.Geo.HasCoordinates())
	assert.Equal(t, int32(1), f.provider.calls.Load())
}

func TestLocator_RateLimitedIsNotCached(t *testing.T) {
	f := newLocatorFixture(1, &fakeProvider{})
	var slept []time.Duration
	f.locator.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	ctx := context.Background()

	_, err := f.locator.Resolve(ctx, "1.1.1.1")
	require.NoError(t, err)

	// The clock does not move during the injected sleep, so the window is
	// still full afterwards.
	res, err := f.locator.Resolve(ctx, "9.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, domain.GeoRateLimited, res.Outcome)
	assert.Equal(t, domain.UnknownGeo(), res.Geo)
	assert.ErrorIs(t, res.Err, ErrRateLimited)
	require.Len(t, slept, 1)
	assert.Equal(t, time.Minute, slept[0])

	_, cached := f.locator.Cache().Get("9.9.9.9")
	assert.False(t, cached)

	f.clock.Advance(61 * time.Second)
	res, err = f.locator.Resolve(ctx, "9.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, domain.GeoResolved, res.Outcome)
	assert.Equal(t, int32(2), f.provider.calls.Load())
}

func TestLocator_WaitIsCappedByMaxWait(t *testing.T) {
	clock := newTestClock()
	limiter := ratelimit.NewWithClock(1, time.Hour, clock.Now)
	cache := NewCache(&memStore{}, DefaultExpiry, WithClock(clock.Now))
	l := NewLocator(cache, limiter, &fakeProvider{}, LocatorConfig{MaxWait: 2 * time.Second})

	var slept time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		clock.Advance(d)
		return nil
	}

	require.True(t, limiter.TryAcquire())
	res, err := l.Resolve(context.Background(), "8.8.4.4")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, slept)
	assert.Equal(t, domain.GeoRateLimited, res.Outcome)
}

func TestLocator_WaitThenResolve(t *testing.T) {
	f := newLocatorFixture(1, &fakeProvider{})
	f.locator.sleep = func(_ context.Context, d time.Duration) error {
		f.clock.Advance(d + time.Millisecond)
		return nil
	}
	ctx := context.Background()

	_, err := f.locator.Resolve(ctx, "1.1.1.1")
	require.NoError(t, err)
	res, err := f.locator.Resolve(ctx, "9.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, domain.GeoResolved, res.Outcome)
}

func TestLocator_LocalAddresses(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{})

	for _, ip := range []string{"192.168.1.10", "10.0.0.5", "172.16.3.4", "127.0.0.1", "::1", "fe80::1", "fd00::1"} {
		t.Run(ip, func(t *testing.T) {
			res, err := f.locator.Resolve(context.Background(), ip)
			require.NoError(t, err)
			assert.Equal(t, domain.GeoLocal, res.Outcome)
			assert.Equal(t, domain.LocalGeo(), res.Geo)
		})
	}
	assert.Equal(t, int32(0), f.provider.calls.Load())
	assert.Equal(t, 0, f.locator.Cache().Len())
}

func TestLocator_InvalidIP(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{})

	_, err := f.locator.Resolve(context.Background(), "not-an-ip")
	assert.ErrorIs(t, err, ErrInvalidIP)
	assert.Equal(t, int32(0), f.provider.calls.Load())
}

func TestLocator_MappedAddressSharesCacheKey(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{})
	ctx := context.Background()

	_, err := f.locator.Resolve(ctx, "::ffff:8.8.8.8")
	require.NoError(t, err)
	res, err := f.locator.Resolve(ctx, "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, domain.GeoCached, res.Outcome)
	assert.Equal(t, "8.8.8.8", res.IP)
}

func TestLocator_ConcurrentSameIPSingleLookup(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{delay: 50 * time.Millisecond})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.locator.Resolve(ctx, "8.8.8.8")
			assert.NoError(t, err)
			assert.True(t, res.Geo.HasCoordinates())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.provider.calls.Load())
}

func TestLocator_CancelDuringWait(t *testing.T) {
	f := newLocatorFixture(1, &fakeProvider{})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.locator.Resolve(ctx, "1.1.1.1")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = f.locator.Resolve(ctx, "9.9.9.9")
	assert.ErrorIs(t, err, context.Canceled)

	_, cached := f.locator.Cache().Get("9.9.9.9")
	assert.False(t, cached)
}

func TestLocator_CancelDuringLookupIsNotCached(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.locator.Resolve(ctx, "8.8.8.8")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, cached := f.locator.Cache().Get("8.8.8.8")
	assert.False(t, cached)
}

func TestLocator_ResolveBatch(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{})
	ctx := context.Background()

	_, err := f.locator.Resolve(ctx, "8.8.8.8")
	require.NoError(t, err)
	savesBefore := f.store.Saves()

	results, err := f.locator.ResolveBatch(ctx, []string{
		"8.8.8.8", "1.1.1.1", "9.9.9.9", "1.1.1.1", "192.168.0.1", "bogus",
	})
	require.NoError(t, err)

	require.Len(t, results, 4)
	assert.Equal(t, domain.GeoCached, results["8.8.8.8"].Outcome)
	assert.Equal(t, domain.GeoResolved, results["1.1.1.1"].Outcome)
	assert.Equal(t, domain.GeoResolved, results["9.9.9.9"].Outcome)
	assert.Equal(t, domain.GeoLocal, results["192.168.0.1"].Outcome)

	assert.Equal(t, int32(3), f.provider.calls.Load())
	// Each looked-up IP is written through on arrival.
	assert.Equal(t, savesBefore+2, f.store.Saves())
	assert.Len(t, f.store.Persisted(), 3)
}

func TestLocator_ConcurrentBatchesSingleLookup(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{delay: 50 * time.Millisecond})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := f.locator.ResolveBatch(ctx, []string{"8.8.8.8"})
			assert.NoError(t, err)
			assert.True(t, results["8.8.8.8"].Geo.HasCoordinates())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.provider.calls.Load())
}

func TestLocator_BatchAndResolveShareLookup(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{delay: 50 * time.Millisecond})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := f.locator.Resolve(ctx, "1.1.1.1")
		assert.NoError(t, err)
		assert.True(t, res.Geo.HasCoordinates())
	}()
	go func() {
		defer wg.Done()
		results, err := f.locator.ResolveBatch(ctx, []string{"1.1.1.1"})
		assert.NoError(t, err)
		assert.True(t, results["1.1.1.1"].Geo.HasCoordinates())
	}()
	wg.Wait()

	assert.Equal(t, int32(1), f.provider.calls.Load())
}

func TestLocator_BatchResultsVisibleBeforeBatchEnds(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{delay: 200 * time.Millisecond})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.locator.ResolveBatch(ctx, []string{"1.1.1.1", "8.8.8.8"})
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		_, ok := f.locator.Cache().Get("1.1.1.1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	res, err := f.locator.Resolve(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, domain.GeoCached, res.Outcome)

	select {
	case <-done:
		t.Fatal("batch finished before its first result was served from cache")
	default:
	}
	<-done

	assert.Equal(t, int32(2), f.provider.calls.Load())
}

func TestLocator_BatchRateLimitedIsNotCached(t *testing.T) {
	f := newLocatorFixture(1, &fakeProvider{})
	f.locator.sleep = func(context.Context, time.Duration) error { return nil }
	ctx := context.Background()

	results, err := f.locator.ResolveBatch(ctx, []string{"1.1.1.1", "8.8.8.8"})
	require.NoError(t, err)
	assert.Equal(t, domain.GeoResolved, results["1.1.1.1"].Outcome)
	assert.Equal(t, domain.GeoRateLimited, results["8.8.8.8"].Outcome)

	_, cached := f.locator.Cache().Get("8.8.8.8")
	assert.False(t, cached)
	assert.Equal(t, int32(1), f.provider.calls.Load())
}

func TestLocator_ResolveBatchAllCached(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{})
	ctx := context.Background()

	_, err := f.locator.Resolve(ctx, "8.8.8.8")
	require.NoError(t, err)
	savesBefore := f.store.Saves()

	results, err := f.locator.ResolveBatch(ctx, []string{"8.8.8.8"})
	require.NoError(t, err)
	assert.Equal(t, domain.GeoCached, results["8.8.8.8"].Outcome)
	assert.Equal(t, savesBefore, f.store.Saves())
}

func TestLocator_ObserverCountsOutcomes(t *testing.T) {
	f := newLocatorFixture(45, &fakeProvider{})
	obs := &countingObserver{}
	f.locator.SetObserver(obs)
	ctx := context.Background()

	_, _ = f.locator.Resolve(ctx, "8.8.8.8")
	_, _ = f.locator.Resolve(ctx, "8.8.8.8")
	_, _ = f.locator.Resolve(ctx, "10.1.1.1")

	assert.Equal(t, 1, obs.count(domain.GeoResolved))
	assert.Equal(t, 1, obs.count(domain.GeoCached))
	assert.Equal(t, 1, obs.count(domain.GeoLocal))
}
