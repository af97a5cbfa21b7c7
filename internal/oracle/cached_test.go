package oracle

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

type fakeCache struct {
	snap    *domain.PriceSnapshot
	sets    []domain.PriceSnapshot
	failSet error
}

func (c *fakeCache) Get(_ context.Context, _ string) (domain.PriceSnapshot, error) {
	if c.snap == nil {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	return *c.snap, nil
}

func (c *fakeCache) Set(_ context.Context, snap domain.PriceSnapshot) error {
	if c.failSet != nil {
		return c.failSet
	}
	c.sets = append(c.sets, snap)
	return nil
}

type fakeUpstream struct {
	snap  domain.PriceSnapshot
	err   error
	calls int
}

func (u *fakeUpstream) GetPrice(_ context.Context, _ string) (domain.PriceSnapshot, error) {
	u.calls++
	if u.err != nil {
		return domain.PriceSnapshot{}, u.err
	}
	return u.snap, nil
}

func snapshotAged(age time.Duration, price uint64) domain.PriceSnapshot {
	return domain.PriceSnapshot{
		FeedID:      "sol-usd",
		Price:       price,
		Confidence:  10_000,
		PublishedAt: time.Now().UTC().Add(-age),
	}
}

func TestCachedResolver_ServesFreshSnapshot(t *testing.T) {
	cached := snapshotAged(5*time.Second, 100*domain.PricePrecision)
	cache := &fakeCache{snap: &cached}
	upstream := &fakeUpstream{}
	r := NewCachedResolver(upstream, cache, 30*time.Second, slog.New(slog.DiscardHandler))

	snap, err := r.GetPrice(context.Background(), "sol-usd")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if snap.Price != cached.Price {
		t.Errorf("price = %d, want cached %d", snap.Price, cached.Price)
	}
	if upstream.calls != 0 {
		t.Errorf("upstream calls = %d, want 0 for a fresh cache hit", upstream.calls)
	}
}

func TestCachedResolver_RefetchesWhenCachedSnapshotAgedOut(t *testing.T) {
	// A snapshot cached just inside the bound can outlive it while sitting in
	// the cache. It must never be served past the bound.
	stale := snapshotAged(55*time.Second, 100*domain.PricePrecision)
	cache := &fakeCache{snap: &stale}
	upstream := &fakeUpstream{snap: snapshotAged(0, 101*domain.PricePrecision)}
	r := NewCachedResolver(upstream, cache, 30*time.Second, slog.New(slog.DiscardHandler))

	snap, err := r.GetPrice(context.Background(), "sol-usd")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if snap.Price != 101*domain.PricePrecision {
		t.Errorf("price = %d, want the fresh upstream snapshot", snap.Price)
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", upstream.calls)
	}
	if len(cache.sets) != 1 || cache.sets[0].Price != snap.Price {
		t.Errorf("cache sets = %+v, want the fresh snapshot backfilled", cache.sets)
	}
}

func TestCachedResolver_AgedCacheFailsClosedWithUpstream(t *testing.T) {
	stale := snapshotAged(55*time.Second, 100*domain.PricePrecision)
	cache := &fakeCache{snap: &stale}
	upstream := &fakeUpstream{err: domain.ErrStalePrice}
	r := NewCachedResolver(upstream, cache, 30*time.Second, slog.New(slog.DiscardHandler))

	if _, err := r.GetPrice(context.Background(), "sol-usd"); !errors.Is(err, domain.ErrStalePrice) {
		t.Fatalf("error = %v, want ErrStalePrice (never the aged cache entry)", err)
	}
}

func TestCachedResolver_CacheMissFetchesAndBackfills(t *testing.T) {
	cache := &fakeCache{}
	upstream := &fakeUpstream{snap: snapshotAged(0, 99*domain.PricePrecision)}
	r := NewCachedResolver(upstream, cache, 30*time.Second, slog.New(slog.DiscardHandler))

	snap, err := r.GetPrice(context.Background(), "sol-usd")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if snap.Price != 99*domain.PricePrecision {
		t.Errorf("price = %d, want upstream snapshot", snap.Price)
	}
	if len(cache.sets) != 1 {
		t.Errorf("cache sets = %d, want 1", len(cache.sets))
	}
}

func TestCachedResolver_CacheSetFailureIsNotFatal(t *testing.T) {
	cache := &fakeCache{failSet: errors.New("redis down")}
	upstream := &fakeUpstream{snap: snapshotAged(0, 99*domain.PricePrecision)}
	r := NewCachedResolver(upstream, cache, 30*time.Second, slog.New(slog.DiscardHandler))

	if _, err := r.GetPrice(context.Background(), "sol-usd"); err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
}
