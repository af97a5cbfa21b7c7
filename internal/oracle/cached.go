package oracle

import (
	"context"
	"log/slog"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// CachedResolver wraps an OracleResolver with a snapshot cache. A cached
// snapshot is only served while its age is within the staleness bound;
// anything older falls through to a fresh upstream fetch, so the fail-closed
// guarantee holds on this path too. Cache failures also degrade to upstream
// fetches.
type CachedResolver struct {
	upstream     domain.OracleResolver
	cache        domain.PriceCache
	maxStaleness time.Duration
	logger       *slog.Logger
}

// NewCachedResolver creates a caching decorator around upstream.
func NewCachedResolver(upstream domain.OracleResolver, cache domain.PriceCache, maxStaleness time.Duration, logger *slog.Logger) *CachedResolver {
	return &CachedResolver{
		upstream:     upstream,
		cache:        cache,
		maxStaleness: maxStaleness,
		logger:       logger,
	}
}

// GetPrice serves from the cache when the cached snapshot is still within the
// staleness bound, otherwise fetches upstream and back-fills.
func (r *CachedResolver) GetPrice(ctx context.Context, feedID string) (domain.PriceSnapshot, error) {
	snap, err := r.cache.Get(ctx, feedID)
	if err == nil && snap.Age(time.Now().UTC()) <= r.maxStaleness {
		return snap, nil
	}

	snap, err = r.upstream.GetPrice(ctx, feedID)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}

	if cacheErr := r.cache.Set(ctx, snap); cacheErr != nil {
		r.logger.WarnContext(ctx, "oracle: cache set failed",
			slog.String("feed_id", feedID),
			slog.String("error", cacheErr.Error()),
		)
	}
	return snap, nil
}
