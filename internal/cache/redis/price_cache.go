package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// PriceCache implements domain.PriceCache storing each snapshot as JSON at
// "price:{feedID}" with a TTL. The TTL only bounds the key's lifetime; a
// snapshot may already carry age when cached, so readers that care about
// staleness must check the snapshot's publish time themselves.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(feedID string) string {
	return "price:" + feedID
}

// Set stores a snapshot under its feed id.
func (pc *PriceCache) Set(ctx context.Context, snap domain.PriceSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.FeedID, err)
	}
	if err := pc.rdb.Set(ctx, priceKey(snap.FeedID), payload, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", snap.FeedID, err)
	}
	return nil
}

// Get retrieves the cached snapshot for a feed. It returns domain.ErrNotFound
// when the key does not exist or has expired.
func (pc *PriceCache) Get(ctx context.Context, feedID string) (domain.PriceSnapshot, error) {
	payload, err := pc.rdb.Get(ctx, priceKey(feedID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceSnapshot{}, domain.ErrNotFound
		}
		return domain.PriceSnapshot{}, fmt.Errorf("redis: get price %s: %w", feedID, err)
	}

	var snap domain.PriceSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", feedID, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
