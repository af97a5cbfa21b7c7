package domain

import (
	"context"
	"time"
)

// PricePrecision is the fixed-point scale for oracle prices: 6 decimals, so
// 100_000_000 is $100.00.
const PricePrecision = 1_000_000

// PriceSnapshot is a validated, timestamped oracle price for one feed.
type PriceSnapshot struct {
	FeedID      string
	Price       uint64 // normalized to PricePrecision
	Confidence  uint64 // same scale as Price
	PublishedAt time.Time
}

// Age returns how old the snapshot is at the given time.
func (s PriceSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.PublishedAt)
}

// ConfidenceBps returns the confidence interval as basis points of the price.
func (s PriceSnapshot) ConfidenceBps() uint64 {
	bps, err := mulDiv(s.Confidence, BasisPoints, s.Price)
	if err != nil {
		return ^uint64(0)
	}
	return bps
}

// OracleResolver fetches price snapshots for a feed. Implementations must
// fail closed: a stale or low-quality snapshot is an error, never a value.
type OracleResolver interface {
	GetPrice(ctx context.Context, feedID string) (PriceSnapshot, error)
}
