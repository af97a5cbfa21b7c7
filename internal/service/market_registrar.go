package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// MarketRegistrar is the engine-side MarketCreator. The engine does not list
// markets on-chain itself; it records the requested listing in the audit trail
// so an operator process can pick it up.
type MarketRegistrar struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewMarketRegistrar creates a MarketRegistrar.
func NewMarketRegistrar(audit domain.AuditStore, logger *slog.Logger) *MarketRegistrar {
	return &MarketRegistrar{
		audit:  audit,
		logger: logger.With(slog.String("component", "market_registrar")),
	}
}

// CreateMarket records the market listing requested by a passed proposal.
func (r *MarketRegistrar) CreateMarket(ctx context.Context, name, description, feedID string) error {
	if err := r.audit.Log(ctx, "market.registered", map[string]any{
		"name":        name,
		"description": description,
		"feed_id":     feedID,
	}); err != nil {
		return fmt.Errorf("market_registrar: record listing: %w", err)
	}
	r.logger.InfoContext(ctx, "market listing registered",
		slog.String("name", name),
		slog.String("feed_id", feedID),
	)
	return nil
}

var _ MarketCreator = (*MarketRegistrar)(nil)
