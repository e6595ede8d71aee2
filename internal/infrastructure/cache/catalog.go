package cache

import (
	"context"
	"time"

	appallocation "github.com/katecvn/backoffice/internal/application/allocation"
	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/katecvn/backoffice/internal/domain/identity"
	"go.uber.org/zap"
)

// CachedLotCatalog is a read-through cache in front of a LotCatalog. Entries
// are scoped to the requesting user, because the upstream answers with that
// user's token. Requests without a user bypass the cache. Cache failures are
// logged and fall through to the upstream catalog; fetch errors are never
// cached.
type CachedLotCatalog struct {
	next   allocation.LotCatalog
	store  LotStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLotCatalog wraps next with store. A non-positive ttl disables caching.
func NewCachedLotCatalog(next allocation.LotCatalog, store LotStore, ttl time.Duration, logger *zap.Logger) *CachedLotCatalog {
	return &CachedLotCatalog{
		next:   next,
		store:  store,
		ttl:    ttl,
		logger: logger.Named("lot_cache"),
	}
}

// FetchAvailableLots implements allocation.LotCatalog
func (c *CachedLotCatalog) FetchAvailableLots(ctx context.Context, productID string) ([]allocation.Lot, error) {
	sc, ok := identity.SessionContextFrom(ctx)
	if c.ttl <= 0 || !ok || sc.UserID == "" {
		return c.next.FetchAvailableLots(ctx, productID)
	}
	scope := sc.UserID

	lots, hit, err := c.store.Get(ctx, productID, scope)
	switch {
	case err != nil:
		c.logger.Warn("Lot cache read failed", zap.String("product_id", productID), zap.Error(err))
	case hit:
		c.logger.Debug("Lot cache hit", zap.String("product_id", productID), zap.String("user_id", scope))
		return lots, nil
	}

	lots, err = c.next.FetchAvailableLots(ctx, productID)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, productID, scope, lots, c.ttl); err != nil {
		c.logger.Warn("Lot cache write failed", zap.String("product_id", productID), zap.Error(err))
	}
	return lots, nil
}

// Invalidate drops the cached lots of a product for every user
func (c *CachedLotCatalog) Invalidate(ctx context.Context, productID string) error {
	return c.store.Delete(ctx, productID)
}

var (
	_ allocation.LotCatalog            = (*CachedLotCatalog)(nil)
	_ appallocation.CatalogInvalidator = (*CachedLotCatalog)(nil)
)
