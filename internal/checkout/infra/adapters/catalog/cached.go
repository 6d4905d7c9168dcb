// Package catalog decorates a CatalogReader with a redis read-through cache.
package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
)

const cacheOp = "product"

// Cached serves product lookups from the cache and falls back to next for
// misses. Cache failures are logged and degrade to a direct lookup; they
// never fail the request.
type Cached struct {
	next  ports.CatalogReader
	cache cache.Cache // nil-safe: every lookup goes to next if nil
	ttl   time.Duration
}

var _ ports.CatalogReader = (*Cached)(nil)

func NewCached(next ports.CatalogReader, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl}
}

func (c *Cached) Products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if c.cache == nil || len(ids) == 0 {
		return c.next.Products(ctx, ids)
	}

	out := make(map[string]domain.Product, len(ids))
	var missing []string
	for _, id := range ids {
		raw, err := c.cache.Get(ctx, c.cache.GenerateKey(cacheOp, id))
		if err != nil {
			slog.WarnContext(ctx, "catalog cache get failed", "product_id", id, "error", err)
		}
		if raw == "" {
			missing = append(missing, id)
			continue
		}
		var p domain.Product
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			slog.WarnContext(ctx, "catalog cache entry corrupt", "product_id", id, "error", err)
			missing = append(missing, id)
			continue
		}
		out[id] = p
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.next.Products(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		out[id] = p
		raw, err := json.Marshal(p)
		if err != nil {
			continue
		}
		if err := c.cache.Set(ctx, c.cache.GenerateKey(cacheOp, id), raw, c.ttl); err != nil {
			slog.WarnContext(ctx, "catalog cache set failed", "product_id", id, "error", err)
		}
	}
	return out, nil
}

// Invalidate drops cached entries, e.g. after a catalog reseed.
func (c *Cached) Invalidate(ctx context.Context, ids ...string) error {
	if c.cache == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.cache.GenerateKey(cacheOp, id)
	}
	return c.cache.Delete(ctx, keys...)
}
