package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/adapters/catalog"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Products []catalogEntry `yaml:"products"`
}

type catalogEntry struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Price      string   `yaml:"price"`
	Tag        string   `yaml:"tag"`
	Collection string   `yaml:"collection"`
	Sizes      []string `yaml:"sizes"`
	Images     []string `yaml:"images"`
}

func seedCmd(cfg *cliConfig) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Replace the product catalog",
		Long: `Replace the whole product catalog with the entries of a YAML file.

Without --file the built-in catalog is loaded. Cached product entries are
dropped when REDIS_ADDR is set so prices take effect immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data := defaultCatalog
			if file != "" {
				var err error
				if data, err = os.ReadFile(file); err != nil {
					return fmt.Errorf("read catalog: %w", err)
				}
			}
			products, err := parseCatalog(data, time.Now().UTC())
			if err != nil {
				return err
			}
			return seed(cmd.Context(), cfg, products, cmd)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog YAML file")
	return cmd
}

func seed(ctx context.Context, cfg *cliConfig, products []domain.Product, cmd *cobra.Command) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Ids of the outgoing catalog are invalidated too, so removed products
	// stop resolving from the cache.
	previous, err := store.ListProducts(ctx)
	if err != nil {
		return err
	}
	if err := store.ReplaceProducts(ctx, products); err != nil {
		return err
	}

	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, "checkout")
		defer rc.Close()
		ids := make([]string, 0, len(products)+len(previous))
		for _, p := range append(previous, products...) {
			ids = append(ids, p.ID)
		}
		if err := catalog.NewCached(store, rc, 0).Invalidate(ctx, ids...); err != nil {
			slog.WarnContext(ctx, "catalog cache invalidation failed", "error", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "products seeded: %d\n", len(products))
	return nil
}

// parseCatalog validates the entries and stamps creation times so that the
// listing order (newest first) follows the file order.
func parseCatalog(data []byte, now time.Time) ([]domain.Product, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Products) == 0 {
		return nil, errors.New("catalog has no products")
	}

	seen := make(map[string]bool, len(f.Products))
	out := make([]domain.Product, 0, len(f.Products))
	for i, e := range f.Products {
		id := strings.TrimSpace(e.ID)
		if id == "" || strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("catalog entry %d: id and name are required", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("catalog entry %d: duplicate id %q", i+1, id)
		}
		seen[id] = true

		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return nil, fmt.Errorf("catalog %s price: %w", id, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("catalog %s: price must be positive", id)
		}
		out = append(out, domain.Product{
			ID:              id,
			Name:            strings.TrimSpace(e.Name),
			Price:           domain.Round2(price),
			Tag:             e.Tag,
			Images:          e.Images,
			Sizes:           e.Sizes,
			CollectionTitle: e.Collection,
			CreatedAt:       now.Add(-time.Duration(i) * time.Second),
		})
	}
	return out, nil
}
