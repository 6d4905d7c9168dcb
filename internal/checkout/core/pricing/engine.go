// Package pricing computes the monetary summary of a cart from
// authoritative catalog data. It has no side effects: the same inputs and
// collaborator state always produce the same Summary.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

// Config holds the tunables of the pricing rules.
type Config struct {
	// VATRate is informational, e.g. 0.21. Catalog prices already include it.
	VATRate decimal.Decimal
	// FreeShippingThreshold applies to the discounted amount (base gross).
	FreeShippingThreshold decimal.Decimal
	// DiscountCodes maps a code to a percentage off the subtotal.
	DiscountCodes map[string]decimal.Decimal
}

type Engine struct {
	catalog  ports.CatalogReader
	shipping ports.ShippingRates
	cfg      Config
}

func NewEngine(catalog ports.CatalogReader, shipping ports.ShippingRates, cfg Config) *Engine {
	codes := make(map[string]decimal.Decimal, len(cfg.DiscountCodes))
	for code, pct := range cfg.DiscountCodes {
		codes[NormalizeCode(code)] = pct
	}
	cfg.DiscountCodes = codes
	return &Engine{catalog: catalog, shipping: shipping, cfg: cfg}
}

// Input is everything ComputeSummary depends on besides the collaborators.
type Input struct {
	Lines        []domain.LineRequest
	Address      domain.Address
	DiscountCode string
	// Selection is the caller's chosen shipping option. It must name one of
	// the rate collaborator's options for Address, whose cost replaces the
	// caller's. When nil the engine returns the candidates instead.
	Selection *domain.ShippingOption
}

// NormalizeCode trims and upper-cases a discount code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ComputeSummary prices the cart. It fails with ErrValidation,
// ErrProductNotFound or ErrInvalidSize (all wrapped), or with whatever error
// the catalog or rate collaborators return.
func (e *Engine) ComputeSummary(ctx context.Context, in Input) (domain.Summary, error) {
	if err := validateLines(in.Lines); err != nil {
		return domain.Summary{}, err
	}
	if in.Selection != nil && in.Selection.Cost.IsNegative() {
		return domain.Summary{}, fmt.Errorf("%w: shipping cost must not be negative", domain.ErrValidation)
	}

	var (
		products   map[string]domain.Product
		candidates []domain.ShippingOption
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = e.catalog.Products(gctx, uniqueIDs(in.Lines))
		if err != nil {
			return fmt.Errorf("catalog lookup: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		candidates, err = e.shipping.Options(gctx, in.Address)
		if err != nil {
			return fmt.Errorf("shipping rates: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Summary{}, err
	}

	var selected *domain.ShippingOption
	if in.Selection != nil {
		opt, ok := matchOption(candidates, *in.Selection)
		if !ok {
			return domain.Summary{}, fmt.Errorf("%w: shipping option %s/%s is not offered for this address",
				domain.ErrValidation, in.Selection.Carrier, in.Selection.Service)
		}
		selected = &opt
	}

	items, err := resolveItems(in.Lines, products)
	if err != nil {
		return domain.Summary{}, err
	}

	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	subtotal = domain.Round2(subtotal)

	code := NormalizeCode(in.DiscountCode)
	discount := decimal.Zero
	if pct, ok := e.cfg.DiscountCodes[code]; ok {
		discount = domain.Percent(subtotal, pct)
	}

	baseGross := domain.Round2(subtotal.Sub(discount))
	vat := domain.Round2(baseGross.Sub(baseGross.Div(decimal.NewFromInt(1).Add(e.cfg.VATRate))))
	freeShipping := baseGross.GreaterThanOrEqual(e.cfg.FreeShippingThreshold)

	s := domain.Summary{
		Items:          items,
		Subtotal:       subtotal,
		DiscountCode:   code,
		DiscountAmount: discount,
		BaseGross:      baseGross,
		VATRate:        e.cfg.VATRate,
		VATAmount:      vat,
	}

	if selected != nil {
		if freeShipping {
			selected.Cost = decimal.Zero
		}
		s.Shipping = selected
	} else {
		s.ShippingOptions = make([]domain.ShippingOption, len(candidates))
		copy(s.ShippingOptions, candidates)
		for i := range s.ShippingOptions {
			if freeShipping {
				s.ShippingOptions[i].Cost = decimal.Zero
			}
		}
		sortOptions(s.ShippingOptions)
	}

	s.Total = domain.Round2(baseGross.Add(s.ShippingCost()))
	return s, nil
}

// FreeShipping reports whether an amount qualifies for free shipping.
func (e *Engine) FreeShipping(baseGross decimal.Decimal) bool {
	return baseGross.GreaterThanOrEqual(e.cfg.FreeShippingThreshold)
}

func validateLines(lines []domain.LineRequest) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: items must not be empty", domain.ErrValidation)
	}
	for i, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return fmt.Errorf("%w: items[%d].id is required", domain.ErrValidation, i)
		}
		if l.Qty < 1 {
			return fmt.Errorf("%w: items[%d].qty must be >= 1", domain.ErrValidation, i)
		}
	}
	return nil
}

func resolveItems(lines []domain.LineRequest, products map[string]domain.Product) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, l.ProductID)
		}
		size := strings.TrimSpace(l.Size)
		switch {
		case p.HasSizes() && !p.AllowsSize(size):
			return nil, fmt.Errorf("%w: product %s requires one of %v, got %q", domain.ErrInvalidSize, p.ID, p.Sizes, size)
		case !p.HasSizes() && size != "":
			return nil, fmt.Errorf("%w: product %s has no sizes, got %q", domain.ErrInvalidSize, p.ID, size)
		}
		items = append(items, domain.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Qty:       l.Qty,
			Size:      size,
			Image:     p.Image(),
		})
	}
	return items, nil
}

func uniqueIDs(lines []domain.LineRequest) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	sort.Strings(ids)
	return ids
}

func sortOptions(opts []domain.ShippingOption) {
	sort.SliceStable(opts, func(i, j int) bool {
		if c := opts[i].Cost.Cmp(opts[j].Cost); c != 0 {
			return c < 0
		}
		if opts[i].Carrier != opts[j].Carrier {
			return opts[i].Carrier < opts[j].Carrier
		}
		return opts[i].Service < opts[j].Service
	})
}

// matchOption finds the offered option the selection names. Carrier and
// service are compared case-insensitively; an empty zone matches any.
func matchOption(offered []domain.ShippingOption, sel domain.ShippingOption) (domain.ShippingOption, bool) {
	for _, o := range offered {
		if !strings.EqualFold(o.Carrier, strings.TrimSpace(sel.Carrier)) ||
			!strings.EqualFold(o.Service, strings.TrimSpace(sel.Service)) {
			continue
		}
		if zone := strings.TrimSpace(sel.Zone); zone != "" && !strings.EqualFold(o.Zone, zone) {
			continue
		}
		return o, true
	}
	return domain.ShippingOption{}, false
}
