package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the authoritative catalog entry. Price is tax-inclusive.
type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Tag             string          `json:"tag"`
	Images          []string        `json:"images"`
	Sizes           []string        `json:"sizes"`
	CollectionTitle string          `json:"collectionTitle"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// HasSizes reports whether a line for this product must name a size.
func (p Product) HasSizes() bool {
	return len(p.Sizes) > 0
}

func (p Product) AllowsSize(size string) bool {
	return slices.Contains(p.Sizes, size)
}

// Image returns the first display image, if any.
func (p Product) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}
