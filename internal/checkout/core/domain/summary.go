package domain

import "github.com/shopspring/decimal"

// ShippingOption is a candidate or selected delivery method.
type ShippingOption struct {
	Carrier string          `json:"carrier"`
	Service string          `json:"service"`
	Zone    string          `json:"zone"`
	Cost    decimal.Decimal `json:"cost"`
}

// Summary is the monetary result of pricing a cart.
//
// Either ShippingOptions (candidates, nothing selected) or Shipping (the
// caller's selection) is populated, never both.
type Summary struct {
	Items          []OrderItem
	Subtotal       decimal.Decimal
	DiscountCode   string
	DiscountAmount decimal.Decimal
	BaseGross      decimal.Decimal
	VATRate        decimal.Decimal
	VATAmount      decimal.Decimal

	ShippingOptions []ShippingOption
	Shipping        *ShippingOption

	Total decimal.Decimal
}

func (s Summary) ShippingCost() decimal.Decimal {
	if s.Shipping == nil {
		return decimal.Zero
	}
	return s.Shipping.Cost
}

// LineRequest is one client-submitted cart line. Any price the client
// sends is ignored; only the catalog price is used.
type LineRequest struct {
	ProductID string
	Qty       int
	Size      string
}
