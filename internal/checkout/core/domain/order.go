package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusQuoted          OrderStatus = "quoted"
	StatusAwaitingPayment OrderStatus = "awaiting_payment"
	StatusPaid            OrderStatus = "paid"
	StatusCanceled        OrderStatus = "canceled"
)

// Terminal reports whether no further transition can leave this status.
func (s OrderStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCanceled
}

// CanFreeze reports whether Finalize may (re)write the snapshot.
func (s OrderStatus) CanFreeze() bool {
	return s == StatusQuoted || s == StatusAwaitingPayment
}

// CanCancel reports whether the administrative exit is allowed.
func (s OrderStatus) CanCancel() bool {
	return s == StatusQuoted || s == StatusAwaitingPayment
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusQuoted, StatusAwaitingPayment, StatusPaid, StatusCanceled:
		return true
	}
	return false
}

// OrderItem is a priced cart line. Name and Price are copied from the
// catalog when the order is priced and are never recomputed afterwards.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Qty       int             `json:"qty"`
	Size      string          `json:"size,omitempty"`
	Image     string          `json:"img,omitempty"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Qty)))
}

// Order is a snapshot of a priced cart, not a live view of it.
type Order struct {
	ID     string
	Status OrderStatus
	Items  []OrderItem
	Buyer  Buyer

	Subtotal       decimal.Decimal
	DiscountCode   string
	DiscountAmount decimal.Decimal
	VATRate        decimal.Decimal
	VATAmount      decimal.Decimal
	Shipping       *ShippingOption
	Total          decimal.Decimal

	PaymentSessionID string
	ReceiptRef       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewQuotedOrder builds a provisional order from a computed summary.
func NewQuotedOrder(id string, s Summary, buyer Buyer, now time.Time) *Order {
	o := &Order{
		ID:        id,
		Status:    StatusQuoted,
		CreatedAt: now,
	}
	o.apply(s, buyer, now)
	return o
}

// Freeze re-snapshots items, buyer and summary and moves the order to
// awaiting_payment. Paid and canceled orders are immutable.
func (o *Order) Freeze(s Summary, buyer Buyer, now time.Time) error {
	if !o.Status.CanFreeze() {
		return fmt.Errorf("%w: cannot finalize order %s in status %s", ErrInvalidTransition, o.ID, o.Status)
	}
	o.apply(s, buyer, now)
	o.Status = StatusAwaitingPayment
	return nil
}

func (o *Order) apply(s Summary, buyer Buyer, now time.Time) {
	o.Items = append([]OrderItem(nil), s.Items...)
	o.Buyer = buyer
	o.Subtotal = s.Subtotal
	o.DiscountCode = s.DiscountCode
	o.DiscountAmount = s.DiscountAmount
	o.VATRate = s.VATRate
	o.VATAmount = s.VATAmount
	o.Total = s.Total
	o.Shipping = nil
	if s.Shipping != nil {
		sel := *s.Shipping
		o.Shipping = &sel
	}
	o.UpdatedAt = now
}

// ShippingCost is the selected option's cost, or zero when none is selected.
func (o *Order) ShippingCost() decimal.Decimal {
	if o.Shipping == nil {
		return decimal.Zero
	}
	return o.Shipping.Cost
}

// BaseGross is the discounted, tax-inclusive merchandise amount.
func (o *Order) BaseGross() decimal.Decimal {
	return Round2(o.Subtotal.Sub(o.DiscountAmount))
}

// CheckTotal verifies total == round2(subtotal - discount + shipping).
func (o *Order) CheckTotal() error {
	want := Round2(o.Subtotal.Sub(o.DiscountAmount).Add(o.ShippingCost()))
	if !o.Total.Equal(want) {
		return fmt.Errorf("order %s: total %s does not match %s", o.ID, o.Total, want)
	}
	return nil
}
