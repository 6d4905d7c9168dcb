package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

type fakeCatalog map[string]domain.Product

func (f fakeCatalog) Products(_ context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := f[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeRates struct {
	opts []domain.ShippingOption
	err  error
}

func (f fakeRates) Options(context.Context, domain.Address) ([]domain.ShippingOption, error) {
	return f.opts, f.err
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"tee":    {ID: "tee", Name: "Logo Tee", Price: dec("24.90"), Sizes: []string{"S", "M", "L"}, Images: []string{"/img/tee.jpg"}},
		"mug":    {ID: "mug", Name: "Mug", Price: dec("12.00")},
		"hoodie": {ID: "hoodie", Name: "Hoodie", Price: dec("60.00"), Sizes: []string{"M", "L"}},
	}
}

func testEngine(rates fakeRates) *Engine {
	return NewEngine(testCatalog(), rates, Config{
		VATRate:               dec("0.21"),
		FreeShippingThreshold: dec("100"),
		DiscountCodes:         map[string]decimal.Decimal{"bk5": dec("5"), "BK10": dec("10")},
	})
}

// offered is what the rate collaborator quotes for every address in these
// tests.
func offered() fakeRates {
	return fakeRates{opts: []domain.ShippingOption{
		{Carrier: "Correos", Service: "standard", Zone: "peninsula", Cost: dec("4.95")},
		{Carrier: "Correos", Service: "express", Zone: "peninsula", Cost: dec("9.90")},
	}}
}

func standard(cost string) *domain.ShippingOption {
	return &domain.ShippingOption{Carrier: "Correos", Service: "standard", Zone: "peninsula", Cost: dec(cost)}
}

func TestComputeSummary_DiscountAndShipping(t *testing.T) {
	e := testEngine(offered())

	s, err := e.ComputeSummary(context.Background(), Input{
		Lines:        []domain.LineRequest{{ProductID: "tee", Qty: 2, Size: "M"}},
		DiscountCode: " bk5 ",
		Selection:    standard("4.95"),
	})
	require.NoError(t, err)

	assert.Equal(t, "49.8", s.Subtotal.String())
	assert.Equal(t, "BK5", s.DiscountCode)
	assert.Equal(t, "2.49", s.DiscountAmount.String())
	assert.Equal(t, "47.31", s.BaseGross.String())
	assert.Equal(t, "8.21", s.VATAmount.String())
	require.NotNil(t, s.Shipping)
	assert.Equal(t, "4.95", s.Shipping.Cost.String())
	assert.Equal(t, "52.26", s.Total.String())

	require.Len(t, s.Items, 1)
	assert.Equal(t, "Logo Tee", s.Items[0].Name)
	assert.Equal(t, "/img/tee.jpg", s.Items[0].Image)
}

func TestComputeSummary_FreeShippingAboveThreshold(t *testing.T) {
	e := testEngine(fakeRates{opts: []domain.ShippingOption{*standard("6.00")}})

	s, err := e.ComputeSummary(context.Background(), Input{
		Lines:        []domain.LineRequest{{ProductID: "hoodie", Qty: 2, Size: "L"}},
		DiscountCode: "BK5",
	})
	require.NoError(t, err)

	assert.Equal(t, "120", s.Subtotal.String())
	assert.Equal(t, "6", s.DiscountAmount.String())
	assert.Equal(t, "114", s.BaseGross.String())
	require.Len(t, s.ShippingOptions, 1)
	assert.True(t, s.ShippingOptions[0].Cost.IsZero())
	assert.Nil(t, s.Shipping)
	assert.Equal(t, "114.00", s.Total.StringFixed(2))
}

func TestComputeSummary_FreeShippingAppliesToSelection(t *testing.T) {
	e := testEngine(offered())

	s, err := e.ComputeSummary(context.Background(), Input{
		Lines:     []domain.LineRequest{{ProductID: "hoodie", Qty: 2, Size: "M"}},
		Selection: standard("6.00"),
	})
	require.NoError(t, err)
	assert.True(t, s.Shipping.Cost.IsZero())
	assert.Equal(t, "120", s.Total.String())
}

func TestComputeSummary_ThresholdUsesDiscountedAmount(t *testing.T) {
	e := testEngine(offered())

	s, err := e.ComputeSummary(context.Background(), Input{
		Lines:        []domain.LineRequest{{ProductID: "tee", Qty: 5, Size: "S"}},
		DiscountCode: "BK10",
		Selection:    standard("4.95"),
	})
	require.NoError(t, err)
	assert.Equal(t, "124.5", s.Subtotal.String())
	assert.Equal(t, "12.45", s.DiscountAmount.String())
	assert.Equal(t, "112.05", s.BaseGross.String())
	assert.True(t, s.Shipping.Cost.IsZero())

	// Subtotal 109.80 is over the threshold but the discounted amount is not.
	s, err = e.ComputeSummary(context.Background(), Input{
		Lines:        []domain.LineRequest{{ProductID: "hoodie", Qty: 1, Size: "M"}, {ProductID: "tee", Qty: 2, Size: "L"}},
		DiscountCode: "BK10",
		Selection:    standard("4.95"),
	})
	require.NoError(t, err)
	assert.Equal(t, "109.8", s.Subtotal.String())
	assert.Equal(t, "98.82", s.BaseGross.String())
	assert.Equal(t, "4.95", s.Shipping.Cost.String())
	assert.Equal(t, "103.77", s.Total.String())
}

func TestComputeSummary_UnknownCodeRecordedWithZeroDiscount(t *testing.T) {
	e := testEngine(offered())

	s, err := e.ComputeSummary(context.Background(), Input{
		Lines:        []domain.LineRequest{{ProductID: "mug", Qty: 1}},
		DiscountCode: "nope",
		Selection:    standard("4.95"),
	})
	require.NoError(t, err)
	assert.Equal(t, "NOPE", s.DiscountCode)
	assert.True(t, s.DiscountAmount.IsZero())
	assert.Equal(t, "16.95", s.Total.String())
}

func TestComputeSummary_IgnoresClientPrice(t *testing.T) {
	// LineRequest carries no price field: whatever the client believed the
	// price was, the catalog price is the one used.
	e := testEngine(offered())
	s, err := e.ComputeSummary(context.Background(), Input{
		Lines:     []domain.LineRequest{{ProductID: "mug", Qty: 3}},
		Selection: standard("4.95"),
	})
	require.NoError(t, err)
	assert.Equal(t, "12", s.Items[0].Price.String())
	assert.Equal(t, "40.95", s.Total.String())
}

func TestComputeSummary_SelectionUsesOfferedCost(t *testing.T) {
	e := testEngine(offered())

	s, err := e.ComputeSummary(context.Background(), Input{
		Lines:     []domain.LineRequest{{ProductID: "mug", Qty: 1}},
		Selection: &domain.ShippingOption{Carrier: "correos", Service: "Express", Cost: dec("0")},
	})
	require.NoError(t, err)
	require.NotNil(t, s.Shipping)
	assert.Equal(t, "Correos", s.Shipping.Carrier)
	assert.Equal(t, "peninsula", s.Shipping.Zone)
	assert.Equal(t, "9.9", s.Shipping.Cost.String())
	assert.Equal(t, "21.9", s.Total.String())
	assert.Nil(t, s.ShippingOptions)
}

func TestComputeSummary_Errors(t *testing.T) {
	e := testEngine(offered())

	tests := []struct {
		name string
		in   Input
		want error
	}{
		{"empty cart", Input{}, domain.ErrValidation},
		{"zero qty", Input{Lines: []domain.LineRequest{{ProductID: "mug", Qty: 0}}}, domain.ErrValidation},
		{"missing id", Input{Lines: []domain.LineRequest{{Qty: 1}}}, domain.ErrValidation},
		{"negative shipping", Input{Lines: []domain.LineRequest{{ProductID: "mug", Qty: 1}}, Selection: standard("-1")}, domain.ErrValidation},
		{"shipping not offered", Input{Lines: []domain.LineRequest{{ProductID: "mug", Qty: 1}}, Selection: &domain.ShippingOption{Carrier: "DHL", Service: "standard", Cost: dec("0")}}, domain.ErrValidation},
		{"shipping zone mismatch", Input{Lines: []domain.LineRequest{{ProductID: "mug", Qty: 1}}, Selection: &domain.ShippingOption{Carrier: "Correos", Service: "standard", Zone: "baleares", Cost: dec("4.95")}}, domain.ErrValidation},
		{"unknown product", Input{Lines: []domain.LineRequest{{ProductID: "ghost", Qty: 1}}}, domain.ErrProductNotFound},
		{"size not offered", Input{Lines: []domain.LineRequest{{ProductID: "tee", Qty: 1, Size: "XXL"}}}, domain.ErrInvalidSize},
		{"size missing", Input{Lines: []domain.LineRequest{{ProductID: "tee", Qty: 1}}}, domain.ErrInvalidSize},
		{"size on sizeless product", Input{Lines: []domain.LineRequest{{ProductID: "mug", Qty: 1, Size: "M"}}}, domain.ErrInvalidSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ComputeSummary(context.Background(), tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestComputeSummary_RatesFailurePropagates(t *testing.T) {
	boom := errors.New("rates down")
	e := testEngine(fakeRates{err: boom})

	_, err := e.ComputeSummary(context.Background(), Input{
		Lines: []domain.LineRequest{{ProductID: "mug", Qty: 1}},
	})
	assert.ErrorIs(t, err, boom)
}

func TestComputeSummary_Deterministic(t *testing.T) {
	e := testEngine(fakeRates{opts: []domain.ShippingOption{
		{Carrier: "Correos", Service: "express", Zone: "peninsula", Cost: dec("9.90")},
		{Carrier: "Correos", Service: "standard", Zone: "peninsula", Cost: dec("4.95")},
		{Carrier: "GLS", Service: "standard", Zone: "peninsula", Cost: dec("4.95")},
	}})
	in := Input{
		Lines:        []domain.LineRequest{{ProductID: "tee", Qty: 1, Size: "L"}, {ProductID: "mug", Qty: 2}},
		DiscountCode: "BK10",
	}

	first, err := e.ComputeSummary(context.Background(), in)
	require.NoError(t, err)
	for range 5 {
		again, err := e.ComputeSummary(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	require.Len(t, first.ShippingOptions, 3)
	assert.Equal(t, "Correos", first.ShippingOptions[0].Carrier)
	assert.Equal(t, "standard", first.ShippingOptions[0].Service)
	assert.Equal(t, "GLS", first.ShippingOptions[1].Carrier)
	assert.Equal(t, "express", first.ShippingOptions[2].Service)
}

func TestComputeSummary_Invariants(t *testing.T) {
	e := testEngine(offered())
	carts := [][]domain.LineRequest{
		{{ProductID: "mug", Qty: 1}},
		{{ProductID: "tee", Qty: 3, Size: "M"}},
		{{ProductID: "tee", Qty: 1, Size: "S"}, {ProductID: "mug", Qty: 7}},
		{{ProductID: "hoodie", Qty: 1, Size: "M"}, {ProductID: "tee", Qty: 2, Size: "L"}},
	}
	codes := []string{"", "BK5", "BK10", "other"}
	services := []string{"standard", "express"}

	for _, lines := range carts {
		for _, code := range codes {
			for _, service := range services {
				sel := &domain.ShippingOption{Carrier: "Correos", Service: service}
				s, err := e.ComputeSummary(context.Background(), Input{Lines: lines, DiscountCode: code, Selection: sel})
				require.NoError(t, err)

				want := domain.Round2(s.Subtotal.Sub(s.DiscountAmount).Add(s.ShippingCost()))
				assert.True(t, s.Total.Equal(want), "total %s != %s", s.Total, want)
				assert.False(t, s.DiscountAmount.IsNegative())
				assert.True(t, s.DiscountAmount.LessThanOrEqual(s.Subtotal))
				assert.False(t, s.VATAmount.IsNegative())
				assert.True(t, s.VATAmount.LessThanOrEqual(s.BaseGross))
				if s.BaseGross.GreaterThanOrEqual(dec("100")) {
					assert.True(t, s.ShippingCost().IsZero())
				}
			}
		}
	}
}
