package httpx

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/app"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

// CartItemDTO is one cart line as sent by the storefront. A price field, if
// present, is ignored.
type CartItemDTO struct {
	ID   string `json:"id"`
	Qty  int    `json:"qty"`
	Size string `json:"size,omitempty"`
}

type BuyerDTO struct {
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type ShippingDTO struct {
	Carrier string          `json:"carrier"`
	Service string          `json:"service"`
	Zone    string          `json:"zone"`
	Cost    decimal.Decimal `json:"cost"`
}

type SummaryRequest struct {
	Items        []CartItemDTO `json:"items"`
	Buyer        BuyerDTO      `json:"buyer"`
	DiscountCode string        `json:"discountCode,omitempty"`
}

type FinalizeRequest struct {
	OrderID      string        `json:"orderId,omitempty"`
	Items        []CartItemDTO `json:"items"`
	Buyer        BuyerDTO      `json:"buyer"`
	DiscountCode string        `json:"discountCode,omitempty"`
	Shipping     *ShippingDTO  `json:"shipping"`
}

type SessionRequest struct {
	OrderID string        `json:"orderId,omitempty"`
	Items   []CartItemDTO `json:"items"`
}

type SummaryItemResponse struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Price json.Number `json:"price"`
	Qty   int         `json:"qty"`
	Size  string      `json:"size,omitempty"`
	Img   string      `json:"img,omitempty"`
}

type ShippingOptionResponse struct {
	Carrier string      `json:"carrier"`
	Service string      `json:"service"`
	Zone    string      `json:"zone"`
	Cost    json.Number `json:"cost"`
}

type SummaryResponse struct {
	OrderID         string                   `json:"orderId"`
	Items           []SummaryItemResponse    `json:"items"`
	Subtotal        json.Number              `json:"subtotal"`
	DiscountCode    string                   `json:"discountCode"`
	DiscountAmount  json.Number              `json:"discountAmount"`
	VATRate         json.Number              `json:"vatRate"`
	VATAmount       json.Number              `json:"vatAmount"`
	ShippingOptions []ShippingOptionResponse `json:"shippingOptions"`
	Total           json.Number              `json:"total"`
}

type FinalizeResponse struct {
	OrderID    string            `json:"orderId"`
	Status     string            `json:"status"`
	Total      json.Number       `json:"total"`
	ReceiptURL string            `json:"receiptUrl,omitempty"`
	ShareLinks domain.ShareLinks `json:"shareLinks"`
}

type SessionResponse struct {
	OrderID     string `json:"orderId"`
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"checkoutUrl"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

type ConfirmResponse struct {
	Paid    bool   `json:"paid"`
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

type ProductResponse struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Price           json.Number `json:"price"`
	Tag             string      `json:"tag,omitempty"`
	Images          []string    `json:"images"`
	Sizes           []string    `json:"sizes"`
	CollectionTitle string      `json:"collectionTitle,omitempty"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// amount renders money as a JSON number with two decimals.
func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func toLines(items []CartItemDTO) []domain.LineRequest {
	out := make([]domain.LineRequest, len(items))
	for i, it := range items {
		out[i] = domain.LineRequest{ProductID: strings.TrimSpace(it.ID), Qty: it.Qty, Size: strings.TrimSpace(it.Size)}
	}
	return out
}

func (b BuyerDTO) toDomain() domain.Buyer {
	return domain.Buyer{
		FullName: b.FullName,
		Email:    b.Email,
		Phone:    b.Phone,
		Address: domain.Address{
			Line1:      b.Line1,
			Line2:      b.Line2,
			City:       b.City,
			Province:   b.Province,
			PostalCode: b.PostalCode,
			Country:    b.Country,
		},
	}
}

func (s *ShippingDTO) toDomain() *domain.ShippingOption {
	if s == nil {
		return nil
	}
	return &domain.ShippingOption{Carrier: s.Carrier, Service: s.Service, Zone: s.Zone, Cost: s.Cost}
}

func mapSummary(res app.QuoteResult) SummaryResponse {
	sum := res.Summary
	items := make([]SummaryItemResponse, len(sum.Items))
	for i, it := range sum.Items {
		items[i] = SummaryItemResponse{
			ID:    it.ProductID,
			Name:  it.Name,
			Price: amount(it.Price),
			Qty:   it.Qty,
			Size:  it.Size,
			Img:   it.Image,
		}
	}
	options := make([]ShippingOptionResponse, len(sum.ShippingOptions))
	for i, o := range sum.ShippingOptions {
		options[i] = ShippingOptionResponse{Carrier: o.Carrier, Service: o.Service, Zone: o.Zone, Cost: amount(o.Cost)}
	}
	return SummaryResponse{
		OrderID:         res.OrderID,
		Items:           items,
		Subtotal:        amount(sum.Subtotal),
		DiscountCode:    sum.DiscountCode,
		DiscountAmount:  amount(sum.DiscountAmount),
		VATRate:         json.Number(sum.VATRate.String()),
		VATAmount:       amount(sum.VATAmount),
		ShippingOptions: options,
		Total:           amount(sum.Total),
	}
}

// mapProduct absolutises relative image paths against the storefront URL.
func mapProduct(p domain.Product, frontURL string) ProductResponse {
	images := make([]string, len(p.Images))
	for i, img := range p.Images {
		images[i] = absoluteURL(img, frontURL)
	}
	sizes := p.Sizes
	if sizes == nil {
		sizes = []string{}
	}
	return ProductResponse{
		ID:              p.ID,
		Name:            p.Name,
		Price:           amount(p.Price),
		Tag:             p.Tag,
		Images:          images,
		Sizes:           sizes,
		CollectionTitle: p.CollectionTitle,
	}
}

func absoluteURL(p, base string) string {
	lower := strings.ToLower(p)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return p
	}
	return base + "/" + strings.TrimLeft(p, "/")
}
