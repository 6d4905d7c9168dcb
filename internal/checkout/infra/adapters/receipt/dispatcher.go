// Package receipt renders order receipts to PDF files and builds the links
// a buyer can use to share them.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

var (
	ErrInvalidName = errors.New("receipt: invalid file name")

	namePattern = regexp.MustCompile(`^receipt_[A-Za-z0-9_-]+\.pdf$`)
	nonDigits   = regexp.MustCompile(`\D`)
)

type Config struct {
	Dir           string
	PublicBaseURL string

	VendorName     string
	VendorEmail    string
	VendorWebsite  string
	VendorWhatsApp string

	FreeShippingThreshold decimal.Decimal
}

// Dispatcher writes receipts under Dir and serves them back by name.
type Dispatcher struct {
	cfg      Config
	renderer *Renderer
}

var _ ports.ReceiptDispatcher = (*Dispatcher)(nil)

func NewDispatcher(cfg Config) *Dispatcher {
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Dispatcher{
		cfg: cfg,
		renderer: NewRenderer(Vendor{
			Name:    cfg.VendorName,
			Email:   cfg.VendorEmail,
			Website: cfg.VendorWebsite,
		}, cfg.FreeShippingThreshold),
	}
}

// FileName is the stored name of an order's receipt.
func FileName(orderID string) string {
	return "receipt_" + orderID + ".pdf"
}

// Dispatch renders the receipt and returns its public URL and share links.
// On a rendering failure the share links are still returned, without the
// document URL, together with the error.
func (d *Dispatcher) Dispatch(ctx context.Context, o domain.Order) (domain.Receipt, error) {
	name := FileName(o.ID)
	receiptURL := d.cfg.PublicBaseURL + "/receipts/" + name

	if err := d.write(o, name); err != nil {
		slog.ErrorContext(ctx, "receipt rendering failed", "order_id", o.ID, "error", err)
		return domain.Receipt{Share: d.shareLinks(o, "")}, err
	}
	return domain.Receipt{
		Ref:   name,
		URL:   receiptURL,
		Share: d.shareLinks(o, receiptURL),
	}, nil
}

// write renders into a temp file and renames it, so readers never see a
// partial document.
func (d *Dispatcher) write(o domain.Order, name string) error {
	if err := os.MkdirAll(d.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("receipt dir: %w", err)
	}
	tmp, err := os.CreateTemp(d.cfg.Dir, ".receipt-*.tmp")
	if err != nil {
		return fmt.Errorf("receipt temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := d.renderer.Render(o, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("receipt close: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(d.cfg.Dir, name))
}

// Open returns a stored receipt for serving. Names not produced by
// FileName fail with ErrInvalidName.
func (d *Dispatcher) Open(name string) (*os.File, error) {
	if !namePattern.MatchString(name) {
		return nil, ErrInvalidName
	}
	return os.Open(filepath.Join(d.cfg.Dir, name))
}

func (d *Dispatcher) shareLinks(o domain.Order, receiptURL string) domain.ShareLinks {
	var links domain.ShareLinks
	number := Number(o.ID)

	if o.Buyer.Email != "" {
		subject := fmt.Sprintf("Tu recibo %s - pedido %s", d.cfg.VendorName, number)
		body := "Gracias por tu compra."
		if receiptURL != "" {
			body += " Recibo: " + receiptURL
		}
		links.Mailto = "mailto:" + url.PathEscape(o.Buyer.Email) +
			"?subject=" + mailtoEscape(subject) +
			"&body=" + mailtoEscape(body)
	}

	if phone := nonDigits.ReplaceAllString(d.cfg.VendorWhatsApp, ""); phone != "" {
		text := fmt.Sprintf("Hola, he realizado el pedido %s por %s.", number, money(o.Total))
		if receiptURL != "" {
			text += " Recibo: " + receiptURL
		}
		links.WhatsApp = "https://wa.me/" + phone + "?text=" + url.QueryEscape(text)
	}
	return links
}

// mailtoEscape is query escaping with %20 for spaces; mail clients do not
// decode "+".
func mailtoEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
