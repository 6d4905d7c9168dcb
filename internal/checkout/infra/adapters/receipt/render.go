package receipt

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

// Vendor is the seller block printed at the top of every receipt.
type Vendor struct {
	Name    string
	Email   string
	Website string
}

const (
	margin   = 14.0 // mm
	lineH    = 5.0
	colQty   = 18.0
	colUnit  = 28.0
	colTotal = 30.0

	footer = "Gracias por tu compra. Cupón -10% para próxima compra: BK10"
)

// Renderer lays out an A4 receipt for a frozen order. Core fonts only, so
// text goes through the cp1252 translator.
type Renderer struct {
	vendor    Vendor
	threshold decimal.Decimal
}

func NewRenderer(vendor Vendor, freeShippingThreshold decimal.Decimal) *Renderer {
	return &Renderer{vendor: vendor, threshold: freeShippingThreshold}
}

func money(d decimal.Decimal) string {
	return "€" + d.StringFixed(2)
}

// Number is the short order number shown to buyers.
func Number(orderID string) string {
	if len(orderID) <= 8 {
		return orderID
	}
	return orderID[len(orderID)-8:]
}

// Render writes the PDF for o to w.
func (r *Renderer) Render(o domain.Order, w io.Writer) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.SetCreationDate(o.UpdatedAt)
	pdf.SetTitle("Recibo "+Number(o.ID), true)
	pdf.SetAuthor(r.vendor.Name, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	usable := pageW - 2*margin
	half := usable / 2

	pdf.AddPage()

	// Header
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(usable, 12, "RECIBO", "", 1, "R", false, 0, "")
	r.rule(pdf, usable)

	// Vendor | Order
	top := pdf.GetY() + 3
	r.block(pdf, tr, margin, top, half, "Vendedor", []string{r.vendor.Name, r.vendor.Email, r.vendor.Website})
	leftY := pdf.GetY()
	date := o.CreatedAt
	r.block(pdf, tr, margin+half, top, half, "Pedido", []string{
		"Nº: " + Number(o.ID),
		"Fecha: " + date.Format("02/01/2006"),
	})
	top = max(leftY, pdf.GetY()) + 4

	// Buyer | Shipping address
	b := o.Buyer
	r.block(pdf, tr, margin, top, half, "Comprador", []string{b.FullName, b.Email, b.Phone})
	leftY = pdf.GetY()
	r.block(pdf, tr, margin+half, top, half, "Envío", []string{
		b.Line1, b.Line2, strings.TrimSpace(b.PostalCode + " " + b.City), b.Province, b.Country,
	})
	pdf.SetY(max(leftY, pdf.GetY()) + 4)
	r.rule(pdf, usable)

	// Items
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(usable, 8, tr("Artículos"), "", 1, "L", false, 0, "")

	colName := usable - colQty - colUnit - colTotal
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(85, 85, 85)
	pdf.CellFormat(colName, lineH, "Producto", "B", 0, "L", false, 0, "")
	pdf.CellFormat(colQty, lineH, "Cant.", "B", 0, "R", false, 0, "")
	pdf.CellFormat(colUnit, lineH, "Precio", "B", 0, "R", false, 0, "")
	pdf.CellFormat(colTotal, lineH, "Importe", "B", 1, "R", false, 0, "")
	pdf.SetTextColor(17, 17, 17)
	pdf.SetFont("Helvetica", "", 10)
	for _, it := range o.Items {
		name := it.Name
		if it.Size != "" {
			name += " - Talla " + it.Size
		}
		pdf.CellFormat(colName, lineH+2, tr(name), "", 0, "L", false, 0, "")
		pdf.CellFormat(colQty, lineH+2, strconv.Itoa(it.Qty), "", 0, "R", false, 0, "")
		pdf.CellFormat(colUnit, lineH+2, tr(money(it.Price)), "", 0, "R", false, 0, "")
		pdf.CellFormat(colTotal, lineH+2, tr(money(it.LineTotal())), "", 1, "R", false, 0, "")
	}
	pdf.Ln(2)
	r.rule(pdf, usable)

	// Totals. Prices already include VAT; the VAT line is informational.
	baseGross := o.BaseGross()
	shipping := o.ShippingCost()
	labelW := colUnit + 30
	labelX := margin + usable - colTotal - labelW
	line := func(label string, v decimal.Decimal, bold bool) {
		style, size := "", 10.0
		if bold {
			style, size = "B", 11
		}
		pdf.SetFont("Helvetica", style, size)
		pdf.SetX(labelX)
		pdf.CellFormat(labelW, lineH+1, tr(label), "", 0, "R", false, 0, "")
		pdf.CellFormat(colTotal, lineH+1, tr(money(v)), "", 1, "R", false, 0, "")
	}
	line("Subtotal (IVA incl.)", o.Subtotal, false)
	if !o.DiscountAmount.IsZero() {
		line("Descuento", o.DiscountAmount.Abs().Neg(), false)
	}
	line("IVA (informativo)", o.VATAmount, false)
	shipLabel := "Envío"
	if baseGross.GreaterThanOrEqual(r.threshold) {
		shipLabel += " (gratis)"
	}
	line(shipLabel, shipping, false)
	pdf.Line(labelX, pdf.GetY()+1, margin+usable, pdf.GetY()+1)
	pdf.Ln(2)
	line("Total", domain.Round2(baseGross.Add(shipping)), true)

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(102, 102, 102)
	pdf.MultiCell(usable, lineH, tr(footer), "", "L", false)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render receipt %s: %w", o.ID, err)
	}
	return nil
}

func (r *Renderer) rule(pdf *fpdf.Fpdf, width float64) {
	y := pdf.GetY() + 1
	pdf.SetDrawColor(204, 204, 204)
	pdf.SetLineWidth(0.2)
	pdf.Line(margin, y, margin+width, y)
	pdf.SetY(y + 2)
}

// block prints a titled column of non-empty lines starting at (x, y).
func (r *Renderer) block(pdf *fpdf.Fpdf, tr func(string) string, x, y, w float64, title string, lines []string) {
	pdf.SetXY(x, y)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(w, lineH+1, tr(title), "", 2, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(17, 17, 17)
	for _, l := range lines {
		if l == "" {
			continue
		}
		pdf.CellFormat(w, lineH, tr(l), "", 2, "L", false, 0, "")
	}
}
