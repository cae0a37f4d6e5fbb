// Package invoice renders a stored sale as a printable HTML page. Sale times
// are stored in UTC and converted to the display zone only here.
package invoice

import (
	"fmt"
	"html/template"
	"io"
	"time"

	_ "time/tzdata"

	"stockpos/internal/domain"
)

const DateLayout = "2006-01-02 15:04 MST"

type Line struct {
	Name      string
	SKU       string
	Quantity  int
	UnitPrice string
	Discount  string
	Total     string
}

type View struct {
	SaleID        int64
	Date          string
	Customer      string
	Email         string
	Phone         string
	PaymentMethod string
	Lines         []Line
	Total         string
	Discount      string
	Tax           string
	Final         string
}

// LoadLocation resolves an IANA zone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid display timezone %q: %w", name, err)
	}
	return loc, nil
}

func NewView(sale domain.Sale, loc *time.Location) View {
	if loc == nil {
		loc = time.UTC
	}
	view := View{
		SaleID:        sale.ID,
		Date:          sale.SaleDate.In(loc).Format(DateLayout),
		Customer:      sale.CustomerName,
		Email:         sale.CustomerEmail,
		Phone:         sale.CustomerPhone,
		PaymentMethod: sale.PaymentMethod,
		Lines:         make([]Line, 0, len(sale.Items)),
		Total:         sale.TotalAmount.StringFixed(2),
		Discount:      sale.DiscountAmount.StringFixed(2),
		Tax:           sale.TaxAmount.StringFixed(2),
		Final:         sale.FinalAmount.StringFixed(2),
	}
	for _, item := range sale.Items {
		view.Lines = append(view.Lines, Line{
			Name:      item.ProductName,
			SKU:       item.ProductSKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Discount:  lineDiscount(item),
			Total:     item.TotalPrice.StringFixed(2),
		})
	}
	return view
}

func lineDiscount(item domain.SaleItem) string {
	switch item.DiscountType {
	case domain.DiscountPercent:
		return fmt.Sprintf("%s (%s%%)", item.DiscountAmount.StringFixed(2), item.DiscountValue.String())
	case domain.DiscountFixed:
		return item.DiscountAmount.StringFixed(2)
	default:
		return "-"
	}
}

var invoiceTmpl = template.Must(template.New("invoice").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Invoice #{{.SaleID}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
  </style>
</head>
<body>
  <h2>Invoice #{{.SaleID}}</h2>
  <p>Date: {{.Date}}</p>
  <p>Customer: {{.Customer}}</p>
{{- if .Email}}
  <p>Email: {{.Email}}</p>
{{- end}}
{{- if .Phone}}
  <p>Phone: {{.Phone}}</p>
{{- end}}
  <p>Payment: {{.PaymentMethod}}</p>
  <table>
    <thead><tr><th>Item</th><th>SKU</th><th>Qty</th><th>Unit Price</th><th>Discount</th><th>Total</th></tr></thead>
    <tbody>
{{- range .Lines}}
      <tr><td>{{.Name}}</td><td>{{.SKU}}</td><td style="text-align:right;">{{.Quantity}}</td><td style="text-align:right;">{{.UnitPrice}}</td><td style="text-align:right;">{{.Discount}}</td><td style="text-align:right;">{{.Total}}</td></tr>
{{- end}}
    </tbody>
  </table>
  <p>Subtotal: {{.Total}}</p>
  <p>Discount: {{.Discount}}</p>
  <p>Tax: {{.Tax}}</p>
  <p><strong>Total: {{.Final}}</strong></p>
</body>
</html>
`))

func Render(w io.Writer, view View) error {
	return invoiceTmpl.Execute(w, view)
}
