package pdf

import (
	"context"
	"errors"
	"strings"

	"github.com/gosimple/slug"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
)

const dateLayout = "2006-01-02"

var ErrEmptyInvoice = errors.New("invoice_document_empty")

// InvoiceDocument is everything printed on an invoice.
type InvoiceDocument struct {
	Invoice invoicedomain.Invoice
	Lines   []invoicedomain.LineItem
}

type MarotoRenderer struct {
	issuer string
}

func New(issuer string) *MarotoRenderer {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = "Training Provider"
	}
	return &MarotoRenderer{issuer: issuer}
}

// FileName derives a download name from the invoice number.
func FileName(number string) string {
	name := slug.Make(number)
	if name == "" {
		name = "invoice"
	}
	return name + ".pdf"
}

// Title is the document heading for the invoice's numbering class.
func Title(class scheduledomain.InvoiceClass) string {
	if class == scheduledomain.InvoiceClassTax {
		return "Tax Invoice"
	}
	return "Pro Forma Invoice"
}

func (r *MarotoRenderer) RenderInvoice(ctx context.Context, doc InvoiceDocument) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inv := doc.Invoice
	if inv.ID == 0 || inv.Number == "" {
		return nil, ErrEmptyInvoice
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, Title(inv.InvoiceClass), props.Text{Size: 18, Style: fontstyle.Bold}),
		text.NewCol(4, r.issuer, props.Text{Style: fontstyle.Bold, Align: align.Right}),
	)

	m.AddRow(22,
		col.New(6).Add(
			text.New("Invoice number: "+inv.Number),
			text.New("Date of issue: "+inv.InvoiceDate.Format(dateLayout), props.Text{Top: 5}),
			text.New("Date due: "+inv.DueDate.Format(dateLayout), props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(inv.PartyName, props.Text{Top: 5}),
			text.New(inv.PartyEmail, props.Text{Top: 10}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range doc.Lines {
		m.AddRow(8,
			text.NewCol(6, line.Description, props.Text{Size: 9}),
			text.NewCol(2, line.Quantity.String(), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(line.UnitPrice), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(line.Amount), props.Text{Size: 9, Align: align.Right}),
		)
	}

	vatLabel := "VAT (" + inv.VATRate.Mul(decimal.NewFromInt(100)).StringFixed(0) + "%)"
	totals := []struct {
		label string
		value decimal.Decimal
		bold  bool
	}{
		{"Subtotal", inv.Subtotal, false},
		{vatLabel, inv.VATAmount, false},
		{"Total", inv.Total, false},
		{"Amount paid", inv.AmountPaid, false},
		{"Balance due", inv.BalanceDue(), true},
	}
	for _, row := range totals {
		style := props.Text{Size: 9}
		if row.bold {
			style.Style = fontstyle.Bold
		}
		valueStyle := style
		valueStyle.Align = align.Right
		m.AddRow(7,
			col.New(8),
			text.NewCol(2, row.label, style),
			text.NewCol(2, money(row.value), valueStyle),
		)
	}

	if notes := strings.TrimSpace(inv.Notes); notes != "" {
		m.AddRow(12, text.NewCol(12, notes, props.Text{Size: 8, Top: 4}))
	}

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return out.GetBytes(), nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
