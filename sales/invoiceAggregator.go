package sales

import (
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/utils"
	"github.com/shopspring/decimal"
)

type Totals struct {
	Subtotal decimal.Decimal
	Cgst     decimal.Decimal
	Sgst     decimal.Decimal
	Igst     decimal.Decimal
	Total    decimal.Decimal
	Paid     decimal.Decimal
	Pending  decimal.Decimal
}

// ComputeTotals derives the invoice aggregates from its lines. GST lines are
// taxed at the product's own rates when set, otherwise at the invoice rates.
func ComputeTotals(invoice *models.SalesInvoice, lines []models.SaleLine, products map[int]*models.Product) (Totals, error) {
	var t Totals
	for _, line := range lines {
		t.Subtotal = t.Subtotal.Add(line.Amount)
		if !invoice.IsGst {
			continue
		}
		cgst, sgst, igst := invoice.CgstRate, invoice.SgstRate, invoice.IgstRate
		if p, ok := products[line.ProductId]; ok {
			cgst = utils.DereferencePtr(p.CgstRate, cgst)
			sgst = utils.DereferencePtr(p.SgstRate, sgst)
			igst = utils.DereferencePtr(p.IgstRate, igst)
		}
		t.Cgst = t.Cgst.Add(utils.CalculateTaxAmount(line.Amount, cgst))
		t.Sgst = t.Sgst.Add(utils.CalculateTaxAmount(line.Amount, sgst))
		t.Igst = t.Igst.Add(utils.CalculateTaxAmount(line.Amount, igst))
	}
	t.Subtotal = t.Subtotal.Round(4)
	t.Cgst = t.Cgst.Round(4)
	t.Sgst = t.Sgst.Round(4)
	t.Igst = t.Igst.Round(4)
	t.Total = t.Subtotal.Add(t.Cgst).Add(t.Sgst).Add(t.Igst)

	switch invoice.PaymentStatus {
	case models.PaymentStatusComplete:
		t.Paid = t.Total
	case models.PaymentStatusPending:
		t.Paid = decimal.Zero
	case models.PaymentStatusPartial:
		t.Paid = invoice.PaidAmount
		if t.Paid.IsNegative() {
			return t, invalidInvoice("paid_amount", "paid amount must not be negative")
		}
		if !utils.FitsStorageScale(t.Paid) {
			return t, invalidInvoice("paid_amount", "paid amount %s has more than %d decimal places", t.Paid.String(), utils.StorageScale)
		}
		if t.Paid.GreaterThan(t.Total) {
			return t, invalidInvoice("paid_amount", "paid amount %s exceeds invoice total %s", t.Paid.String(), t.Total.String())
		}
	default:
		return t, invalidInvoice("payment_status", "invalid payment status %q", invoice.PaymentStatus)
	}
	t.Pending = t.Total.Sub(t.Paid)
	return t, nil
}

func applyTotals(invoice *models.SalesInvoice, t Totals) {
	invoice.InvoiceSubtotal = t.Subtotal
	invoice.CgstAmount = t.Cgst
	invoice.SgstAmount = t.Sgst
	invoice.IgstAmount = t.Igst
	invoice.InvoiceTotalAmount = t.Total
	invoice.PaidAmount = t.Paid
	invoice.PendingAmount = t.Pending
}

// Recompute reads the invoice's lines back and persists fresh aggregates.
// It is the last step of every mutation.
func Recompute(tx Tx, invoice *models.SalesInvoice) error {
	lines, err := tx.ListSaleLines(invoice.ID)
	if err != nil {
		return storageFailure("list sale lines", err)
	}
	products, err := productsForLines(tx, lines)
	if err != nil {
		return err
	}
	totals, err := ComputeTotals(invoice, lines, products)
	if err != nil {
		return err
	}
	applyTotals(invoice, totals)
	if err := tx.SaveInvoice(invoice); err != nil {
		return storageFailure("save sales invoice", err)
	}
	return nil
}

func productsForLines(tx Tx, lines []models.SaleLine) (map[int]*models.Product, error) {
	ids := make([]int, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductId)
	}
	if len(ids) == 0 {
		return map[int]*models.Product{}, nil
	}
	products, err := tx.FindProducts(utils.UniqueSlice(ids))
	if err != nil {
		return nil, storageFailure("find products", err)
	}
	return products, nil
}
