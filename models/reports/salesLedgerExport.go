package reports

import (
	"io"

	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	InvoiceSheetName = "Invoices"
	LineSheetName    = "Lines"
	ExcelContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type ExcelExporter interface {
	GetCellValues() []interface{}
}

var invoiceHeadings = []string{
	"InvoiceNumber", "InvoiceDate", "Partner", "PaymentStatus", "Subtotal",
	"CGST", "SGST", "IGST", "Total", "Paid", "Pending",
}

var lineHeadings = []string{
	"InvoiceNumber", "Product", "BatchNumber", "Quantity", "Rate", "Amount",
}

type invoiceRow struct{ d *models.SaleDetail }

func (r invoiceRow) GetCellValues() []interface{} {
	inv := r.d.SalesInvoice
	return []interface{}{
		inv.InvoiceNumber,
		inv.InvoiceDate.Format("2006-01-02"),
		r.d.PartnerName,
		string(inv.PaymentStatus),
		num(inv.InvoiceSubtotal),
		num(inv.CgstAmount),
		num(inv.SgstAmount),
		num(inv.IgstAmount),
		num(inv.InvoiceTotalAmount),
		num(inv.PaidAmount),
		num(inv.PendingAmount),
	}
}

type lineRow struct {
	invoiceNumber string
	l             *models.SaleLineDetail
}

func (r lineRow) GetCellValues() []interface{} {
	return []interface{}{
		r.invoiceNumber,
		r.l.ProductName,
		r.l.BatchNumber,
		num(r.l.Quantity),
		num(r.l.Rate),
		num(r.l.Amount),
	}
}

func num(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// WriteSalesLedger writes one sheet of invoice aggregates and one of sale lines.
func WriteSalesLedger(w io.Writer, sales []models.SaleDetail) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", InvoiceSheetName); err != nil {
		return err
	}
	if _, err := f.NewSheet(LineSheetName); err != nil {
		return err
	}

	var invoices, lines []ExcelExporter
	for i := range sales {
		invoices = append(invoices, invoiceRow{d: &sales[i]})
		for j := range sales[i].Lines {
			lines = append(lines, lineRow{invoiceNumber: sales[i].InvoiceNumber, l: &sales[i].Lines[j]})
		}
	}
	if err := writeSheet(f, InvoiceSheetName, invoiceHeadings, invoices); err != nil {
		return err
	}
	if err := writeSheet(f, LineSheetName, lineHeadings, lines); err != nil {
		return err
	}
	return f.Write(w)
}

func writeSheet(f *excelize.File, sheetName string, headings []string, data []ExcelExporter) error {
	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	rowNo := 2
	for _, d := range data {
		for i, value := range d.GetCellValues() {
			cell, err := excelize.CoordinatesToCellName(i+1, rowNo)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
		rowNo++
	}
	return nil
}
