package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/sales_ledger/config"
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/models/reports"
	"github.com/mmdatafocus/sales_ledger/sales"
	"github.com/mmdatafocus/sales_ledger/sqlstore"
	"github.com/sirupsen/logrus"
)

func main() {
	out := flag.String("out", "sales-ledger.xlsx", "Output xlsx path")
	partnerID := flag.Int("partner-id", 0, "Optional: partner id")
	fromDateStr := flag.String("from", "", "Optional: first invoice date (YYYY-MM-DD)")
	toDateStr := flag.String("to", "", "Optional: last invoice date (YYYY-MM-DD)")
	flag.Parse()

	filter := models.SalesInvoiceFilter{PartnerId: *partnerID}
	var err error
	if filter.FromDate, err = parseDate(*fromDateStr); err != nil {
		fmt.Fprintf(os.Stderr, "invalid from date: %v\n", err)
		os.Exit(1)
	}
	if filter.ToDate, err = parseDate(*toDateStr); err != nil {
		fmt.Fprintf(os.Stderr, "invalid to date: %v\n", err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	svc := sales.NewService(sqlstore.New(db), sales.WithLogger(logrus.New()))

	var all []models.SaleDetail
	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		filter.Limit, filter.Offset = pageSize, offset
		page, err := svc.ListSales(context.Background(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list sales: %v\n", err)
			os.Exit(1)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *out, err)
		os.Exit(1)
	}
	defer f.Close()
	if err := reports.WriteSalesLedger(f, all); err != nil {
		fmt.Fprintf(os.Stderr, "write workbook: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Done. invoices=%d out=%s\n", len(all), *out)
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
