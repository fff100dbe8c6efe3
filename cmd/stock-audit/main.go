package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/sales_ledger/config"
	"github.com/mmdatafocus/sales_ledger/sales"
	"github.com/mmdatafocus/sales_ledger/sqlstore"
	"github.com/sirupsen/logrus"
)

// stock-audit checks produced == remaining + allocated for every production batch.
func main() {
	format := flag.String("format", "text", "Output format: text or json")
	failOnDiscrepancy := flag.Bool("fail", true, "Exit 2 when any discrepancy is found")
	flag.Parse()

	outFormat := strings.ToLower(strings.TrimSpace(*format))
	if outFormat != "text" && outFormat != "json" {
		fmt.Fprintln(os.Stderr, "--format must be text or json")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	svc := sales.NewService(sqlstore.New(db), sales.WithLogger(logrus.New()))
	discrepancies, err := svc.AuditStock(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit failed: %v\n", err)
		os.Exit(1)
	}

	if outFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(discrepancies); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
	} else {
		for _, d := range discrepancies {
			fmt.Printf("batch=%d product=%d number=%q produced=%s remaining=%s allocated=%s difference=%s\n",
				d.LotId, d.ProductId, d.BatchNumber, d.Produced, d.Remaining, d.Allocated, d.Difference)
		}
		fmt.Printf("Done. discrepancies=%d\n", len(discrepancies))
	}

	if *failOnDiscrepancy && len(discrepancies) > 0 {
		os.Exit(2)
	}
}
