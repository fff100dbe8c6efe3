package sqlstore

import (
	"errors"
	"fmt"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/sales_ledger/utils"
	"gorm.io/gorm"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"record not found", gorm.ErrRecordNotFound, utils.ErrorRecordNotFound},
		{"gorm duplicate", gorm.ErrDuplicatedKey, utils.ErrorDuplicateKey},
		{"mysql dup entry", fmt.Errorf("exec: %w", &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'INV-1'"}), utils.ErrorDuplicateKey},
		{"postgres unique violation", errors.New(`ERROR: duplicate key value violates unique constraint "idx_sales_invoices_invoice_number"`), utils.ErrorDuplicateKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := translate(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}

	lockWait := &mysqldriver.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
	if got := translate(lockWait); errors.Is(got, utils.ErrorDuplicateKey) || !errors.Is(got, lockWait) {
		t.Fatalf("other driver errors must pass through, got %v", got)
	}
	if translate(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}
