package sales

import (
	"context"

	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/shopspring/decimal"
)

// Store opens units of work. fn's error rolls the whole unit back; a nil
// return commits it.
type Store interface {
	WithinTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of persistence operations available inside one unit of work.
// Lookups return utils.ErrorRecordNotFound for missing single rows.
type Tx interface {
	// LockLots reads the lots row-locked, in ascending id order. Missing ids are absent from the result.
	LockLots(ids []int) (map[int]*models.ProductionBatch, error)
	UpdateLotRemaining(id int, remaining decimal.Decimal) error
	CreateLot(lot *models.ProductionBatch) error
	ListLots(filter models.ProductionBatchFilter) ([]models.ProductionBatch, error)
	FindLots(ids []int) (map[int]*models.ProductionBatch, error)

	FindProducts(ids []int) (map[int]*models.Product, error)
	FindPartner(id int) (*models.Partner, error)
	FindPartners(ids []int) (map[int]*models.Partner, error)

	FindInvoice(id int, forUpdate bool) (*models.SalesInvoice, error)
	InvoiceNumberTaken(number string, exceptId int) (bool, error)
	CreateInvoice(invoice *models.SalesInvoice) error
	SaveInvoice(invoice *models.SalesInvoice) error
	DeleteInvoice(id int) error
	ListInvoices(filter models.SalesInvoiceFilter) ([]models.SalesInvoice, error)

	ListSaleLines(invoiceIds ...int) ([]models.SaleLine, error)
	CreateSaleLine(line *models.SaleLine) error
	UpdateSaleLine(line *models.SaleLine) error
	DeleteSaleLine(id int) error
	// AllocatedQtyByLot sums sale line quantities per production batch across all invoices.
	AllocatedQtyByLot() (map[int]decimal.Decimal, error)

	AppendSaleEvent(event *models.SaleEvent) error
}

// Locker serializes edits of one invoice across instances. Correctness still
// comes from the row locks taken inside the unit of work.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Cache holds sale detail projections between requests.
type Cache interface {
	Get(key string, dest any) (bool, error)
	Set(key string, obj any) error
	Delete(keys ...string) error
}
