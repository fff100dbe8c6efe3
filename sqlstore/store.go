// Package sqlstore is the gorm backed sales.Store used in production.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/sales"
	"github.com/mmdatafocus/sales_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db        *gorm.DB
	isolation sql.IsolationLevel
}

var _ sales.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db, isolation: sql.LevelReadCommitted}
}

// WithinTransaction runs fn in one database transaction. Row locks taken by
// LockLots and FindInvoice(forUpdate) are held until fn returns.
func (s *Store) WithinTransaction(ctx context.Context, fn func(tx sales.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	}, &sql.TxOptions{Isolation: s.isolation})
}

type gormTx struct {
	db *gorm.DB
}

func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.ErrorRecordNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isDuplicateKey(err):
		return errors.Join(utils.ErrorDuplicateKey, err)
	}
	return err
}

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// isDuplicateKey catches unique violations that reach us untranslated, e.g.
// from raw Exec calls or a wrapped driver error.
func isDuplicateKey(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate key value")
}

func (t *gormTx) LockLots(ids []int) (map[int]*models.ProductionBatch, error) {
	if len(ids) == 0 {
		return map[int]*models.ProductionBatch{}, nil
	}
	var lots []*models.ProductionBatch
	err := forUpdate(t.db).Where("id IN ?", ids).Order("id ASC").Find(&lots).Error
	if err != nil {
		return nil, translate(err)
	}
	return byId(lots, func(l *models.ProductionBatch) int { return l.ID }), nil
}

func (t *gormTx) FindLots(ids []int) (map[int]*models.ProductionBatch, error) {
	if len(ids) == 0 {
		return map[int]*models.ProductionBatch{}, nil
	}
	var lots []*models.ProductionBatch
	if err := t.db.Where("id IN ?", ids).Find(&lots).Error; err != nil {
		return nil, translate(err)
	}
	return byId(lots, func(l *models.ProductionBatch) int { return l.ID }), nil
}

func (t *gormTx) UpdateLotRemaining(id int, remaining decimal.Decimal) error {
	// MySQL reports zero affected rows for an unchanged value, so the lot is
	// expected to be locked by the caller rather than checked here.
	return translate(t.db.Exec("UPDATE production_batches SET remaining_qty = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", remaining, id).Error)
}

func (t *gormTx) CreateLot(lot *models.ProductionBatch) error {
	return translate(t.db.Create(lot).Error)
}

func (t *gormTx) ListLots(filter models.ProductionBatchFilter) ([]models.ProductionBatch, error) {
	q := t.db.Model(&models.ProductionBatch{})
	if filter.ProductId != 0 {
		q = q.Where("product_id = ?", filter.ProductId)
	}
	if filter.LocationId != 0 {
		q = q.Where("location_id = ?", filter.LocationId)
	}
	if filter.InStockOnly {
		q = q.Where("remaining_qty > 0")
	}
	var lots []models.ProductionBatch
	err := paged(q, filter.Offset, filter.Limit).Order("production_date ASC, id ASC").Find(&lots).Error
	return lots, translate(err)
}

func (t *gormTx) FindProducts(ids []int) (map[int]*models.Product, error) {
	if len(ids) == 0 {
		return map[int]*models.Product{}, nil
	}
	var products []*models.Product
	if err := t.db.Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, translate(err)
	}
	return byId(products, func(p *models.Product) int { return p.ID }), nil
}

func (t *gormTx) FindPartner(id int) (*models.Partner, error) {
	var partner models.Partner
	if err := t.db.First(&partner, id).Error; err != nil {
		return nil, translate(err)
	}
	return &partner, nil
}

func (t *gormTx) FindPartners(ids []int) (map[int]*models.Partner, error) {
	if len(ids) == 0 {
		return map[int]*models.Partner{}, nil
	}
	var partners []*models.Partner
	if err := t.db.Where("id IN ?", ids).Find(&partners).Error; err != nil {
		return nil, translate(err)
	}
	return byId(partners, func(p *models.Partner) int { return p.ID }), nil
}

func (t *gormTx) FindInvoice(id int, lock bool) (*models.SalesInvoice, error) {
	q := t.db
	if lock {
		q = forUpdate(q)
	}
	var invoice models.SalesInvoice
	if err := q.First(&invoice, id).Error; err != nil {
		return nil, translate(err)
	}
	return &invoice, nil
}

func (t *gormTx) InvoiceNumberTaken(number string, exceptId int) (bool, error) {
	var count int64
	q := t.db.Model(&models.SalesInvoice{}).Where("invoice_number = ?", number)
	if exceptId != 0 {
		q = q.Where("id <> ?", exceptId)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

func (t *gormTx) CreateInvoice(invoice *models.SalesInvoice) error {
	return translate(t.db.Omit(clause.Associations).Create(invoice).Error)
}

func (t *gormTx) SaveInvoice(invoice *models.SalesInvoice) error {
	res := t.db.Omit(clause.Associations).Save(invoice)
	if res.Error != nil {
		return translate(res.Error)
	}
	return nil
}

// DeleteInvoice removes the lines explicitly; tables created before the
// cascade constraint existed do not cascade.
func (t *gormTx) DeleteInvoice(id int) error {
	if err := t.db.Where("sales_invoice_id = ?", id).Delete(&models.SaleLine{}).Error; err != nil {
		return translate(err)
	}
	res := t.db.Delete(&models.SalesInvoice{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

func (t *gormTx) ListInvoices(filter models.SalesInvoiceFilter) ([]models.SalesInvoice, error) {
	q := t.db.Model(&models.SalesInvoice{})
	if filter.PartnerId != 0 {
		q = q.Where("partner_id = ?", filter.PartnerId)
	}
	if filter.PaymentStatus != "" {
		q = q.Where("payment_status = ?", filter.PaymentStatus)
	}
	if filter.InvoiceNumber != "" {
		q = q.Where("invoice_number LIKE ?", "%"+filter.InvoiceNumber+"%")
	}
	if filter.FromDate != nil {
		q = q.Where("invoice_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		q = q.Where("invoice_date < ?", filter.ToDate.AddDate(0, 0, 1))
	}
	var invoices []models.SalesInvoice
	err := paged(q, filter.Offset, filter.Limit).Order("invoice_date DESC, id DESC").Find(&invoices).Error
	return invoices, translate(err)
}

func (t *gormTx) ListSaleLines(invoiceIds ...int) ([]models.SaleLine, error) {
	if len(invoiceIds) == 0 {
		return nil, nil
	}
	var lines []models.SaleLine
	err := t.db.Where("sales_invoice_id IN ?", invoiceIds).Order("id ASC").Find(&lines).Error
	return lines, translate(err)
}

func (t *gormTx) CreateSaleLine(line *models.SaleLine) error {
	return translate(t.db.Create(line).Error)
}

func (t *gormTx) UpdateSaleLine(line *models.SaleLine) error {
	res := t.db.Model(&models.SaleLine{}).Where("id = ?", line.ID).Updates(map[string]interface{}{
		"production_batch_id": line.ProductionBatchId,
		"quantity":            line.Quantity,
		"rate":                line.Rate,
		"amount":              line.Amount,
	})
	return translate(res.Error)
}

func (t *gormTx) DeleteSaleLine(id int) error {
	res := t.db.Delete(&models.SaleLine{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

func (t *gormTx) AllocatedQtyByLot() (map[int]decimal.Decimal, error) {
	var rows []struct {
		ProductionBatchId int
		Qty               decimal.Decimal
	}
	err := t.db.Model(&models.SaleLine{}).
		Select("production_batch_id, SUM(quantity) AS qty").
		Where("production_batch_id IS NOT NULL").
		Group("production_batch_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make(map[int]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.ProductionBatchId] = r.Qty
	}
	return out, nil
}

func (t *gormTx) AppendSaleEvent(event *models.SaleEvent) error {
	if event.PublishStatus == "" {
		event.PublishStatus = models.OutboxPublishStatusPending
	}
	return translate(t.db.Create(event).Error)
}

func paged(q *gorm.DB, offset, limit int) *gorm.DB {
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

func byId[T any](rows []*T, id func(*T) int) map[int]*T {
	out := make(map[int]*T, len(rows))
	for _, r := range rows {
		out[id(r)] = r
	}
	return out
}
