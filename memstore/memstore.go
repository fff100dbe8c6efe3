// Package memstore is an in-memory sales.Store for tests and local runs.
// Each unit of work operates on a copy of the state that replaces the
// committed state only when the unit succeeds.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/sales"
	"github.com/mmdatafocus/sales_ledger/utils"
	"github.com/shopspring/decimal"
)

type memoryState struct {
	products map[int]models.Product
	partners map[int]models.Partner
	lots     map[int]models.ProductionBatch
	invoices map[int]models.SalesInvoice
	lines    map[int]models.SaleLine
	events   map[int]models.SaleEvent
	seq      map[string]int
}

func newMemoryState() memoryState {
	return memoryState{
		products: map[int]models.Product{},
		partners: map[int]models.Partner{},
		lots:     map[int]models.ProductionBatch{},
		invoices: map[int]models.SalesInvoice{},
		lines:    map[int]models.SaleLine{},
		events:   map[int]models.SaleEvent{},
		seq:      map[string]int{},
	}
}

func (s memoryState) clone() memoryState {
	return memoryState{
		products: maps.Clone(s.products),
		partners: maps.Clone(s.partners),
		lots:     maps.Clone(s.lots),
		invoices: maps.Clone(s.invoices),
		lines:    maps.Clone(s.lines),
		events:   maps.Clone(s.events),
		seq:      maps.Clone(s.seq),
	}
}

func (s memoryState) next(table string) int {
	s.seq[table]++
	return s.seq[table]
}

// Store serializes units of work with a single mutex, which is at least as
// strict as the row locks of the SQL store.
type Store struct {
	mu    sync.Mutex
	state memoryState
	now   func() time.Time

	// failOn makes the named Tx operation fail once, for rollback tests.
	failOn map[string]error
}

var _ sales.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		state:  newMemoryState(),
		now:    time.Now,
		failOn: map[string]error{},
	}
}

// FailNext makes the next call of op (e.g. "CreateSaleLine") return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[op] = err
}

func (s *Store) WithinTransaction(ctx context.Context, fn func(tx sales.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) AddProduct(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.state.next("products")
	}
	if p.ProductType == "" {
		p.ProductType = models.ProductTypeGoods
	}
	s.state.products[p.ID] = p
	return p
}

func (s *Store) AddPartner(p models.Partner) models.Partner {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.state.next("partners")
	}
	s.state.partners[p.ID] = p
	return p
}

// AddLot seeds a lot; RemainingQty defaults to ProducedQty.
func (s *Store) AddLot(lot models.ProductionBatch) models.ProductionBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lot.ID == 0 {
		lot.ID = s.state.next("production_batches")
	}
	if lot.RemainingQty.IsZero() && !lot.ProducedQty.IsZero() {
		lot.RemainingQty = lot.ProducedQty
	}
	if lot.ProductionDate.IsZero() {
		lot.ProductionDate = s.now().UTC()
	}
	s.state.lots[lot.ID] = lot
	return lot
}

func (s *Store) Lot(id int) (models.ProductionBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lot, ok := s.state.lots[id]
	return lot, ok
}

func (s *Store) Invoice(id int) (models.SalesInvoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.state.invoices[id]
	return inv, ok
}

// SaleLines returns the committed lines of an invoice ordered by id.
func (s *Store) SaleLines(invoiceId int) []models.SaleLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return linesOf(s.state, map[int]bool{invoiceId: true})
}

func (s *Store) SaleEvents() []models.SaleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]models.SaleEvent, 0, len(s.state.events))
	for _, id := range utils.SortedIntKeys(s.state.events) {
		events = append(events, s.state.events[id])
	}
	return events
}

func linesOf(state memoryState, invoiceIds map[int]bool) []models.SaleLine {
	var lines []models.SaleLine
	for _, id := range utils.SortedIntKeys(state.lines) {
		line := state.lines[id]
		if invoiceIds[line.SalesInvoiceId] {
			lines = append(lines, line)
		}
	}
	return lines
}

type memTx struct {
	store *Store
	state memoryState
}

func (t *memTx) fail(op string) error {
	if err, ok := t.store.failOn[op]; ok {
		delete(t.store.failOn, op)
		return err
	}
	return nil
}

func (t *memTx) LockLots(ids []int) (map[int]*models.ProductionBatch, error) {
	if err := t.fail("LockLots"); err != nil {
		return nil, err
	}
	return t.FindLots(ids)
}

func (t *memTx) FindLots(ids []int) (map[int]*models.ProductionBatch, error) {
	out := make(map[int]*models.ProductionBatch, len(ids))
	for _, id := range ids {
		if lot, ok := t.state.lots[id]; ok {
			out[id] = &lot
		}
	}
	return out, nil
}

func (t *memTx) UpdateLotRemaining(id int, remaining decimal.Decimal) error {
	if err := t.fail("UpdateLotRemaining"); err != nil {
		return err
	}
	lot, ok := t.state.lots[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	if remaining.IsNegative() {
		return fmt.Errorf("production batch %d: remaining_qty would be negative", id)
	}
	lot.RemainingQty = remaining
	lot.UpdatedAt = t.store.now()
	t.state.lots[id] = lot
	return nil
}

func (t *memTx) CreateLot(lot *models.ProductionBatch) error {
	if err := t.fail("CreateLot"); err != nil {
		return err
	}
	lot.ID = t.state.next("production_batches")
	lot.CreatedAt = t.store.now()
	lot.UpdatedAt = lot.CreatedAt
	t.state.lots[lot.ID] = *lot
	return nil
}

func (t *memTx) ListLots(filter models.ProductionBatchFilter) ([]models.ProductionBatch, error) {
	var lots []models.ProductionBatch
	for _, lot := range t.state.lots {
		if filter.ProductId != 0 && lot.ProductId != filter.ProductId {
			continue
		}
		if filter.LocationId != 0 && lot.LocationId != filter.LocationId {
			continue
		}
		if filter.InStockOnly && !lot.RemainingQty.IsPositive() {
			continue
		}
		lots = append(lots, lot)
	}
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].ProductionDate.Equal(lots[j].ProductionDate) {
			return lots[i].ProductionDate.Before(lots[j].ProductionDate)
		}
		return lots[i].ID < lots[j].ID
	})
	return page(lots, filter.Offset, filter.Limit), nil
}

func (t *memTx) FindProducts(ids []int) (map[int]*models.Product, error) {
	if err := t.fail("FindProducts"); err != nil {
		return nil, err
	}
	out := make(map[int]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.state.products[id]; ok {
			out[id] = &p
		}
	}
	return out, nil
}

func (t *memTx) FindPartner(id int) (*models.Partner, error) {
	p, ok := t.state.partners[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return &p, nil
}

func (t *memTx) FindPartners(ids []int) (map[int]*models.Partner, error) {
	out := make(map[int]*models.Partner, len(ids))
	for _, id := range ids {
		if p, ok := t.state.partners[id]; ok {
			out[id] = &p
		}
	}
	return out, nil
}

func (t *memTx) FindInvoice(id int, forUpdate bool) (*models.SalesInvoice, error) {
	inv, ok := t.state.invoices[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return &inv, nil
}

func (t *memTx) InvoiceNumberTaken(number string, exceptId int) (bool, error) {
	for id, inv := range t.state.invoices {
		if id != exceptId && inv.InvoiceNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateInvoice(invoice *models.SalesInvoice) error {
	if err := t.fail("CreateInvoice"); err != nil {
		return err
	}
	if taken, _ := t.InvoiceNumberTaken(invoice.InvoiceNumber, 0); taken {
		return fmt.Errorf("invoice_number %q: %w", invoice.InvoiceNumber, utils.ErrorDuplicateKey)
	}
	invoice.ID = t.state.next("sales_invoices")
	invoice.CreatedAt = t.store.now()
	invoice.UpdatedAt = invoice.CreatedAt
	stored := *invoice
	stored.Details = nil
	t.state.invoices[invoice.ID] = stored
	return nil
}

func (t *memTx) SaveInvoice(invoice *models.SalesInvoice) error {
	if err := t.fail("SaveInvoice"); err != nil {
		return err
	}
	if _, ok := t.state.invoices[invoice.ID]; !ok {
		return utils.ErrorRecordNotFound
	}
	invoice.UpdatedAt = t.store.now()
	stored := *invoice
	stored.Details = nil
	t.state.invoices[invoice.ID] = stored
	return nil
}

func (t *memTx) DeleteInvoice(id int) error {
	if err := t.fail("DeleteInvoice"); err != nil {
		return err
	}
	if _, ok := t.state.invoices[id]; !ok {
		return utils.ErrorRecordNotFound
	}
	delete(t.state.invoices, id)
	// cascade
	for lineId, line := range t.state.lines {
		if line.SalesInvoiceId == id {
			delete(t.state.lines, lineId)
		}
	}
	return nil
}

func (t *memTx) ListInvoices(filter models.SalesInvoiceFilter) ([]models.SalesInvoice, error) {
	var invoices []models.SalesInvoice
	for _, inv := range t.state.invoices {
		if filter.PartnerId != 0 && inv.PartnerId != filter.PartnerId {
			continue
		}
		if filter.PaymentStatus != "" && inv.PaymentStatus != filter.PaymentStatus {
			continue
		}
		if filter.InvoiceNumber != "" && !strings.Contains(inv.InvoiceNumber, filter.InvoiceNumber) {
			continue
		}
		if filter.FromDate != nil && inv.InvoiceDate.Before(*filter.FromDate) {
			continue
		}
		if filter.ToDate != nil && !inv.InvoiceDate.Before(filter.ToDate.AddDate(0, 0, 1)) {
			continue
		}
		invoices = append(invoices, inv)
	}
	sort.Slice(invoices, func(i, j int) bool {
		if !invoices[i].InvoiceDate.Equal(invoices[j].InvoiceDate) {
			return invoices[i].InvoiceDate.After(invoices[j].InvoiceDate)
		}
		return invoices[i].ID > invoices[j].ID
	})
	return page(invoices, filter.Offset, filter.Limit), nil
}

func (t *memTx) ListSaleLines(invoiceIds ...int) ([]models.SaleLine, error) {
	if err := t.fail("ListSaleLines"); err != nil {
		return nil, err
	}
	set := make(map[int]bool, len(invoiceIds))
	for _, id := range invoiceIds {
		set[id] = true
	}
	return linesOf(t.state, set), nil
}

func (t *memTx) CreateSaleLine(line *models.SaleLine) error {
	if err := t.fail("CreateSaleLine"); err != nil {
		return err
	}
	if line.ProductionBatchId != nil {
		for _, other := range t.state.lines {
			if other.SalesInvoiceId == line.SalesInvoiceId && other.ProductionBatchId != nil && *other.ProductionBatchId == *line.ProductionBatchId {
				return fmt.Errorf("idx_sale_line_invoice_batch: %w", utils.ErrorDuplicateKey)
			}
		}
	}
	line.ID = t.state.next("sale_lines")
	line.CreatedAt = t.store.now()
	line.UpdatedAt = line.CreatedAt
	t.state.lines[line.ID] = *line
	return nil
}

func (t *memTx) UpdateSaleLine(line *models.SaleLine) error {
	if err := t.fail("UpdateSaleLine"); err != nil {
		return err
	}
	if _, ok := t.state.lines[line.ID]; !ok {
		return utils.ErrorRecordNotFound
	}
	line.UpdatedAt = t.store.now()
	t.state.lines[line.ID] = *line
	return nil
}

func (t *memTx) DeleteSaleLine(id int) error {
	if err := t.fail("DeleteSaleLine"); err != nil {
		return err
	}
	if _, ok := t.state.lines[id]; !ok {
		return utils.ErrorRecordNotFound
	}
	delete(t.state.lines, id)
	return nil
}

func (t *memTx) AllocatedQtyByLot() (map[int]decimal.Decimal, error) {
	out := make(map[int]decimal.Decimal)
	for _, line := range t.state.lines {
		if line.ProductionBatchId != nil {
			out[*line.ProductionBatchId] = out[*line.ProductionBatchId].Add(line.Quantity)
		}
	}
	return out, nil
}

func (t *memTx) AppendSaleEvent(event *models.SaleEvent) error {
	if err := t.fail("AppendSaleEvent"); err != nil {
		return err
	}
	event.ID = t.state.next("sale_events")
	event.CreatedAt = t.store.now()
	event.UpdatedAt = event.CreatedAt
	if event.PublishStatus == "" {
		event.PublishStatus = models.OutboxPublishStatusPending
	}
	t.state.events[event.ID] = *event
	return nil
}

func page[T any](rows []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
