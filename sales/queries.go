package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/sales_ledger/config"
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxListLimit = 500

func saleCacheKey(id int) string {
	return fmt.Sprintf("sale:detail:%d", id)
}

// GetSale returns the invoice with its lines and resolved product and lot metadata.
func (s *Service) GetSale(ctx context.Context, id int) (detail *models.SaleDetail, err error) {
	ctx, span := s.tracer.Start(ctx, "sales.GetSale", trace.WithAttributes(attribute.Int("invoice_id", id)))
	defer func() { s.endSpan(span, err) }()

	if s.cache != nil {
		var cached models.SaleDetail
		if ok, cerr := s.cache.Get(saleCacheKey(id), &cached); cerr == nil && ok {
			return &cached, nil
		} else if cerr != nil {
			s.warn("GetSale", "read sale cache", cerr)
		}
	}

	gen := s.cacheGeneration(id)
	err = s.withinTransaction(ctx, "GetSale", id, func(tx Tx) error {
		invoice, err := tx.FindInvoice(id, false)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return notFound("sales invoice", id)
			}
			return storageFailure("find sales invoice", err)
		}
		detail, err = loadSaleDetail(tx, invoice)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.cacheGeneration(id) == gen {
		if cerr := s.cache.Set(saleCacheKey(id), detail); cerr != nil {
			s.warn("GetSale", "write sale cache", cerr)
		}
	}
	return detail, nil
}

// ListSales pages invoices by partner, date range and payment status.
func (s *Service) ListSales(ctx context.Context, filter models.SalesInvoiceFilter) (details []models.SaleDetail, err error) {
	ctx, span := s.tracer.Start(ctx, "sales.ListSales")
	defer func() { s.endSpan(span, err) }()

	if filter.Limit <= 0 {
		filter.Limit = config.SearchLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.IsValid() {
		return nil, invalidInvoice("payment_status", "invalid payment status %q", filter.PaymentStatus)
	}

	err = s.withinTransaction(ctx, "ListSales", filter, func(tx Tx) error {
		invoices, err := tx.ListInvoices(filter)
		if err != nil {
			return storageFailure("list sales invoices", err)
		}
		details, err = buildSaleDetails(tx, invoices)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func loadSaleDetail(tx Tx, invoice *models.SalesInvoice) (*models.SaleDetail, error) {
	details, err := buildSaleDetails(tx, []models.SalesInvoice{*invoice})
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

func buildSaleDetails(tx Tx, invoices []models.SalesInvoice) ([]models.SaleDetail, error) {
	if len(invoices) == 0 {
		return []models.SaleDetail{}, nil
	}
	invoiceIds := make([]int, 0, len(invoices))
	partnerIds := make([]int, 0, len(invoices))
	for _, inv := range invoices {
		invoiceIds = append(invoiceIds, inv.ID)
		partnerIds = append(partnerIds, inv.PartnerId)
	}

	lines, err := tx.ListSaleLines(invoiceIds...)
	if err != nil {
		return nil, storageFailure("list sale lines", err)
	}
	partners, err := tx.FindPartners(utils.UniqueSlice(partnerIds))
	if err != nil {
		return nil, storageFailure("find partners", err)
	}
	products, err := productsForLines(tx, lines)
	if err != nil {
		return nil, err
	}
	var lotIds []int
	for _, line := range lines {
		if line.ProductionBatchId != nil {
			lotIds = append(lotIds, *line.ProductionBatchId)
		}
	}
	lots := map[int]*models.ProductionBatch{}
	if len(lotIds) > 0 {
		if lots, err = tx.FindLots(utils.UniqueSlice(lotIds)); err != nil {
			return nil, storageFailure("find production batches", err)
		}
	}

	linesByInvoice := make(map[int][]models.SaleLineDetail, len(invoices))
	for _, line := range lines {
		ld := models.SaleLineDetail{SaleLine: line}
		if p, ok := products[line.ProductId]; ok {
			ld.ProductName = p.Name
			ld.ProductType = p.ProductType
			ld.Unit = p.Unit
		}
		if line.ProductionBatchId != nil {
			if lot, ok := lots[*line.ProductionBatchId]; ok {
				ld.BatchNumber = lot.BatchNumber
				date := lot.ProductionDate
				ld.ProductionDate = &date
			}
		}
		linesByInvoice[line.SalesInvoiceId] = append(linesByInvoice[line.SalesInvoiceId], ld)
	}

	details := make([]models.SaleDetail, 0, len(invoices))
	for _, inv := range invoices {
		d := models.SaleDetail{SalesInvoice: inv, Lines: linesByInvoice[inv.ID]}
		d.Details = nil
		if d.Lines == nil {
			d.Lines = []models.SaleLineDetail{}
		}
		if p, ok := partners[inv.PartnerId]; ok {
			d.PartnerName = p.Name
		}
		details = append(details, d)
	}
	return details, nil
}

func (s *Service) cacheGeneration(id int) uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cacheGen[id]
}

// evict drops the cached detail after a committed mutation. A reader on another
// instance may still write back what it read before the commit, so the key is
// deleted once more after evictDelay.
func (s *Service) evict(id int) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cacheGen[id]++
	s.cacheMu.Unlock()

	s.deleteCached(id)
	if s.evictDelay > 0 {
		time.AfterFunc(s.evictDelay, func() { s.deleteCached(id) })
	}
}

func (s *Service) deleteCached(id int) {
	if err := s.cache.Delete(saleCacheKey(id)); err != nil {
		s.warn("evict", "delete sale cache", err)
	}
}

func (s *Service) warn(funcName string, context string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}).Warn(err.Error())
}
