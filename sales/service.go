package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/sales_ledger/config"
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const moduleName = "sales"

// Service is the sale transaction orchestrator. Every mutating call runs as one
// unit of work and either fully applies or leaves storage untouched.
type Service struct {
	store  Store
	logger *logrus.Logger
	locker Locker
	cache  Cache
	tracer trace.Tracer

	// cacheGen counts committed mutations per invoice; GetSale skips its fill
	// when the count moved while it was reading.
	cacheMu    sync.Mutex
	cacheGen   map[int]uint64
	evictDelay time.Duration
	now    func() time.Time

	defaultCgst decimal.Decimal
	defaultSgst decimal.Decimal
	defaultIgst decimal.Decimal
}

type Option func(*Service)

func WithLogger(logger *logrus.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithLocker(locker Locker) Option {
	return func(s *Service) { s.locker = locker }
}

func WithCache(cache Cache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithCacheEvictDelay sets the delay of the second eviction after a mutation; 0 disables it.
func WithCacheEvictDelay(d time.Duration) Option {
	return func(s *Service) { s.evictDelay = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultGstRates sets the percentages used by GST invoices that carry no rates.
func WithDefaultGstRates(cgst, sgst, igst decimal.Decimal) Option {
	return func(s *Service) {
		s.defaultCgst, s.defaultSgst, s.defaultIgst = cgst, sgst, igst
	}
}

func NewService(store Store, opts ...Option) *Service {
	cgst, sgst, igst := config.DefaultGstRates()
	s := &Service{
		store:       store,
		logger:      config.GetLogger(),
		tracer:      otel.Tracer("github.com/mmdatafocus/sales_ledger/sales"),
		cacheGen:    make(map[int]uint64),
		evictDelay:  config.SaleCacheEvictDelay(),
		now:         time.Now,
		defaultCgst: cgst,
		defaultSgst: sgst,
		defaultIgst: igst,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSale validates every line against locked stock, then writes the
// invoice, its lines and the allocations together.
func (s *Service) CreateSale(ctx context.Context, input *models.NewSalesInvoice) (detail *models.SaleDetail, err error) {
	ctx, span := s.tracer.Start(ctx, "sales.CreateSale")
	defer func() { s.endSpan(span, err) }()

	if input == nil {
		return nil, invalidInvoice("body", "sale is required")
	}
	invoice := &models.SalesInvoice{}
	if err := s.applyNewInvoice(invoice, input); err != nil {
		return nil, err
	}
	reqs, err := normalizeLines(input.Lines)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("invoice_number", invoice.InvoiceNumber))

	err = s.withinTransaction(ctx, "CreateSale", input, func(tx Tx) error {
		if err := s.checkInvoiceHeader(tx, invoice, 0); err != nil {
			return err
		}
		ledger := NewStockLedger(tx)
		if err := s.prepareLines(tx, ledger, invoice, reqs, nil); err != nil {
			return err
		}

		if err := tx.CreateInvoice(invoice); err != nil {
			if errors.Is(err, utils.ErrorDuplicateKey) {
				return duplicateInvoiceNumber(invoice.InvoiceNumber)
			}
			return storageFailure("create sales invoice", err)
		}
		if err := NewLineManager(tx, ledger).SetLines(invoice.ID, reqs); err != nil {
			return err
		}
		if err := Recompute(tx, invoice); err != nil {
			return err
		}

		detail, err = loadSaleDetail(tx, invoice)
		if err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, models.SaleEventActionCreated, detail)
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// UpdateSale applies a partial patch. Lines are reconciled only when the patch
// carries them; aggregates are always recomputed.
func (s *Service) UpdateSale(ctx context.Context, id int, patch *models.SalesInvoicePatch) (detail *models.SaleDetail, err error) {
	ctx, span := s.tracer.Start(ctx, "sales.UpdateSale", trace.WithAttributes(attribute.Int("invoice_id", id)))
	defer func() { s.endSpan(span, err) }()

	if patch == nil {
		return nil, invalidInvoice("body", "patch is required")
	}
	var reqs []*lineRequest
	if patch.HasLines() {
		if reqs, err = normalizeLines(*patch.Lines); err != nil {
			return nil, err
		}
	}

	release := s.lockInvoice(ctx, id)
	defer release()

	err = s.withinTransaction(ctx, "UpdateSale", patch, func(tx Tx) error {
		invoice, err := findInvoiceForUpdate(tx, id)
		if err != nil {
			return err
		}
		previousNumber := invoice.InvoiceNumber
		previousPartner := invoice.PartnerId
		if err := s.applyPatch(invoice, patch); err != nil {
			return err
		}
		if invoice.InvoiceNumber != previousNumber || invoice.PartnerId != previousPartner {
			if err := s.checkInvoiceHeader(tx, invoice, id); err != nil {
				return err
			}
		}

		ledger := NewStockLedger(tx)
		if patch.HasLines() {
			existing, err := tx.ListSaleLines(id)
			if err != nil {
				return storageFailure("list sale lines", err)
			}
			if err := s.prepareLines(tx, ledger, invoice, reqs, existing); err != nil {
				return err
			}
		} else if err := validateCurrentTotals(tx, invoice); err != nil {
			return err
		}

		if err := tx.SaveInvoice(invoice); err != nil {
			if errors.Is(err, utils.ErrorDuplicateKey) {
				return duplicateInvoiceNumber(invoice.InvoiceNumber)
			}
			return storageFailure("save sales invoice", err)
		}
		if patch.HasLines() {
			if err := NewLineManager(tx, ledger).SetLines(id, reqs); err != nil {
				return err
			}
		}
		if err := Recompute(tx, invoice); err != nil {
			return err
		}

		detail, err = loadSaleDetail(tx, invoice)
		if err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, models.SaleEventActionUpdated, detail)
	})
	if err != nil {
		return nil, err
	}
	s.evict(id)
	return detail, nil
}

// ReplaceSale deletes every line of the invoice and recreates them from input,
// holding the lot locks for the whole replace.
func (s *Service) ReplaceSale(ctx context.Context, id int, input *models.NewSalesInvoice) (detail *models.SaleDetail, err error) {
	ctx, span := s.tracer.Start(ctx, "sales.ReplaceSale", trace.WithAttributes(attribute.Int("invoice_id", id)))
	defer func() { s.endSpan(span, err) }()

	if input == nil {
		return nil, invalidInvoice("body", "sale is required")
	}
	reqs, err := normalizeLines(input.Lines)
	if err != nil {
		return nil, err
	}

	release := s.lockInvoice(ctx, id)
	defer release()

	err = s.withinTransaction(ctx, "ReplaceSale", input, func(tx Tx) error {
		invoice, err := findInvoiceForUpdate(tx, id)
		if err != nil {
			return err
		}
		if err := s.applyNewInvoice(invoice, input); err != nil {
			return err
		}
		if err := s.checkInvoiceHeader(tx, invoice, id); err != nil {
			return err
		}

		existing, err := tx.ListSaleLines(id)
		if err != nil {
			return storageFailure("list sale lines", err)
		}
		ledger := NewStockLedger(tx)
		if err := s.prepareLines(tx, ledger, invoice, reqs, existing); err != nil {
			return err
		}

		lines := NewLineManager(tx, ledger)
		if err := lines.DeleteAllLines(id); err != nil {
			return err
		}
		if err := tx.SaveInvoice(invoice); err != nil {
			if errors.Is(err, utils.ErrorDuplicateKey) {
				return duplicateInvoiceNumber(invoice.InvoiceNumber)
			}
			return storageFailure("save sales invoice", err)
		}
		if err := lines.SetLines(id, reqs); err != nil {
			return err
		}
		if err := Recompute(tx, invoice); err != nil {
			return err
		}

		detail, err = loadSaleDetail(tx, invoice)
		if err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, models.SaleEventActionReplaced, detail)
	})
	if err != nil {
		return nil, err
	}
	s.evict(id)
	return detail, nil
}

// DeleteSale returns every allocated quantity to its lot and removes the invoice.
func (s *Service) DeleteSale(ctx context.Context, id int) (err error) {
	ctx, span := s.tracer.Start(ctx, "sales.DeleteSale", trace.WithAttributes(attribute.Int("invoice_id", id)))
	defer func() { s.endSpan(span, err) }()

	release := s.lockInvoice(ctx, id)
	defer release()

	err = s.withinTransaction(ctx, "DeleteSale", id, func(tx Tx) error {
		invoice, err := findInvoiceForUpdate(tx, id)
		if err != nil {
			return err
		}
		snapshot, err := loadSaleDetail(tx, invoice)
		if err != nil {
			return err
		}
		if err := NewLineManager(tx, NewStockLedger(tx)).DeleteAllLines(id); err != nil {
			return err
		}
		if err := tx.DeleteInvoice(id); err != nil {
			return storageFailure("delete sales invoice", err)
		}
		return s.appendEvent(ctx, tx, models.SaleEventActionDeleted, snapshot)
	})
	if err != nil {
		return err
	}
	s.evict(id)
	return nil
}

// prepareLines is the pre-validation pass shared by every line-writing path.
// Nothing is mutated until it returns nil.
func (s *Service) prepareLines(tx Tx, ledger *StockLedger, invoice *models.SalesInvoice, reqs []*lineRequest, existing []models.SaleLine) error {
	products, err := tx.FindProducts(productIdsOf(reqs))
	if err != nil {
		return storageFailure("find products", err)
	}
	if err := resolveLines(reqs, products); err != nil {
		return err
	}

	held := heldByLot(existing)
	if err := lockRequestedLots(ledger, reqs, held); err != nil {
		return err
	}
	if err := CheckAvailability(ledger, held, desiredByLot(reqs)); err != nil {
		return err
	}

	_, err = ComputeTotals(invoice, projectLines(invoice.ID, reqs), products)
	return err
}

func validateCurrentTotals(tx Tx, invoice *models.SalesInvoice) error {
	lines, err := tx.ListSaleLines(invoice.ID)
	if err != nil {
		return storageFailure("list sale lines", err)
	}
	products, err := productsForLines(tx, lines)
	if err != nil {
		return err
	}
	_, err = ComputeTotals(invoice, lines, products)
	return err
}

// checkInvoiceHeader verifies the partner exists and the number is free.
func (s *Service) checkInvoiceHeader(tx Tx, invoice *models.SalesInvoice, exceptId int) error {
	if _, err := tx.FindPartner(invoice.PartnerId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return notFound("partner", invoice.PartnerId)
		}
		return storageFailure("find partner", err)
	}
	taken, err := tx.InvoiceNumberTaken(invoice.InvoiceNumber, exceptId)
	if err != nil {
		return storageFailure("check invoice number", err)
	}
	if taken {
		return duplicateInvoiceNumber(invoice.InvoiceNumber)
	}
	return nil
}

func findInvoiceForUpdate(tx Tx, id int) (*models.SalesInvoice, error) {
	invoice, err := tx.FindInvoice(id, true)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, notFound("sales invoice", id)
		}
		return nil, storageFailure("find sales invoice", err)
	}
	return invoice, nil
}

// applyNewInvoice copies header fields from a full submission.
func (s *Service) applyNewInvoice(invoice *models.SalesInvoice, input *models.NewSalesInvoice) error {
	invoice.InvoiceNumber = strings.TrimSpace(input.InvoiceNumber)
	invoice.PartnerId = input.PartnerId
	invoice.InvoiceDate = input.InvoiceDate
	invoice.IsGst = utils.DereferencePtr(input.IsGst)
	invoice.PaymentType = input.PaymentType
	invoice.PaymentStatus = input.PaymentStatus
	invoice.PaidAmount = input.PaidAmount
	invoice.Notes = input.Notes
	invoice.CgstRate = decimal.Zero
	invoice.SgstRate = decimal.Zero
	invoice.IgstRate = decimal.Zero
	if invoice.IsGst {
		invoice.CgstRate = utils.DereferencePtr(input.CgstRate, s.defaultCgst)
		invoice.SgstRate = utils.DereferencePtr(input.SgstRate, s.defaultSgst)
		invoice.IgstRate = utils.DereferencePtr(input.IgstRate, s.defaultIgst)
	}
	return validateInvoiceHeader(invoice)
}

func (s *Service) applyPatch(invoice *models.SalesInvoice, patch *models.SalesInvoicePatch) error {
	wasGst := invoice.IsGst
	if patch.InvoiceNumber != nil {
		invoice.InvoiceNumber = strings.TrimSpace(*patch.InvoiceNumber)
	}
	if patch.PartnerId != nil {
		invoice.PartnerId = *patch.PartnerId
	}
	if patch.InvoiceDate != nil {
		invoice.InvoiceDate = *patch.InvoiceDate
	}
	if patch.IsGst != nil {
		invoice.IsGst = *patch.IsGst
	}
	if patch.PaymentType != nil {
		invoice.PaymentType = *patch.PaymentType
	}
	if patch.PaymentStatus != nil {
		invoice.PaymentStatus = *patch.PaymentStatus
	}
	if patch.PaidAmount != nil {
		invoice.PaidAmount = *patch.PaidAmount
	}
	if patch.Notes != nil {
		invoice.Notes = *patch.Notes
	}

	switch {
	case !invoice.IsGst:
		invoice.CgstRate, invoice.SgstRate, invoice.IgstRate = decimal.Zero, decimal.Zero, decimal.Zero
	case !wasGst:
		invoice.CgstRate = utils.DereferencePtr(patch.CgstRate, s.defaultCgst)
		invoice.SgstRate = utils.DereferencePtr(patch.SgstRate, s.defaultSgst)
		invoice.IgstRate = utils.DereferencePtr(patch.IgstRate, s.defaultIgst)
	default:
		invoice.CgstRate = utils.DereferencePtr(patch.CgstRate, invoice.CgstRate)
		invoice.SgstRate = utils.DereferencePtr(patch.SgstRate, invoice.SgstRate)
		invoice.IgstRate = utils.DereferencePtr(patch.IgstRate, invoice.IgstRate)
	}
	return validateInvoiceHeader(invoice)
}

func validateInvoiceHeader(invoice *models.SalesInvoice) error {
	if invoice.InvoiceNumber == "" {
		return invalidInvoice("invoice_number", "invoice number is required")
	}
	if len(invoice.InvoiceNumber) > 255 {
		return invalidInvoice("invoice_number", "invoice number is too long")
	}
	if invoice.PartnerId <= 0 {
		return invalidInvoice("partner_id", "partner is required")
	}
	if invoice.InvoiceDate.IsZero() {
		return invalidInvoice("invoice_date", "invoice date is required")
	}
	if !invoice.PaymentStatus.IsValid() {
		return invalidInvoice("payment_status", "invalid payment status %q", invoice.PaymentStatus)
	}
	if invoice.PaidAmount.IsNegative() {
		return invalidInvoice("paid_amount", "paid amount must not be negative")
	}
	rates := []struct {
		field string
		rate  decimal.Decimal
	}{
		{"cgst_rate", invoice.CgstRate},
		{"sgst_rate", invoice.SgstRate},
		{"igst_rate", invoice.IgstRate},
	}
	for _, r := range rates {
		if r.rate.IsNegative() || r.rate.GreaterThan(decimal.NewFromInt(100)) {
			return invalidInvoice(r.field, "%s must be between 0 and 100", r.field)
		}
	}
	return nil
}

// withinTransaction runs fn as one unit of work and normalizes the error.
func (s *Service) withinTransaction(ctx context.Context, funcName string, data any, fn func(tx Tx) error) error {
	err := s.store.WithinTransaction(ctx, fn)
	if err == nil {
		return nil
	}
	err = asSaleError(funcName, err)
	if kind, _ := KindOf(err); kind == KindStorageFailure {
		config.LogError(s.logger, moduleName, funcName, "unit of work rolled back", data, err)
	}
	return err
}

// lockInvoice takes the cross-instance invoice lock. Failing to get it is
// logged and the call proceeds on the row locks alone.
func (s *Service) lockInvoice(ctx context.Context, id int) func() {
	if s.locker == nil {
		return func() {}
	}
	key := fmt.Sprintf("sale:%d", id)
	release, err := s.locker.Lock(ctx, key)
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"module":   moduleName,
				"lock_key": key,
			}).Warn("proceeding without invoice lock: " + err.Error())
		}
	}
	if release == nil {
		return func() {}
	}
	return release
}

func (s *Service) appendEvent(ctx context.Context, tx Tx, action models.SaleEventAction, detail *models.SaleDetail) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return storageFailure("encode sale event", err)
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	event := &models.SaleEvent{
		InvoiceId:     detail.ID,
		InvoiceNumber: detail.InvoiceNumber,
		Action:        action,
		Payload:       payload,
		CorrelationId: correlationId,
		PublishStatus: models.OutboxPublishStatusPending,
	}
	if err := tx.AppendSaleEvent(event); err != nil {
		return storageFailure("append sale event", err)
	}
	return nil
}

func (s *Service) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind, ok := KindOf(err); ok {
			span.SetAttributes(attribute.String("sale.error_kind", string(kind)))
		}
	}
	span.End()
}
