package sales

import (
	"errors"

	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/utils"
	"github.com/shopspring/decimal"
)

// lineRequest is a submitted line after merging and validation.
type lineRequest struct {
	Index     int
	ProductId int
	Rate      decimal.Decimal
	Service   bool
	Quantity  decimal.Decimal
	// Allocations holds positive quantities per production batch; empty for services.
	Allocations map[int]decimal.Decimal

	lotIndex   map[int]int
	unbatched  decimal.Decimal
	hasBatches bool
}

// normalizeLines validates what can be checked without storage and merges
// repeated (product, rate) pairs. A product may appear at several rates as long
// as no lot is drawn at two of them, so each (invoice, lot) pair keeps a single line.
func normalizeLines(input []models.NewSaleLine) ([]*lineRequest, error) {
	if len(input) == 0 {
		return nil, invalidInvoice("lines", "at least one line is required")
	}

	var reqs []*lineRequest
	lotOwner := make(map[int]*lineRequest)
	for i, in := range input {
		if in.ProductId <= 0 {
			return nil, invalidLine(i, "product is required")
		}
		if !in.Rate.IsPositive() {
			return nil, invalidLine(i, "rate must be greater than zero")
		}
		if !utils.FitsStorageScale(in.Rate) {
			return nil, invalidLine(i, "rate %s has more than %d decimal places", in.Rate.String(), utils.StorageScale)
		}

		req := findRequest(reqs, in.ProductId, in.Rate)
		if req == nil {
			req = &lineRequest{
				Index:       i,
				ProductId:   in.ProductId,
				Rate:        in.Rate,
				Allocations: make(map[int]decimal.Decimal),
				lotIndex:    make(map[int]int),
			}
			reqs = append(reqs, req)
		}

		for j, a := range in.Allocations {
			if a.Quantity.IsNegative() {
				return nil, invalidLine(i, "allocation %d: quantity must not be negative", j)
			}
			if !utils.FitsStorageScale(a.Quantity) {
				return nil, invalidLine(i, "allocation %d: quantity %s has more than %d decimal places", j, a.Quantity.String(), utils.StorageScale)
			}
			if a.ProductionBatchId == nil {
				req.unbatched = req.unbatched.Add(a.Quantity)
				continue
			}
			lotId := *a.ProductionBatchId
			if lotId <= 0 {
				return nil, invalidLine(i, "allocation %d: invalid production batch id %d", j, lotId)
			}
			req.hasBatches = true
			if a.Quantity.IsZero() {
				continue
			}
			if owner, ok := lotOwner[lotId]; ok && owner != req {
				return nil, invalidLine(i, "production batch %d is already on line %d at rate %s", lotId, owner.lotIndex[lotId], owner.Rate.String())
			}
			lotOwner[lotId] = req
			req.Allocations[lotId] = req.Allocations[lotId].Add(a.Quantity)
			if _, ok := req.lotIndex[lotId]; !ok {
				req.lotIndex[lotId] = i
			}
		}
	}
	return reqs, nil
}

func findRequest(reqs []*lineRequest, productId int, rate decimal.Decimal) *lineRequest {
	for _, req := range reqs {
		if req.ProductId == productId && req.Rate.Equal(rate) {
			return req
		}
	}
	return nil
}

// resolveLines applies the product-dependent rules.
func resolveLines(reqs []*lineRequest, products map[int]*models.Product) error {
	for _, req := range reqs {
		product, ok := products[req.ProductId]
		if !ok {
			return lineNotFound(req.Index, "product", req.ProductId)
		}
		req.Service = product.IsService()

		if req.Service {
			if req.hasBatches {
				return invalidLine(req.Index, "service product %d cannot draw from a production batch", req.ProductId)
			}
			req.Quantity = req.unbatched
			if req.Quantity.IsZero() {
				// a service with no quantity bills one unit
				req.Quantity = decimal.NewFromInt(1)
			}
			if err := checkLineAmount(req, req.Quantity); err != nil {
				return err
			}
			continue
		}

		if req.unbatched.IsPositive() {
			return invalidLine(req.Index, "production batch is required for product %d", req.ProductId)
		}
		total := decimal.Zero
		for _, lotId := range utils.SortedIntKeys(req.Allocations) {
			qty := req.Allocations[lotId]
			if err := checkLineAmount(req, qty); err != nil {
				return err
			}
			total = total.Add(qty)
		}
		if !total.IsPositive() {
			return invalidLine(req.Index, "quantity must be greater than zero")
		}
		req.Quantity = total
	}
	return nil
}

// checkLineAmount keeps amount = quantity * rate exact at the storage scale.
func checkLineAmount(req *lineRequest, qty decimal.Decimal) error {
	if amount := qty.Mul(req.Rate); !utils.FitsStorageScale(amount) {
		return invalidLine(req.Index, "amount %s x %s has more than %d decimal places", qty.String(), req.Rate.String(), utils.StorageScale)
	}
	return nil
}

func productIdsOf(reqs []*lineRequest) []int {
	ids := make([]int, 0, len(reqs))
	for _, req := range reqs {
		ids = append(ids, req.ProductId)
	}
	return utils.UniqueSlice(ids)
}

// desiredByLot is the invoice-wide allocation per lot.
func desiredByLot(reqs []*lineRequest) map[int]decimal.Decimal {
	desired := make(map[int]decimal.Decimal)
	for _, req := range reqs {
		for lotId, qty := range req.Allocations {
			desired[lotId] = desired[lotId].Add(qty)
		}
	}
	return desired
}

// heldByLot is what the invoice's current lines hold per lot.
func heldByLot(lines []models.SaleLine) map[int]decimal.Decimal {
	held := make(map[int]decimal.Decimal)
	for _, line := range lines {
		if line.ProductionBatchId == nil {
			continue
		}
		held[*line.ProductionBatchId] = held[*line.ProductionBatchId].Add(line.Quantity)
	}
	return held
}

// lockRequestedLots locks the union of held and desired lots in one ascending
// pass, then checks every requested lot belongs to its line's product.
func lockRequestedLots(ledger *StockLedger, reqs []*lineRequest, held map[int]decimal.Decimal) error {
	ids := utils.SortedIntKeys(held)
	for _, req := range reqs {
		for lotId := range req.Allocations {
			ids = append(ids, lotId)
		}
	}
	if err := ledger.Lock(utils.UniqueSlice(ids)); err != nil {
		var se *SaleError
		if errors.As(err, &se) && se.Kind == KindNotFound {
			for _, req := range reqs {
				if idx, ok := req.lotIndex[se.EntityId]; ok {
					return lineNotFound(idx, se.Entity, se.EntityId)
				}
			}
		}
		return err
	}

	for _, req := range reqs {
		for _, lotId := range utils.SortedIntKeys(req.Allocations) {
			lot, err := ledger.Lot(lotId)
			if err != nil {
				return err
			}
			if lot.ProductId != req.ProductId {
				return invalidLine(req.lotIndex[lotId], "production batch %d does not belong to product %d", lotId, req.ProductId)
			}
		}
	}
	return nil
}

// projectLines builds the lines a request set will produce, for totals validation.
func projectLines(invoiceId int, reqs []*lineRequest) []models.SaleLine {
	var lines []models.SaleLine
	for _, req := range reqs {
		if req.Service {
			lines = append(lines, newSaleLine(invoiceId, req, nil, req.Quantity))
			continue
		}
		for _, lotId := range utils.SortedIntKeys(req.Allocations) {
			id := lotId
			lines = append(lines, newSaleLine(invoiceId, req, &id, req.Allocations[lotId]))
		}
	}
	return lines
}

func newSaleLine(invoiceId int, req *lineRequest, lotId *int, qty decimal.Decimal) models.SaleLine {
	return models.SaleLine{
		SalesInvoiceId:    invoiceId,
		ProductId:         req.ProductId,
		ProductionBatchId: lotId,
		Quantity:          qty,
		Rate:              req.Rate,
		Amount:            utils.LineAmount(qty, req.Rate),
	}
}
