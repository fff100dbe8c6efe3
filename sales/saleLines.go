package sales

import (
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/utils"
	"github.com/shopspring/decimal"
)

// LineManager owns the SaleLine rows of one invoice and keeps the stock
// ledger in step with them.
type LineManager struct {
	tx     Tx
	ledger *StockLedger
}

func NewLineManager(tx Tx, ledger *StockLedger) *LineManager {
	return &LineManager{tx: tx, ledger: ledger}
}

// SetLines makes the invoice's lines match reqs. Existing lines are matched to
// requests by product and lot and reconciled per lot, new lots are allocated fresh
// and lines no request claims give their stock back.
func (m *LineManager) SetLines(invoiceId int, reqs []*lineRequest) error {
	existing, err := m.tx.ListSaleLines(invoiceId)
	if err != nil {
		return storageFailure("list sale lines", err)
	}
	groups := make(map[int][]models.SaleLine)
	for _, line := range existing {
		groups[line.ProductId] = append(groups[line.ProductId], line)
	}
	byProduct := make(map[int][]*lineRequest)
	for _, req := range reqs {
		byProduct[req.ProductId] = append(byProduct[req.ProductId], req)
	}

	var unclaimed []models.SaleLine
	assigned := make(map[*lineRequest][]models.SaleLine, len(reqs))
	for _, productId := range utils.SortedIntKeys(groups) {
		claimed, rest := matchExistingLines(byProduct[productId], groups[productId])
		for req, lines := range claimed {
			assigned[req] = lines
		}
		unclaimed = append(unclaimed, rest...)
	}

	for _, req := range reqs {
		if req.Service {
			err = m.setServiceLine(invoiceId, req, assigned[req])
		} else {
			err = m.reconcileGroup(invoiceId, req, assigned[req])
		}
		if err != nil {
			return err
		}
	}
	return m.removeLines(unclaimed)
}

// matchExistingLines hands each existing line of one product to the request
// that will own it: batched lines to the goods request drawing that lot,
// unbatched lines to a service request (same rate first). Lines matching no
// request are returned as rest.
func matchExistingLines(reqs []*lineRequest, lines []models.SaleLine) (map[*lineRequest][]models.SaleLine, []models.SaleLine) {
	claimed := make(map[*lineRequest][]models.SaleLine)
	var goods, services []*lineRequest
	for _, req := range reqs {
		if req.Service {
			services = append(services, req)
		} else {
			goods = append(goods, req)
		}
	}

	var unbatched, rest []models.SaleLine
	for _, line := range lines {
		if line.ProductionBatchId == nil {
			unbatched = append(unbatched, line)
			continue
		}
		owner := firstGoodsRequestFor(goods, *line.ProductionBatchId)
		if owner == nil {
			rest = append(rest, line)
			continue
		}
		claimed[owner] = append(claimed[owner], line)
	}

	taken := make(map[*lineRequest]bool)
	var leftover []models.SaleLine
	for _, line := range unbatched {
		if req := freeServiceRequest(services, taken, line.Rate, true); req != nil {
			taken[req] = true
			claimed[req] = append(claimed[req], line)
			continue
		}
		leftover = append(leftover, line)
	}
	for _, line := range leftover {
		if req := freeServiceRequest(services, taken, line.Rate, false); req != nil {
			taken[req] = true
			claimed[req] = append(claimed[req], line)
			continue
		}
		rest = append(rest, line)
	}
	return claimed, rest
}

func firstGoodsRequestFor(goods []*lineRequest, lotId int) *lineRequest {
	for _, req := range goods {
		if _, ok := req.Allocations[lotId]; ok {
			return req
		}
	}
	return nil
}

func freeServiceRequest(services []*lineRequest, taken map[*lineRequest]bool, rate decimal.Decimal, sameRate bool) *lineRequest {
	for _, req := range services {
		if taken[req] || (sameRate && !req.Rate.Equal(rate)) {
			continue
		}
		return req
	}
	return nil
}

// DeleteAllLines releases every line's stock and deletes the lines.
func (m *LineManager) DeleteAllLines(invoiceId int) error {
	lines, err := m.tx.ListSaleLines(invoiceId)
	if err != nil {
		return storageFailure("list sale lines", err)
	}
	if err := m.ledger.Lock(utils.SortedIntKeys(heldByLot(lines))); err != nil {
		return err
	}
	return m.removeLines(lines)
}

func (m *LineManager) reconcileGroup(invoiceId int, req *lineRequest, group []models.SaleLine) error {
	previous := make(map[int]decimal.Decimal)
	lineByLot := make(map[int]*models.SaleLine)
	var stray []models.SaleLine
	for i := range group {
		line := group[i]
		if line.ProductionBatchId == nil {
			stray = append(stray, line)
			continue
		}
		lotId := *line.ProductionBatchId
		previous[lotId] = previous[lotId].Add(line.Quantity)
		if _, ok := lineByLot[lotId]; ok {
			// duplicate row for the lot: its quantity folds into the kept one
			stray = append(stray, line)
			continue
		}
		lineByLot[lotId] = &line
	}

	plan := PlanAllocations(previous, req.Allocations)
	if err := ApplyPlan(m.ledger, plan); err != nil {
		return err
	}

	for _, op := range plan {
		switch op.Kind {
		case OpAllocate:
			lotId := op.LotId
			line := newSaleLine(invoiceId, req, &lotId, op.Desired)
			if err := m.tx.CreateSaleLine(&line); err != nil {
				return storageFailure("create sale line", err)
			}
		case OpAdjust, OpKeep:
			line := lineByLot[op.LotId]
			if err := m.rewriteLine(line, op.Desired, req.Rate); err != nil {
				return err
			}
		case OpRelease:
			if err := m.deleteLine(lineByLot[op.LotId].ID); err != nil {
				return err
			}
		}
	}

	// unbatched goods rows hold no stock; duplicate rows were settled through the folded quantity
	for _, line := range stray {
		if err := m.deleteLine(line.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *LineManager) setServiceLine(invoiceId int, req *lineRequest, group []models.SaleLine) error {
	var keep *models.SaleLine
	var remove []models.SaleLine
	for i := range group {
		line := group[i]
		if line.ProductionBatchId == nil && keep == nil {
			keep = &line
			continue
		}
		remove = append(remove, line)
	}
	if err := m.removeLines(remove); err != nil {
		return err
	}

	if keep == nil {
		line := newSaleLine(invoiceId, req, nil, req.Quantity)
		if err := m.tx.CreateSaleLine(&line); err != nil {
			return storageFailure("create sale line", err)
		}
		return nil
	}
	return m.rewriteLine(keep, req.Quantity, req.Rate)
}

// rewriteLine sets quantity and rate and recomputes the amount.
func (m *LineManager) rewriteLine(line *models.SaleLine, qty decimal.Decimal, rate decimal.Decimal) error {
	amount := utils.LineAmount(qty, rate)
	if line.Quantity.Equal(qty) && line.Rate.Equal(rate) && line.Amount.Equal(amount) {
		return nil
	}
	line.Quantity = qty
	line.Rate = rate
	line.Amount = amount
	if err := m.tx.UpdateSaleLine(line); err != nil {
		return storageFailure("update sale line", err)
	}
	return nil
}

func (m *LineManager) removeLines(lines []models.SaleLine) error {
	for _, line := range lines {
		if line.ProductionBatchId != nil {
			if err := m.ledger.Release(*line.ProductionBatchId, line.Quantity); err != nil {
				return err
			}
		}
		if err := m.deleteLine(line.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *LineManager) deleteLine(id int) error {
	if err := m.tx.DeleteSaleLine(id); err != nil {
		return storageFailure("delete sale line", err)
	}
	return nil
}
