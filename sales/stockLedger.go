package sales

import (
	"errors"
	"sort"

	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/shopspring/decimal"
)

// StockLedger moves ProductionBatch.RemainingQty inside one unit of work.
// Lots are row-locked on first touch and cached for the rest of the unit.
type StockLedger struct {
	tx   Tx
	lots map[int]*models.ProductionBatch
}

func NewStockLedger(tx Tx) *StockLedger {
	return &StockLedger{tx: tx, lots: make(map[int]*models.ProductionBatch)}
}

// Lock row-locks every not yet locked lot in ascending id order.
// Missing lots are reported as NotFound.
func (l *StockLedger) Lock(ids []int) error {
	var pending []int
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if _, ok := l.lots[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Ints(pending)

	locked, err := l.tx.LockLots(pending)
	if err != nil {
		return storageFailure("lock production batches", err)
	}
	for _, id := range pending {
		lot, ok := locked[id]
		if !ok {
			return notFound("production batch", id)
		}
		l.lots[id] = lot
	}
	return nil
}

// Lot returns the locked row, locking it when needed.
func (l *StockLedger) Lot(id int) (*models.ProductionBatch, error) {
	if lot, ok := l.lots[id]; ok {
		return lot, nil
	}
	if err := l.Lock([]int{id}); err != nil {
		return nil, err
	}
	return l.lots[id], nil
}

// Remaining is the locked remaining quantity of the lot.
func (l *StockLedger) Remaining(id int) (decimal.Decimal, error) {
	lot, err := l.Lot(id)
	if err != nil {
		return decimal.Zero, err
	}
	return lot.RemainingQty, nil
}

func (l *StockLedger) Allocate(id int, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return errors.New("allocate: negative quantity")
	}
	return l.AdjustBy(id, qty)
}

// Release returns qty to the lot. There is no upper bound check; callers
// only release what they previously allocated.
func (l *StockLedger) Release(id int, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return errors.New("release: negative quantity")
	}
	return l.AdjustBy(id, qty.Neg())
}

// AdjustBy consumes delta when positive and returns stock when negative.
func (l *StockLedger) AdjustBy(id int, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	lot, err := l.Lot(id)
	if err != nil {
		return err
	}
	if delta.GreaterThan(lot.RemainingQty) {
		return insufficientStock(id, delta, lot.RemainingQty)
	}
	remaining := lot.RemainingQty.Sub(delta)
	if err := l.tx.UpdateLotRemaining(id, remaining); err != nil {
		return storageFailure("update production batch remaining", err)
	}
	lot.RemainingQty = remaining
	return nil
}
