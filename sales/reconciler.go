package sales

import (
	"github.com/mmdatafocus/sales_ledger/utils"
	"github.com/shopspring/decimal"
)

type AllocationOpKind string

const (
	OpAllocate AllocationOpKind = "ALLOCATE"
	OpAdjust   AllocationOpKind = "ADJUST"
	OpKeep     AllocationOpKind = "KEEP"
	OpRelease  AllocationOpKind = "RELEASE"
)

// AllocationOp is one step of a reconciliation plan for a single lot.
// Delta is what the stock ledger consumes: positive allocates, negative returns.
type AllocationOp struct {
	Kind     AllocationOpKind
	LotId    int
	Previous decimal.Decimal
	Desired  decimal.Decimal
	Delta    decimal.Decimal
}

// PlanAllocations diffs previous against desired per lot, ordered by lot id.
// A zero desired quantity is treated as a removal.
func PlanAllocations(previous, desired map[int]decimal.Decimal) []AllocationOp {
	ids := make(map[int]struct{}, len(previous)+len(desired))
	for id := range previous {
		ids[id] = struct{}{}
	}
	for id := range desired {
		ids[id] = struct{}{}
	}

	plan := make([]AllocationOp, 0, len(ids))
	for _, id := range utils.SortedIntKeys(ids) {
		prev, hadPrev := previous[id]
		want, hasWant := desired[id]
		if hasWant && !want.IsPositive() {
			hasWant = false
			want = decimal.Zero
		}
		if hadPrev && !prev.IsPositive() {
			// a zero line holds no stock; only its row needs removing
			prev = decimal.Zero
		}

		op := AllocationOp{LotId: id, Previous: prev, Desired: want, Delta: want.Sub(prev)}
		switch {
		case hadPrev && hasWant:
			op.Kind = OpAdjust
			if op.Delta.IsZero() {
				op.Kind = OpKeep
			}
		case hasWant:
			op.Kind = OpAllocate
		case hadPrev:
			op.Kind = OpRelease
		default:
			continue
		}
		plan = append(plan, op)
	}
	return plan
}

// CheckAvailability rejects the first lot whose desired quantity exceeds what
// is left plus what this invoice already holds on it.
func CheckAvailability(ledger *StockLedger, previous, desired map[int]decimal.Decimal) error {
	for _, id := range utils.SortedIntKeys(desired) {
		want := desired[id]
		if !want.IsPositive() {
			continue
		}
		remaining, err := ledger.Remaining(id)
		if err != nil {
			return err
		}
		available := remaining.Add(previous[id])
		if want.GreaterThan(available) {
			return insufficientStock(id, want, available)
		}
	}
	return nil
}

// ApplyPlan runs the stock side of a plan. Line rows are handled by the caller.
func ApplyPlan(ledger *StockLedger, plan []AllocationOp) error {
	for _, op := range plan {
		switch op.Kind {
		case OpAllocate:
			if err := ledger.Allocate(op.LotId, op.Desired); err != nil {
				return err
			}
		case OpAdjust:
			if err := ledger.AdjustBy(op.LotId, op.Delta); err != nil {
				return err
			}
		case OpRelease:
			if err := ledger.Release(op.LotId, op.Previous); err != nil {
				return err
			}
		}
	}
	return nil
}
