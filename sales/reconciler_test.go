package sales

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/shopspring/decimal"
)

func qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func TestPlanAllocations(t *testing.T) {
	tests := []struct {
		name     string
		previous map[int]decimal.Decimal
		desired  map[int]decimal.Decimal
		want     []AllocationOp
	}{
		{
			name:    "new lot allocates",
			desired: map[int]decimal.Decimal{1: qty(30)},
			want:    []AllocationOp{{Kind: OpAllocate, LotId: 1, Previous: qty(0), Desired: qty(30), Delta: qty(30)}},
		},
		{
			name:     "increase adjusts by the difference",
			previous: map[int]decimal.Decimal{1: qty(30)},
			desired:  map[int]decimal.Decimal{1: qty(50)},
			want:     []AllocationOp{{Kind: OpAdjust, LotId: 1, Previous: qty(30), Desired: qty(50), Delta: qty(20)}},
		},
		{
			name:     "decrease gives stock back",
			previous: map[int]decimal.Decimal{1: qty(50)},
			desired:  map[int]decimal.Decimal{1: qty(20)},
			want:     []AllocationOp{{Kind: OpAdjust, LotId: 1, Previous: qty(50), Desired: qty(20), Delta: qty(-30)}},
		},
		{
			name:     "same quantity keeps",
			previous: map[int]decimal.Decimal{1: qty(10)},
			desired:  map[int]decimal.Decimal{1: qty(10)},
			want:     []AllocationOp{{Kind: OpKeep, LotId: 1, Previous: qty(10), Desired: qty(10), Delta: qty(0)}},
		},
		{
			name:     "missing lot releases",
			previous: map[int]decimal.Decimal{2: qty(15)},
			want:     []AllocationOp{{Kind: OpRelease, LotId: 2, Previous: qty(15), Desired: qty(0), Delta: qty(-15)}},
		},
		{
			name:     "zero desired is a removal",
			previous: map[int]decimal.Decimal{2: qty(15)},
			desired:  map[int]decimal.Decimal{2: qty(0)},
			want:     []AllocationOp{{Kind: OpRelease, LotId: 2, Previous: qty(15), Desired: qty(0), Delta: qty(-15)}},
		},
		{
			name:    "zero desired on an unknown lot is ignored",
			desired: map[int]decimal.Decimal{3: qty(0)},
			want:    nil,
		},
		{
			name:     "mixed plan is ordered by lot id",
			previous: map[int]decimal.Decimal{9: qty(5), 4: qty(10)},
			desired:  map[int]decimal.Decimal{7: qty(1), 4: qty(12)},
			want: []AllocationOp{
				{Kind: OpAdjust, LotId: 4, Previous: qty(10), Desired: qty(12), Delta: qty(2)},
				{Kind: OpAllocate, LotId: 7, Previous: qty(0), Desired: qty(1), Delta: qty(1)},
				{Kind: OpRelease, LotId: 9, Previous: qty(5), Desired: qty(0), Delta: qty(-5)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanAllocations(tt.previous, tt.desired)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d ops, got %d: %+v", len(tt.want), len(got), got)
			}
			for i := range got {
				g, w := got[i], tt.want[i]
				if g.Kind != w.Kind || g.LotId != w.LotId || !g.Previous.Equal(w.Previous) || !g.Desired.Equal(w.Desired) || !g.Delta.Equal(w.Delta) {
					t.Fatalf("op %d: got %+v want %+v", i, g, w)
				}
			}
		})
	}
}

// fakeTx is the part of Tx the stock ledger touches; everything else panics via the nil embed.
type fakeTx struct {
	Tx
	lots    map[int]*models.ProductionBatch
	locked  [][]int
	updates int
}

func newFakeTx(remaining map[int]int64) *fakeTx {
	f := &fakeTx{lots: make(map[int]*models.ProductionBatch)}
	for id, n := range remaining {
		f.lots[id] = &models.ProductionBatch{ID: id, ProductId: 1, ProducedQty: qty(n), RemainingQty: qty(n)}
	}
	return f
}

func (f *fakeTx) LockLots(ids []int) (map[int]*models.ProductionBatch, error) {
	f.locked = append(f.locked, append([]int(nil), ids...))
	out := make(map[int]*models.ProductionBatch, len(ids))
	for _, id := range ids {
		if lot, ok := f.lots[id]; ok {
			copied := *lot
			out[id] = &copied
		}
	}
	return out, nil
}

func (f *fakeTx) UpdateLotRemaining(id int, remaining decimal.Decimal) error {
	f.updates++
	f.lots[id].RemainingQty = remaining
	return nil
}

func TestCheckAvailabilityCountsHeldStock(t *testing.T) {
	tx := newFakeTx(map[int]int64{1: 70})
	ledger := NewStockLedger(tx)
	held := map[int]decimal.Decimal{1: qty(30)}

	if err := CheckAvailability(ledger, held, map[int]decimal.Decimal{1: qty(100)}); err != nil {
		t.Fatalf("100 = 70 left + 30 held should fit: %v", err)
	}

	err := CheckAvailability(ledger, held, map[int]decimal.Decimal{1: qty(200)})
	var se *SaleError
	if !errors.As(err, &se) || se.Kind != KindInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if se.LotId != 1 || !se.Requested.Equal(qty(200)) || !se.Available.Equal(qty(100)) {
		t.Fatalf("unexpected details: %+v", se)
	}
	if tx.updates != 0 {
		t.Fatalf("availability check must not write, got %d updates", tx.updates)
	}
}

func TestApplyPlanMovesStock(t *testing.T) {
	tx := newFakeTx(map[int]int64{1: 70, 2: 40, 3: 10})
	ledger := NewStockLedger(tx)
	plan := PlanAllocations(
		map[int]decimal.Decimal{1: qty(30), 3: qty(5)},
		map[int]decimal.Decimal{1: qty(50), 2: qty(40)},
	)
	if err := ApplyPlan(ledger, plan); err != nil {
		t.Fatalf("apply plan: %v", err)
	}

	want := map[int]int64{1: 50, 2: 0, 3: 15}
	for id, n := range want {
		if got := tx.lots[id].RemainingQty; !got.Equal(qty(n)) {
			t.Fatalf("lot %d: remaining %s want %d", id, got, n)
		}
	}
}

func TestStockLedgerLocksOnceInAscendingOrder(t *testing.T) {
	tx := newFakeTx(map[int]int64{1: 10, 5: 10, 8: 10})
	ledger := NewStockLedger(tx)

	if err := ledger.Lock([]int{8, 1, 8, 5}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := ledger.Lock([]int{5, 1}); err != nil {
		t.Fatalf("relock: %v", err)
	}
	if len(tx.locked) != 1 {
		t.Fatalf("expected a single lock round trip, got %v", tx.locked)
	}
	if got := tx.locked[0]; len(got) != 3 || got[0] != 1 || got[1] != 5 || got[2] != 8 {
		t.Fatalf("expected ascending ids [1 5 8], got %v", got)
	}

	err := ledger.Lock([]int{42})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for a missing lot, got %v", err)
	}
}

func TestStockLedgerAdjustBy(t *testing.T) {
	tx := newFakeTx(map[int]int64{1: 100})
	ledger := NewStockLedger(tx)

	if err := ledger.Allocate(1, qty(30)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := ledger.AdjustBy(1, qty(-10)); err != nil {
		t.Fatalf("adjust down: %v", err)
	}
	if err := ledger.AdjustBy(1, qty(0)); err != nil {
		t.Fatalf("zero adjust: %v", err)
	}
	if tx.updates != 2 {
		t.Fatalf("zero delta must not write, got %d updates", tx.updates)
	}

	err := ledger.AdjustBy(1, qty(81))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := tx.lots[1].RemainingQty; !got.Equal(qty(80)) {
		t.Fatalf("failed adjust changed stock: %s", got)
	}

	if err := ledger.Release(1, qty(80)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if remaining, _ := ledger.Remaining(1); !remaining.Equal(qty(160)) {
		t.Fatalf("release adds back without a cap, got %s", remaining)
	}
	if err := ledger.Allocate(1, qty(-1)); err == nil {
		t.Fatalf("expected negative allocate to fail")
	}
}
