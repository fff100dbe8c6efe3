package sales

import (
	"testing"

	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/shopspring/decimal"
)

func TestMatchExistingLines(t *testing.T) {
	at10 := &lineRequest{ProductId: 1, Rate: qty(10), Allocations: map[int]decimal.Decimal{7: qty(5)}}
	at12 := &lineRequest{ProductId: 1, Rate: qty(12), Allocations: map[int]decimal.Decimal{8: qty(3)}}
	lines := []models.SaleLine{
		{ID: 1, ProductId: 1, ProductionBatchId: lotPtr(8), Rate: qty(10), Quantity: qty(3)},
		{ID: 2, ProductId: 1, ProductionBatchId: lotPtr(7), Rate: qty(12), Quantity: qty(5)},
		{ID: 3, ProductId: 1, ProductionBatchId: lotPtr(9), Rate: qty(10), Quantity: qty(1)},
		{ID: 4, ProductId: 1, Rate: qty(10), Quantity: qty(1)},
	}

	claimed, rest := matchExistingLines([]*lineRequest{at10, at12}, lines)
	if got := claimed[at10]; len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("rate 10 request should own the lot 7 line, got %+v", got)
	}
	if got := claimed[at12]; len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("rate 12 request should own the lot 8 line, got %+v", got)
	}
	if len(rest) != 2 || rest[0].ID != 3 || rest[1].ID != 4 {
		t.Fatalf("unrequested lot and unbatched goods rows must be left over, got %+v", rest)
	}
}

func TestMatchExistingServiceLinesPrefersSameRate(t *testing.T) {
	cheap := &lineRequest{ProductId: 2, Rate: qty(50), Service: true}
	dear := &lineRequest{ProductId: 2, Rate: qty(80), Service: true}
	lines := []models.SaleLine{
		{ID: 1, ProductId: 2, Rate: qty(70), Quantity: qty(1)},
		{ID: 2, ProductId: 2, Rate: qty(80), Quantity: qty(1)},
		{ID: 3, ProductId: 2, Rate: qty(90), Quantity: qty(1)},
	}

	claimed, rest := matchExistingLines([]*lineRequest{cheap, dear}, lines)
	if got := claimed[dear]; len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("same-rate line should go to the 80 request, got %+v", got)
	}
	if got := claimed[cheap]; len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("first free line should be reused by the 50 request, got %+v", got)
	}
	if len(rest) != 1 || rest[0].ID != 3 {
		t.Fatalf("expected line 3 left over, got %+v", rest)
	}
}
