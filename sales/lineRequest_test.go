package sales

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/shopspring/decimal"
)

func lotPtr(id int) *int {
	return &id
}

func alloc(lotId int, n int64) models.NewAllocation {
	return models.NewAllocation{ProductionBatchId: lotPtr(lotId), Quantity: qty(n)}
}

func TestNormalizeLinesMergesSameProductAndRate(t *testing.T) {
	reqs, err := normalizeLines([]models.NewSaleLine{
		{ProductId: 1, Rate: qty(10), Allocations: []models.NewAllocation{alloc(7, 60)}},
		{ProductId: 1, Rate: qty(10), Allocations: []models.NewAllocation{alloc(7, 60), alloc(8, 0)}},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected one merged request, got %d", len(reqs))
	}
	if got := reqs[0].Allocations[7]; !got.Equal(qty(120)) {
		t.Fatalf("expected 120 on lot 7, got %s", got)
	}
	if _, ok := reqs[0].Allocations[8]; ok {
		t.Fatalf("zero allocation must not be kept")
	}
	if got := desiredByLot(reqs)[7]; !got.Equal(qty(120)) {
		t.Fatalf("desired by lot: got %s", got)
	}
}

func TestNormalizeLinesRejects(t *testing.T) {
	tests := []struct {
		name  string
		lines []models.NewSaleLine
		kind  ErrorKind
		index int
	}{
		{"no lines", nil, KindInvalidInvoice, -1},
		{"missing product", []models.NewSaleLine{{Rate: qty(1)}}, KindInvalidLine, 0},
		{"zero rate", []models.NewSaleLine{{ProductId: 1, Allocations: []models.NewAllocation{alloc(1, 1)}}}, KindInvalidLine, 0},
		{"negative quantity", []models.NewSaleLine{{ProductId: 1, Rate: qty(1), Allocations: []models.NewAllocation{alloc(1, -1)}}}, KindInvalidLine, 0},
		{"bad batch id", []models.NewSaleLine{{ProductId: 1, Rate: qty(1), Allocations: []models.NewAllocation{alloc(0, 1)}}}, KindInvalidLine, 0},
		{
			"same lot at two rates",
			[]models.NewSaleLine{
				{ProductId: 1, Rate: qty(10), Allocations: []models.NewAllocation{alloc(1, 1)}},
				{ProductId: 1, Rate: qty(12), Allocations: []models.NewAllocation{alloc(1, 1)}},
			},
			KindInvalidLine, 1,
		},
		{"rate finer than storage", []models.NewSaleLine{{ProductId: 1, Rate: dec("10.00001"), Allocations: []models.NewAllocation{alloc(1, 1)}}}, KindInvalidLine, 0},
		{
			"quantity finer than storage",
			[]models.NewSaleLine{
				{ProductId: 1, Rate: qty(1), Allocations: []models.NewAllocation{alloc(1, 1)}},
				{ProductId: 2, Rate: qty(5), Allocations: []models.NewAllocation{{Quantity: dec("0.00001")}}},
			},
			KindInvalidLine, 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizeLines(tt.lines)
			var se *SaleError
			if !errors.As(err, &se) {
				t.Fatalf("expected SaleError, got %v", err)
			}
			if se.Kind != tt.kind || se.LineIndex != tt.index {
				t.Fatalf("got kind=%s index=%d want kind=%s index=%d", se.Kind, se.LineIndex, tt.kind, tt.index)
			}
		})
	}
}

func TestNormalizeLinesAcceptsTrailingZeros(t *testing.T) {
	reqs, err := normalizeLines([]models.NewSaleLine{
		{ProductId: 1, Rate: dec("12.500000"), Allocations: []models.NewAllocation{{ProductionBatchId: lotPtr(1), Quantity: dec("2.50000")}}},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := reqs[0].Allocations[1]; !got.Equal(dec("2.5")) {
		t.Fatalf("got %s want 2.5", got)
	}
}

func TestNormalizeLinesSplitsRatesOnDisjointLots(t *testing.T) {
	reqs, err := normalizeLines([]models.NewSaleLine{
		{ProductId: 1, Rate: qty(10), Allocations: []models.NewAllocation{alloc(7, 5)}},
		{ProductId: 1, Rate: qty(12), Allocations: []models.NewAllocation{alloc(8, 3)}},
		{ProductId: 1, Rate: qty(10), Allocations: []models.NewAllocation{alloc(7, 1)}},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected one request per rate, got %d", len(reqs))
	}
	if !reqs[0].Allocations[7].Equal(qty(6)) || !reqs[1].Allocations[8].Equal(qty(3)) {
		t.Fatalf("unexpected allocations %v / %v", reqs[0].Allocations, reqs[1].Allocations)
	}
	if ids := productIdsOf(reqs); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("product ids: got %v", ids)
	}
}

func TestResolveLines(t *testing.T) {
	products := map[int]*models.Product{
		1: {ID: 1, ProductType: models.ProductTypeGoods},
		2: {ID: 2, ProductType: models.ProductTypeService},
	}

	t.Run("service defaults to one unit", func(t *testing.T) {
		reqs, err := normalizeLines([]models.NewSaleLine{{ProductId: 2, Rate: qty(250)}})
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if err := resolveLines(reqs, products); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !reqs[0].Service || !reqs[0].Quantity.Equal(decimal.NewFromInt(1)) {
			t.Fatalf("expected a one unit service line, got %+v", reqs[0])
		}
		lines := projectLines(5, reqs)
		if len(lines) != 1 || lines[0].ProductionBatchId != nil || !lines[0].Amount.Equal(qty(250)) {
			t.Fatalf("unexpected projection %+v", lines)
		}
	})

	tests := []struct {
		name  string
		lines []models.NewSaleLine
		kind  ErrorKind
	}{
		{"unknown product", []models.NewSaleLine{{ProductId: 9, Rate: qty(1), Allocations: []models.NewAllocation{alloc(1, 1)}}}, KindNotFound},
		{"service with batch", []models.NewSaleLine{{ProductId: 2, Rate: qty(1), Allocations: []models.NewAllocation{alloc(1, 1)}}}, KindInvalidLine},
		{"goods without batch", []models.NewSaleLine{{ProductId: 1, Rate: qty(1), Allocations: []models.NewAllocation{{Quantity: qty(3)}}}}, KindInvalidLine},
		{"goods with zero quantity", []models.NewSaleLine{{ProductId: 1, Rate: qty(1), Allocations: []models.NewAllocation{alloc(1, 0)}}}, KindInvalidLine},
		{"goods amount finer than storage", []models.NewSaleLine{{ProductId: 1, Rate: dec("0.5"), Allocations: []models.NewAllocation{{ProductionBatchId: lotPtr(1), Quantity: dec("0.0001")}}}}, KindInvalidLine},
		{"service amount finer than storage", []models.NewSaleLine{{ProductId: 2, Rate: dec("0.0003"), Allocations: []models.NewAllocation{{Quantity: dec("0.5")}}}}, KindInvalidLine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs, err := normalizeLines(tt.lines)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			err = resolveLines(reqs, products)
			if kind, _ := KindOf(err); kind != tt.kind {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}
