package sales

import (
	"context"
	"strings"

	"github.com/mmdatafocus/sales_ledger/config"
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/utils"
	"github.com/shopspring/decimal"
)

// RecordProduction registers a new lot for the production collaborator.
// The lot starts with its whole produced quantity remaining.
func (s *Service) RecordProduction(ctx context.Context, input *models.NewProductionBatch) (lot *models.ProductionBatch, err error) {
	ctx, span := s.tracer.Start(ctx, "sales.RecordProduction")
	defer func() { s.endSpan(span, err) }()

	if input == nil {
		return nil, invalidBatch("body", "production batch is required")
	}
	if verr := utils.ValidateStruct(input); verr != nil {
		field, tag := utils.FirstValidationError(verr)
		return nil, invalidBatch(field, "%s failed %s", field, tag)
	}
	if !input.ProducedQty.IsPositive() {
		return nil, invalidBatch("produced_qty", "produced quantity must be greater than zero")
	}
	if !utils.FitsStorageScale(input.ProducedQty) {
		return nil, invalidBatch("produced_qty", "produced quantity %s has more than %d decimal places", input.ProducedQty.String(), utils.StorageScale)
	}
	productionDate := input.ProductionDate
	if productionDate.IsZero() {
		productionDate = s.now().UTC()
	}

	err = s.withinTransaction(ctx, "RecordProduction", input, func(tx Tx) error {
		products, err := tx.FindProducts([]int{input.ProductId})
		if err != nil {
			return storageFailure("find products", err)
		}
		product, ok := products[input.ProductId]
		if !ok {
			return notFound("product", input.ProductId)
		}
		if product.IsService() {
			return invalidBatch("product_id", "service product %d cannot hold stock", input.ProductId)
		}

		lot = &models.ProductionBatch{
			ProductId:      input.ProductId,
			LocationId:     input.LocationId,
			BatchNumber:    strings.TrimSpace(input.BatchNumber),
			ProductionDate: productionDate,
			ProducedQty:    input.ProducedQty,
			RemainingQty:   input.ProducedQty,
		}
		if err := tx.CreateLot(lot); err != nil {
			return storageFailure("create production batch", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// ListProductionBatches backs the batch picker of the sale form.
func (s *Service) ListProductionBatches(ctx context.Context, filter models.ProductionBatchFilter) (lots []models.ProductionBatch, err error) {
	ctx, span := s.tracer.Start(ctx, "sales.ListProductionBatches")
	defer func() { s.endSpan(span, err) }()

	if filter.Limit <= 0 {
		filter.Limit = config.SearchLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.LocationId == 0 {
		if locationId, ok := utils.GetLocationIdFromContext(ctx); ok {
			filter.LocationId = locationId
		}
	}

	err = s.withinTransaction(ctx, "ListProductionBatches", filter, func(tx Tx) error {
		lots, err = tx.ListLots(filter)
		if err != nil {
			return storageFailure("list production batches", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lots, nil
}

// StockDiscrepancy is a lot whose produced quantity does not equal what is
// left plus what sale lines hold.
type StockDiscrepancy struct {
	LotId       int             `json:"production_batch_id"`
	ProductId   int             `json:"product_id"`
	BatchNumber string          `json:"batch_number"`
	Produced    decimal.Decimal `json:"produced_qty"`
	Remaining   decimal.Decimal `json:"remaining_qty"`
	Allocated   decimal.Decimal `json:"allocated_qty"`
	Difference  decimal.Decimal `json:"difference"`
}

// AuditStock checks produced == remaining + allocated and remaining >= 0 for every lot.
func (s *Service) AuditStock(ctx context.Context) (discrepancies []StockDiscrepancy, err error) {
	ctx, span := s.tracer.Start(ctx, "sales.AuditStock")
	defer func() { s.endSpan(span, err) }()

	err = s.withinTransaction(ctx, "AuditStock", nil, func(tx Tx) error {
		allocated, err := tx.AllocatedQtyByLot()
		if err != nil {
			return storageFailure("sum allocated quantities", err)
		}
		discrepancies = nil
		for offset := 0; ; offset += maxListLimit {
			lots, err := tx.ListLots(models.ProductionBatchFilter{Limit: maxListLimit, Offset: offset})
			if err != nil {
				return storageFailure("list production batches", err)
			}
			for _, lot := range lots {
				held := allocated[lot.ID]
				diff := lot.ProducedQty.Sub(lot.RemainingQty.Add(held))
				if diff.IsZero() && !lot.RemainingQty.IsNegative() {
					continue
				}
				discrepancies = append(discrepancies, StockDiscrepancy{
					LotId:       lot.ID,
					ProductId:   lot.ProductId,
					BatchNumber: lot.BatchNumber,
					Produced:    lot.ProducedQty,
					Remaining:   lot.RemainingQty,
					Allocated:   held,
					Difference:  diff,
				})
			}
			if len(lots) < maxListLimit {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return discrepancies, nil
}
