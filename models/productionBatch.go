package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductionBatch is one stock lot. ProducedQty never changes after creation;
// RemainingQty is only moved by the sales stock ledger.
type ProductionBatch struct {
	ID             int             `gorm:"primary_key" json:"id"`
	ProductId      int             `gorm:"index;not null" json:"product_id"`
	LocationId     int             `gorm:"index;not null;default:0" json:"location_id"`
	BatchNumber    string          `gorm:"size:100;not null" json:"batch_number"`
	ProductionDate time.Time       `gorm:"not null" json:"production_date"`
	ProducedQty    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"produced_qty"`
	RemainingQty   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"remaining_qty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductionBatch struct {
	ProductId      int             `json:"product_id" binding:"required"`
	LocationId     int             `json:"location_id"`
	BatchNumber    string          `json:"batch_number" binding:"required,max=100"`
	ProductionDate time.Time       `json:"production_date"`
	ProducedQty    decimal.Decimal `json:"produced_qty"`
}

type ProductionBatchFilter struct {
	ProductId   int  `form:"product_id"`
	LocationId  int  `form:"location_id"`
	InStockOnly bool `form:"in_stock_only"`
	Limit       int  `form:"limit"`
	Offset      int  `form:"offset"`
}
