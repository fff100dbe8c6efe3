package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a read-only lookup for the sales core. Nil rates fall back to the invoice rates.
type Product struct {
	ID          int              `gorm:"primary_key" json:"id"`
	Name        string           `gorm:"size:100;not null" json:"name"`
	Sku         string           `gorm:"size:100;default:null" json:"sku"`
	Unit        string           `gorm:"size:20;default:null" json:"unit"`
	ProductType ProductType      `gorm:"size:1;not null;default:G" json:"product_type"`
	CgstRate    *decimal.Decimal `gorm:"type:decimal(7,4);default:null" json:"cgst_rate"`
	SgstRate    *decimal.Decimal `gorm:"type:decimal(7,4);default:null" json:"sgst_rate"`
	IgstRate    *decimal.Decimal `gorm:"type:decimal(7,4);default:null" json:"igst_rate"`
	IsActive    *bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p Product) IsService() bool {
	return p.ProductType == ProductTypeService
}

type Partner struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Gstin     string    `gorm:"size:15;default:null" json:"gstin"`
	State     string    `gorm:"size:100;default:null" json:"state"`
	Phone     string    `gorm:"size:20;default:null" json:"phone"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
