package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalesInvoice aggregates are derived from its lines; never write them directly.
type SalesInvoice struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	InvoiceNumber      string          `gorm:"size:255;not null;uniqueIndex" json:"invoice_number"`
	PartnerId          int             `gorm:"index;not null" json:"partner_id"`
	InvoiceDate        time.Time       `gorm:"index;not null" json:"invoice_date"`
	IsGst              bool            `gorm:"not null;default:false" json:"is_gst"`
	PaymentType        PaymentType     `gorm:"size:20;default:null" json:"payment_type"`
	PaymentStatus      PaymentStatus   `gorm:"size:20;not null;index" json:"payment_status"`
	CgstRate           decimal.Decimal `gorm:"type:decimal(7,4);default:0" json:"cgst_rate"`
	SgstRate           decimal.Decimal `gorm:"type:decimal(7,4);default:0" json:"sgst_rate"`
	IgstRate           decimal.Decimal `gorm:"type:decimal(7,4);default:0" json:"igst_rate"`
	InvoiceSubtotal    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"invoice_subtotal"`
	CgstAmount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cgst_amount"`
	SgstAmount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sgst_amount"`
	IgstAmount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"igst_amount"`
	InvoiceTotalAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"invoice_total_amount"`
	PaidAmount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	PendingAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pending_amount"`
	Notes              string          `gorm:"type:text;default:null" json:"notes"`
	Details            []SaleLine      `gorm:"foreignKey:SalesInvoiceId;constraint:OnDelete:CASCADE" json:"details,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SaleLine is one (invoice, lot) allocation. Service lines carry no batch.
type SaleLine struct {
	ID                int             `gorm:"primary_key" json:"id"`
	SalesInvoiceId    int             `gorm:"index;not null;uniqueIndex:idx_sale_line_invoice_batch,priority:1" json:"sales_invoice_id"`
	ProductId         int             `gorm:"index;not null" json:"product_id"`
	ProductionBatchId *int            `gorm:"index;default:null;uniqueIndex:idx_sale_line_invoice_batch,priority:2" json:"production_batch_id"`
	Quantity          decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	Rate              decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"rate"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"amount"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSalesInvoice struct {
	InvoiceNumber string           `json:"invoice_number" binding:"required,max=255"`
	PartnerId     int              `json:"partner_id" binding:"required"`
	InvoiceDate   time.Time        `json:"invoice_date"`
	IsGst         *bool            `json:"is_gst" binding:"required"`
	PaymentType   PaymentType      `json:"payment_type" binding:"omitempty,oneof=CASH BANK UPI CHEQUE CREDIT"`
	PaymentStatus PaymentStatus    `json:"payment_status" binding:"required,oneof=COMPLETE PENDING PARTIAL"`
	PaidAmount    decimal.Decimal  `json:"paid_amount"`
	CgstRate      *decimal.Decimal `json:"cgst_rate"`
	SgstRate      *decimal.Decimal `json:"sgst_rate"`
	IgstRate      *decimal.Decimal `json:"igst_rate"`
	Notes         string           `json:"notes"`
	Lines         []NewSaleLine    `json:"lines" binding:"required,min=1,dive"`
}

// NewSaleLine asks for one product at one rate, fulfilled from the listed lots.
type NewSaleLine struct {
	ProductId   int             `json:"product_id" binding:"required"`
	Rate        decimal.Decimal `json:"rate"`
	Allocations []NewAllocation `json:"allocations" binding:"dive"`
}

type NewAllocation struct {
	ProductionBatchId *int            `json:"production_batch_id"`
	Quantity          decimal.Decimal `json:"quantity"`
}

// SalesInvoicePatch carries only the fields to change. Nil Lines keeps the current lines.
type SalesInvoicePatch struct {
	InvoiceNumber *string          `json:"invoice_number" binding:"omitempty,max=255"`
	PartnerId     *int             `json:"partner_id"`
	InvoiceDate   *time.Time       `json:"invoice_date"`
	IsGst         *bool            `json:"is_gst"`
	PaymentType   *PaymentType     `json:"payment_type" binding:"omitempty,oneof=CASH BANK UPI CHEQUE CREDIT"`
	PaymentStatus *PaymentStatus   `json:"payment_status" binding:"omitempty,oneof=COMPLETE PENDING PARTIAL"`
	PaidAmount    *decimal.Decimal `json:"paid_amount"`
	CgstRate      *decimal.Decimal `json:"cgst_rate"`
	SgstRate      *decimal.Decimal `json:"sgst_rate"`
	IgstRate      *decimal.Decimal `json:"igst_rate"`
	Notes         *string          `json:"notes"`
	Lines         *[]NewSaleLine   `json:"lines"`
}

func (p SalesInvoicePatch) HasLines() bool {
	return p.Lines != nil
}

type SalesInvoiceFilter struct {
	PartnerId     int           `form:"partner_id"`
	PaymentStatus PaymentStatus `form:"payment_status"`
	InvoiceNumber string        `form:"invoice_number"`
	FromDate      *time.Time    `form:"from_date" time_format:"2006-01-02"`
	ToDate        *time.Time    `form:"to_date" time_format:"2006-01-02"`
	Limit         int           `form:"limit"`
	Offset        int           `form:"offset"`
}

// SaleDetail is the denormalized read model used by list/detail and the ledger export.
type SaleDetail struct {
	SalesInvoice
	PartnerName string           `json:"partner_name"`
	Lines       []SaleLineDetail `json:"lines"`
}

type SaleLineDetail struct {
	SaleLine
	ProductName    string      `json:"product_name"`
	ProductType    ProductType `json:"product_type"`
	Unit           string      `json:"unit"`
	BatchNumber    string      `json:"batch_number"`
	ProductionDate *time.Time  `json:"production_date"`
}
