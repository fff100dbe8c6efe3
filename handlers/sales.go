package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/models/reports"
	"github.com/mmdatafocus/sales_ledger/sales"
	"github.com/sirupsen/logrus"
)

type SalesHandler struct {
	svc    *sales.Service
	logger *logrus.Logger
}

func NewSalesHandler(svc *sales.Service, logger *logrus.Logger) *SalesHandler {
	return &SalesHandler{svc: svc, logger: logger}
}

func (h *SalesHandler) Register(r gin.IRoutes) {
	r.POST("/sales", h.createSale)
	r.GET("/sales", h.listSales)
	r.GET("/sales/export", h.exportSales)
	r.GET("/sales/:id", h.getSale)
	r.PATCH("/sales/:id", h.updateSale)
	r.PUT("/sales/:id", h.replaceSale)
	r.DELETE("/sales/:id", h.deleteSale)

	r.GET("/production-batches", h.listProductionBatches)
	r.POST("/production-batches", h.recordProduction)
	r.GET("/production-batches/audit", h.auditStock)
}

func invoiceId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid sales invoice id",
			"code":    sales.KindInvalidInvoice,
			"details": gin.H{"field": "id"},
		})
		return 0, false
	}
	return id, true
}

// bindSalesFilter reads the list query; payment_status is case-insensitive.
func bindSalesFilter(c *gin.Context) (models.SalesInvoiceFilter, bool) {
	var filter models.SalesInvoiceFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondBindError(c, sales.KindInvalidInvoice, err)
		return filter, false
	}
	if filter.PaymentStatus != "" {
		status, err := models.ParsePaymentStatus(string(filter.PaymentStatus))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   err.Error(),
				"code":    sales.KindInvalidInvoice,
				"details": gin.H{"field": "payment_status"},
			})
			return filter, false
		}
		filter.PaymentStatus = status
	}
	return filter, true
}

func (h *SalesHandler) createSale(c *gin.Context) {
	var input models.NewSalesInvoice
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, sales.KindInvalidInvoice, err)
		return
	}
	detail, err := h.svc.CreateSale(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

func (h *SalesHandler) getSale(c *gin.Context) {
	id, ok := invoiceId(c)
	if !ok {
		return
	}
	detail, err := h.svc.GetSale(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *SalesHandler) listSales(c *gin.Context) {
	filter, ok := bindSalesFilter(c)
	if !ok {
		return
	}
	details, err := h.svc.ListSales(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": details, "count": len(details)})
}

func (h *SalesHandler) updateSale(c *gin.Context) {
	id, ok := invoiceId(c)
	if !ok {
		return
	}
	var patch models.SalesInvoicePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBindError(c, sales.KindInvalidInvoice, err)
		return
	}
	detail, err := h.svc.UpdateSale(c.Request.Context(), id, &patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *SalesHandler) replaceSale(c *gin.Context) {
	id, ok := invoiceId(c)
	if !ok {
		return
	}
	var input models.NewSalesInvoice
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, sales.KindInvalidInvoice, err)
		return
	}
	detail, err := h.svc.ReplaceSale(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *SalesHandler) deleteSale(c *gin.Context) {
	id, ok := invoiceId(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteSale(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SalesHandler) exportSales(c *gin.Context) {
	filter, ok := bindSalesFilter(c)
	if !ok {
		return
	}
	details, err := h.svc.ListSales(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	filename := fmt.Sprintf("sales-ledger-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Type", reports.ExcelContentType)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Status(http.StatusOK)
	if err := reports.WriteSalesLedger(c.Writer, details); err != nil {
		_ = c.Error(err)
	}
}

func (h *SalesHandler) recordProduction(c *gin.Context) {
	var input models.NewProductionBatch
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, sales.KindInvalidBatch, err)
		return
	}
	lot, err := h.svc.RecordProduction(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

func (h *SalesHandler) listProductionBatches(c *gin.Context) {
	var filter models.ProductionBatchFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondBindError(c, sales.KindInvalidBatch, err)
		return
	}
	lots, err := h.svc.ListProductionBatches(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"production_batches": lots, "count": len(lots)})
}

func (h *SalesHandler) auditStock(c *gin.Context) {
	discrepancies, err := h.svc.AuditStock(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discrepancies": discrepancies, "ok": len(discrepancies) == 0})
}
