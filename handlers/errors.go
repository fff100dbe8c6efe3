package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sales_ledger/sales"
	"github.com/mmdatafocus/sales_ledger/utils"
)

var statusByKind = map[sales.ErrorKind]int{
	sales.KindNotFound:               http.StatusNotFound,
	sales.KindDuplicateInvoiceNumber: http.StatusConflict,
	sales.KindInsufficientStock:      http.StatusUnprocessableEntity,
	sales.KindInvalidLine:            http.StatusBadRequest,
	sales.KindInvalidInvoice:         http.StatusBadRequest,
	sales.KindInvalidBatch:           http.StatusBadRequest,
	sales.KindStorageFailure:         http.StatusInternalServerError,
}

// respondError writes {error, code, details}. Storage causes are not exposed.
func respondError(c *gin.Context, err error) {
	var se *sales.SaleError
	if !errors.As(err, &se) {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": sales.KindStorageFailure})
		return
	}
	status, ok := statusByKind[se.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := se.Message
	if se.Kind == sales.KindStorageFailure {
		_ = c.Error(err)
		msg = "storage failure"
	}
	c.JSON(status, gin.H{
		"error":   msg,
		"code":    se.Kind,
		"details": se.Details(),
	})
}

// respondBindError reports a request body or query that failed to bind.
func respondBindError(c *gin.Context, code sales.ErrorKind, err error) {
	field, tag := utils.FirstValidationError(err)
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid request",
		"code":    code,
		"details": gin.H{"field": field, "rule": tag, "fields": utils.ProcessValidationErrors(err)},
	})
}
