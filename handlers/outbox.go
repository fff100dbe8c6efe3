package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/utils"
)

type SaleEventReplayer interface {
	ReplaySaleEvent(ctx context.Context, id int, at time.Time) error
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id" binding:"required"`
}

// OutboxReplayHandler re-queues a DEAD or FAILED sale event. Requires a session.
func OutboxReplayHandler(replayer SaleEventReplayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}

		now := time.Now().UTC()
		if err := replayer.ReplaySaleEvent(c.Request.Context(), req.RecordId, now); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "sale event not found"})
				return
			}
			if errors.Is(err, utils.ErrorStateConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "only FAILED or DEAD sale events can be replayed"})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"record_id":       req.RecordId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}
