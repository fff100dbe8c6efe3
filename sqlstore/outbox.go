package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimSaleEvents locks publishable rows with SKIP LOCKED so concurrent
// dispatchers never claim the same event.
func (s *Store) ClaimSaleEvents(ctx context.Context, claim models.SaleEventClaim) ([]models.SaleEvent, error) {
	var claimed []models.SaleEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING with a stale lock (dispatcher died mid-batch)
		var rows []models.SaleEvent
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, claim.Now,
				models.OutboxPublishStatusProcessing, claim.StaleBefore).
			Order("id ASC").
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if claim.Limit > 0 {
			q = q.Limit(claim.Limit)
		}
		if err := q.Find(&rows).Error; err != nil {
			return err
		}

		for i := range rows {
			if claim.MaxAttempts > 0 && rows[i].PublishAttempts >= claim.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", claim.MaxAttempts)
				if err := tx.Model(&models.SaleEvent{}).Where("id = ?", rows[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}
			now := claim.Now
			by := claim.DispatcherId
			if err := tx.Model(&models.SaleEvent{}).Where("id = ?", rows[i].ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &by,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
			rows[i].PublishStatus = models.OutboxPublishStatusProcessing
			rows[i].LockedAt = &now
			rows[i].LockedBy = &by
			rows[i].PublishAttempts++
			rows[i].LastPublishError = nil
			rows[i].NextAttemptAt = nil
			claimed = append(claimed, rows[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) MarkSaleEventSent(ctx context.Context, id int, messageId string, at time.Time) error {
	return s.updateSaleEvent(ctx, id, map[string]interface{}{
		"publish_status":     models.OutboxPublishStatusSent,
		"published_at":       &at,
		"pub_sub_message_id": &messageId,
		"locked_at":          nil,
		"locked_by":          nil,
		"next_attempt_at":    nil,
	})
}

func (s *Store) MarkSaleEventFailed(ctx context.Context, id int, errMsg string, nextAttemptAt *time.Time, dead bool) error {
	status := models.OutboxPublishStatusFailed
	if dead {
		status = models.OutboxPublishStatusDead
		nextAttemptAt = nil
	}
	return s.updateSaleEvent(ctx, id, map[string]interface{}{
		"publish_status":     status,
		"last_publish_error": &errMsg,
		"next_attempt_at":    nextAttemptAt,
		"locked_at":          nil,
		"locked_by":          nil,
	})
}

func (s *Store) updateSaleEvent(ctx context.Context, id int, values map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.SaleEvent{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// replayableStatuses are the outbox states an operator may re-queue.
var replayableStatuses = []string{models.OutboxPublishStatusFailed, models.OutboxPublishStatusDead}

// ReplaySaleEvent makes a FAILED or DEAD event claimable again with a fresh attempt budget.
// Events in any other status are left untouched and reported as utils.ErrorStateConflict.
func (s *Store) ReplaySaleEvent(ctx context.Context, id int, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.SaleEvent{}).
		Where("id = ? AND publish_status IN ?", id, replayableStatuses).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"publish_attempts":   0,
			"next_attempt_at":    &at,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SaleEvent{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return utils.ErrorRecordNotFound
	}
	return utils.ErrorStateConflict
}
