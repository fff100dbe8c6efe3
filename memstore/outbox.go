package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/utils"
)

// ClaimSaleEvents marks up to claim.Limit publishable events PROCESSING for
// claim.DispatcherId. Events past MaxAttempts go DEAD and are not returned.
func (s *Store) ClaimSaleEvents(ctx context.Context, claim models.SaleEventClaim) ([]models.SaleEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []models.SaleEvent
	for _, id := range utils.SortedIntKeys(s.state.events) {
		if claim.Limit > 0 && len(claimed) >= claim.Limit {
			break
		}
		ev := s.state.events[id]
		if !claimable(ev, claim) {
			continue
		}
		if claim.MaxAttempts > 0 && ev.PublishAttempts >= claim.MaxAttempts {
			msg := fmt.Sprintf("max publish attempts exceeded (%d)", claim.MaxAttempts)
			ev.PublishStatus = models.OutboxPublishStatusDead
			ev.LastPublishError = &msg
			ev.NextAttemptAt = nil
			ev.LockedAt = nil
			ev.LockedBy = nil
			s.state.events[id] = ev
			continue
		}
		now := claim.Now
		by := claim.DispatcherId
		ev.PublishStatus = models.OutboxPublishStatusProcessing
		ev.LockedAt = &now
		ev.LockedBy = &by
		ev.PublishAttempts++
		ev.LastPublishError = nil
		ev.NextAttemptAt = nil
		s.state.events[id] = ev
		claimed = append(claimed, ev)
	}
	return claimed, nil
}

func claimable(ev models.SaleEvent, claim models.SaleEventClaim) bool {
	switch ev.PublishStatus {
	case models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed:
		return ev.NextAttemptAt == nil || !ev.NextAttemptAt.After(claim.Now)
	case models.OutboxPublishStatusProcessing:
		return ev.LockedAt != nil && !ev.LockedAt.After(claim.StaleBefore)
	}
	return false
}

func (s *Store) MarkSaleEventSent(ctx context.Context, id int, messageId string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.state.events[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	ev.PublishStatus = models.OutboxPublishStatusSent
	ev.PublishedAt = &at
	ev.PubSubMessageId = &messageId
	ev.LockedAt = nil
	ev.LockedBy = nil
	ev.NextAttemptAt = nil
	s.state.events[id] = ev
	return nil
}

func (s *Store) MarkSaleEventFailed(ctx context.Context, id int, errMsg string, nextAttemptAt *time.Time, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.state.events[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	ev.PublishStatus = models.OutboxPublishStatusFailed
	if dead {
		ev.PublishStatus = models.OutboxPublishStatusDead
		nextAttemptAt = nil
	}
	ev.LastPublishError = &errMsg
	ev.NextAttemptAt = nextAttemptAt
	ev.LockedAt = nil
	ev.LockedBy = nil
	s.state.events[id] = ev
	return nil
}

// ReplaySaleEvent makes a FAILED or DEAD event claimable again with a fresh attempt budget.
func (s *Store) ReplaySaleEvent(ctx context.Context, id int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.state.events[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	if ev.PublishStatus != models.OutboxPublishStatusFailed && ev.PublishStatus != models.OutboxPublishStatusDead {
		return utils.ErrorStateConflict
	}
	ev.PublishStatus = models.OutboxPublishStatusFailed
	ev.PublishAttempts = 0
	ev.NextAttemptAt = &at
	ev.LockedAt = nil
	ev.LockedBy = nil
	ev.LastPublishError = nil
	s.state.events[id] = ev
	return nil
}
