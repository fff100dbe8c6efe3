package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_ledger/config"
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/sirupsen/logrus"
)

// SaleEventOutbox is the dispatcher's view of the sale_events table.
type SaleEventOutbox interface {
	ClaimSaleEvents(ctx context.Context, claim models.SaleEventClaim) ([]models.SaleEvent, error)
	MarkSaleEventSent(ctx context.Context, id int, messageId string, at time.Time) error
	MarkSaleEventFailed(ctx context.Context, id int, errMsg string, nextAttemptAt *time.Time, dead bool) error
}

// Publisher delivers one event and returns the broker message id.
type Publisher interface {
	Publish(ctx context.Context, msg config.SaleEventMessage) (string, error)
}

type PubSubPublisher struct{}

func (PubSubPublisher) Publish(ctx context.Context, msg config.SaleEventMessage) (string, error) {
	return config.PublishSaleEventWithResult(ctx, msg)
}

type OutboxDispatcher struct {
	Outbox       SaleEventOutbox
	Publisher    Publisher
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration

	now func() time.Time
}

func NewOutboxDispatcher(outbox SaleEventOutbox, publisher Publisher, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		Outbox:         outbox,
		Publisher:      publisher,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
		now:            time.Now,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and publishes it. It returns how many events were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	if d.Outbox == nil || d.Publisher == nil {
		return 0
	}
	now := d.now().UTC()
	claimed, err := d.Outbox.ClaimSaleEvents(ctx, models.SaleEventClaim{
		DispatcherId: d.DispatcherID,
		Limit:        d.BatchSize,
		Now:          now,
		StaleBefore:  now.Add(-d.LockTimeout),
		MaxAttempts:  d.MaxAttempts,
	})
	if err != nil {
		d.logError("DispatchOnce", "claim sale events", err, logrus.Fields{})
		return 0
	}

	sent := 0
	for _, ev := range claimed {
		// rows marked DEAD during the claim are not publishable
		if ev.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		msgId, pubErr := d.Publisher.Publish(ctx, toMessage(ev))
		if pubErr != nil {
			d.markPublishFailed(ctx, ev, pubErr)
			continue
		}
		if err := d.Outbox.MarkSaleEventSent(ctx, ev.ID, msgId, now); err != nil {
			d.logError("DispatchOnce", "mark sale event sent", err, logrus.Fields{"record_id": ev.ID})
			continue
		}
		sent++
	}
	return sent
}

func toMessage(ev models.SaleEvent) config.SaleEventMessage {
	return config.SaleEventMessage{
		ID:            ev.ID,
		InvoiceId:     ev.InvoiceId,
		InvoiceNumber: ev.InvoiceNumber,
		Action:        string(ev.Action),
		OccurredAt:    ev.CreatedAt,
		Payload:       json.RawMessage(ev.Payload),
		CorrelationId: ev.CorrelationId,
	}
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, ev models.SaleEvent, err error) {
	attempt := ev.PublishAttempts
	fields := logrus.Fields{
		"record_id":  ev.ID,
		"invoice_id": ev.InvoiceId,
		"attempt":    attempt,
	}

	// Terminal after MaxAttempts (DLQ equivalent).
	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		if merr := d.Outbox.MarkSaleEventFailed(ctx, ev.ID, err.Error(), nil, true); merr != nil {
			d.logError("markPublishFailed", "mark sale event dead", merr, fields)
		}
		d.logError("markPublishFailed", "outbox publish moved to DEAD after max attempts", err, fields)
		return
	}

	next := d.now().UTC().Add(d.backoff(attempt))
	if merr := d.Outbox.MarkSaleEventFailed(ctx, ev.ID, err.Error(), &next, false); merr != nil {
		d.logError("markPublishFailed", "mark sale event failed", merr, fields)
	}
	fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
	d.logError("markPublishFailed", "outbox publish failed", err, fields)
}

// backoff doubles InitialBackoff per attempt, capped at ten minutes.
func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			return time.Minute * 10
		}
	}
	return backoff
}

func (d *OutboxDispatcher) logError(funcName, context string, err error, fields logrus.Fields) {
	if d.Logger == nil {
		return
	}
	fields["field"] = "OutboxDispatcher"
	fields["funcName"] = funcName
	fields["dispatcher_id"] = d.DispatcherID
	d.Logger.WithFields(fields).Error(context + ": " + fmt.Sprintf("%v", err))
}
