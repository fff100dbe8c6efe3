package models

import "time"

// SaleEvent is the transactional outbox row written with every committed sale mutation.
type SaleEvent struct {
	ID               int             `gorm:"primary_key;index:idx_sale_event_dispatch,priority:3" json:"id"`
	InvoiceId        int             `gorm:"index;not null" json:"invoice_id"`
	InvoiceNumber    string          `gorm:"size:255;not null" json:"invoice_number"`
	Action           SaleEventAction `gorm:"size:20;not null" json:"action"`
	Payload          []byte          `gorm:"not null" json:"payload"`
	CorrelationId    string          `gorm:"size:64;index" json:"correlation_id"`
	PublishStatus    string          `gorm:"size:20;index;not null;default:'PENDING';index:idx_sale_event_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time      `gorm:"index" json:"published_at"`
	PubSubMessageId  *string         `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int             `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time      `gorm:"index;index:idx_sale_event_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time      `gorm:"index" json:"locked_at"`
	LockedBy         *string         `gorm:"size:100" json:"locked_by"`
	LastPublishError *string         `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SaleEventClaim describes one dispatcher claim pass over the outbox.
type SaleEventClaim struct {
	DispatcherId string
	Limit        int
	Now          time.Time
	// rows still PROCESSING with a lock older than this are reclaimed
	StaleBefore time.Time
	MaxAttempts int
}
