package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventStatus string

const (
	EventPending   EventStatus = "PENDING"
	EventCompleted EventStatus = "COMPLETED"
)

// Well-known event types emitted by the pipeline.
const (
	EventRuleScheduled      = "rule.scheduled.queued"
	EventPriceChangeApplied = "price.change.applied"
	EventRunFinished        = "run.finished"
)

// OutboxEvent is written in the same transaction as the state change it
// announces and delivered asynchronously by the dispatcher.
type OutboxEvent struct {
	ID            snowflake.ID   `gorm:"column:id;primaryKey"`
	OrgID         snowflake.ID   `gorm:"column:organization_id"`
	EventType     string         `gorm:"column:event_type"`
	AggregateType string         `gorm:"column:aggregate_type"`
	AggregateID   string         `gorm:"column:aggregate_id"`
	Payload       datatypes.JSON `gorm:"column:payload"`
	Status        EventStatus    `gorm:"column:status"`
	Attempts      int            `gorm:"column:attempts"`
	NextAttemptAt time.Time      `gorm:"column:next_attempt_at"`
	LastError     string         `gorm:"column:last_error"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// OutboxDLQ captures events that exhausted their retry budget.
type OutboxDLQ struct {
	ID            snowflake.ID   `gorm:"column:id;primaryKey"`
	EventID       snowflake.ID   `gorm:"column:event_id"`
	OrgID         snowflake.ID   `gorm:"column:organization_id"`
	EventType     string         `gorm:"column:event_type"`
	AggregateType string         `gorm:"column:aggregate_type"`
	AggregateID   string         `gorm:"column:aggregate_id"`
	Payload       datatypes.JSON `gorm:"column:payload"`
	Attempts      int            `gorm:"column:attempts"`
	LastError     string         `gorm:"column:last_error"`
	FailedAt      time.Time      `gorm:"column:failed_at"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
}

func (OutboxDLQ) TableName() string {
	return "outbox_dlq"
}
