package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type BacklogCounts struct {
	Pending    int64
	Failed     int64
	DeadLetter int64
	OldestDue  *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *OutboxEvent) error

	// FetchDue returns up to limit PENDING events whose next_attempt_at has
	// passed, oldest first.
	FetchDue(ctx context.Context, db *gorm.DB, limit int, now time.Time) ([]OutboxEvent, error)

	MarkCompleted(ctx context.Context, db *gorm.DB, eventID snowflake.ID, now time.Time) error

	// Reschedule bumps attempts and pushes next_attempt_at forward.
	Reschedule(ctx context.Context, db *gorm.DB, eventID snowflake.ID, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error

	// MoveToDLQ deletes the event and inserts the dead-letter row in one
	// transaction.
	MoveToDLQ(ctx context.Context, db *gorm.DB, event OutboxEvent, dlqID snowflake.ID, lastError string, now time.Time) error

	Counts(ctx context.Context, db *gorm.DB, now time.Time) (*BacklogCounts, error)
}
