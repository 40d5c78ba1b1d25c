package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	outboxdomain "github.com/smallbiznis/repricer/internal/outbox/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() outboxdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *outboxdomain.OutboxEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) FetchDue(ctx context.Context, db *gorm.DB, limit int, now time.Time) ([]outboxdomain.OutboxEvent, error) {
	var events []outboxdomain.OutboxEvent
	err := db.WithContext(ctx).Raw(
		`SELECT *
		 FROM outbox_events
		 WHERE status = ?
		   AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		outboxdomain.EventPending,
		now,
		limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, eventID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET status = ?, last_error = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		outboxdomain.EventCompleted,
		now,
		eventID,
		outboxdomain.EventPending,
	).Error
}

func (r *repo) Reschedule(ctx context.Context, db *gorm.DB, eventID snowflake.ID, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		attempts,
		nextAttemptAt,
		lastError,
		now,
		eventID,
		outboxdomain.EventPending,
	).Error
}

func (r *repo) MoveToDLQ(ctx context.Context, db *gorm.DB, event outboxdomain.OutboxEvent, dlqID snowflake.ID, lastError string, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`DELETE FROM outbox_events WHERE id = ? AND status = ?`,
			event.ID,
			outboxdomain.EventPending,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another dispatcher already resolved the event.
			return nil
		}
		return tx.Create(&outboxdomain.OutboxDLQ{
			ID:            dlqID,
			EventID:       event.ID,
			OrgID:         event.OrgID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			Attempts:      event.Attempts,
			LastError:     lastError,
			FailedAt:      now,
			CreatedAt:     now,
		}).Error
	})
}

func (r *repo) Counts(ctx context.Context, db *gorm.DB, now time.Time) (*outboxdomain.BacklogCounts, error) {
	counts := &outboxdomain.BacklogCounts{}

	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM outbox_events WHERE status = ?`,
		outboxdomain.EventPending,
	).Scan(&counts.Pending).Error
	if err != nil {
		return nil, err
	}

	// "Failed" means pending events that have already missed at least one
	// delivery attempt.
	err = db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM outbox_events WHERE status = ? AND attempts > 0`,
		outboxdomain.EventPending,
	).Scan(&counts.Failed).Error
	if err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM outbox_dlq`,
	).Scan(&counts.DeadLetter).Error
	if err != nil {
		return nil, err
	}

	var oldest []time.Time
	err = db.WithContext(ctx).Raw(
		`SELECT created_at
		 FROM outbox_events
		 WHERE status = ?
		 ORDER BY created_at ASC
		 LIMIT 1`,
		outboxdomain.EventPending,
	).Scan(&oldest).Error
	if err != nil {
		return nil, err
	}
	if len(oldest) > 0 {
		counts.OldestDue = &oldest[0]
	}
	return counts, nil
}
