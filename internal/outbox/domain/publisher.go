package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Event is what callers hand to the publisher. The payload is marshalled to
// JSON at publish time.
type Event struct {
	OrgID         snowflake.ID
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       any
}

// Publisher records events transactionally. Publish must be called with the
// transaction that carries the state change; if that transaction rolls back,
// the event is gone with it.
type Publisher interface {
	Publish(ctx context.Context, tx *gorm.DB, event Event) error
}

// Subscriber consumes delivered events. EventTypes filters which types this
// subscriber receives; an error re-queues the event for retry.
type Subscriber interface {
	Name() string
	EventTypes() []string
	Handle(ctx context.Context, event OutboxEvent) error
}

// Health is the dispatcher backlog snapshot served by the health endpoint.
type Health struct {
	Pending    int64         `json:"pending"`
	Failed     int64         `json:"failed"`
	DeadLetter int64         `json:"dead_letter"`
	BacklogAge time.Duration `json:"backlog_age"`
	Healthy    bool          `json:"healthy"`
}

var (
	ErrInvalidEvent = errors.New("invalid_event")
	ErrNilTx        = errors.New("nil_transaction")
)
