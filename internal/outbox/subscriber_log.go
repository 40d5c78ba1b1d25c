package outbox

import (
	"context"

	outboxdomain "github.com/smallbiznis/repricer/internal/outbox/domain"
	"go.uber.org/zap"
)

// logSubscriber emits every delivered event to the structured log stream.
// It stands in for downstream consumers (webhooks, search indexers) that
// the pipeline does not ship with.
type logSubscriber struct {
	log *zap.Logger
}

func NewLogSubscriber(log *zap.Logger) outboxdomain.Subscriber {
	return &logSubscriber{log: log.Named("outbox.events")}
}

func (s *logSubscriber) Name() string {
	return "event_log"
}

func (s *logSubscriber) EventTypes() []string {
	return []string{
		outboxdomain.EventRuleScheduled,
		outboxdomain.EventPriceChangeApplied,
		outboxdomain.EventRunFinished,
	}
}

func (s *logSubscriber) Handle(ctx context.Context, event outboxdomain.OutboxEvent) error {
	s.log.Info("event delivered",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("aggregate_type", event.AggregateType),
		zap.String("aggregate_id", event.AggregateID),
		zap.String("organization_id", event.OrgID.String()),
	)
	return nil
}
