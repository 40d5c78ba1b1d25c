package outbox

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repricer/internal/clock"
	outboxdomain "github.com/smallbiznis/repricer/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PublisherParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  outboxdomain.Repository
}

type publisher struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  outboxdomain.Repository
}

func NewPublisher(p PublisherParams) outboxdomain.Publisher {
	return &publisher{
		log:   p.Log.Named("outbox.publisher"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (p *publisher) Publish(ctx context.Context, tx *gorm.DB, event outboxdomain.Event) error {
	if tx == nil {
		return outboxdomain.ErrNilTx
	}
	if strings.TrimSpace(event.EventType) == "" || strings.TrimSpace(event.AggregateID) == "" {
		return outboxdomain.ErrInvalidEvent
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	return p.repo.Insert(ctx, tx, &outboxdomain.OutboxEvent{
		ID:            p.genID.Generate(),
		OrgID:         event.OrgID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       datatypes.JSON(payload),
		Status:        outboxdomain.EventPending,
		Attempts:      0,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}
