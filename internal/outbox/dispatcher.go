package outbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repricer/internal/clock"
	"github.com/smallbiznis/repricer/internal/metrics"
	outboxdomain "github.com/smallbiznis/repricer/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_dispatcher_config")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        outboxdomain.Repository
	Subscribers []outboxdomain.Subscriber `group:"outbox.subscribers"`
	Config      Config                    `optional:"true"`
}

// Dispatcher delivers pending outbox events to subscribers, retrying with
// exponential backoff and dead-lettering events that exhaust their budget.
type Dispatcher struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	repo        outboxdomain.Repository
	subscribers map[string][]outboxdomain.Subscriber
}

func NewDispatcher(p Params) (*Dispatcher, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil {
		return nil, ErrInvalidConfig
	}

	subscribers := map[string][]outboxdomain.Subscriber{}
	for _, sub := range p.Subscribers {
		if sub == nil {
			continue
		}
		for _, eventType := range sub.EventTypes() {
			subscribers[eventType] = append(subscribers[eventType], sub)
		}
	}

	return &Dispatcher{
		db:          p.DB,
		log:         p.Log.Named("outbox.dispatcher").With(zap.String("component", "outbox")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		subscribers: subscribers,
	}, nil
}

// Backoff computes the delay before the next attempt given the number of
// attempts already made: initial*multiplier^attempts, capped at MaxDelay.
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := float64(d.cfg.InitialDelay) * math.Pow(d.cfg.BackoffMultiplier, float64(attempts))
	if delay > float64(d.cfg.MaxDelay) {
		return d.cfg.MaxDelay
	}
	return time.Duration(delay)
}

func (d *Dispatcher) RunOnce(ctx context.Context) error {
	start := d.clock.Now()
	pipeMetrics := metrics.Pipeline()
	pipeMetrics.IncJobRun("outbox_dispatch")
	defer func() {
		pipeMetrics.ObserveJobDuration("outbox_dispatch", time.Since(start))
	}()

	var events []outboxdomain.OutboxEvent
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		events, err = d.repo.FetchDue(ctx, tx, d.cfg.BatchSize, d.clock.Now())
		return err
	})
	if err != nil {
		pipeMetrics.IncJobError("outbox_dispatch")
		return fmt.Errorf("fetch due events: %w", err)
	}

	var dispatchErr error
	for i := range events {
		if ctx.Err() != nil {
			break
		}
		if err := d.dispatch(ctx, events[i]); err != nil {
			dispatchErr = errors.Join(dispatchErr, err)
		}
	}

	d.observeBacklog(ctx)

	if dispatchErr != nil {
		pipeMetrics.IncJobError("outbox_dispatch")
	}
	return dispatchErr
}

func (d *Dispatcher) dispatch(ctx context.Context, event outboxdomain.OutboxEvent) error {
	log := d.log.With(
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.Int("attempts", event.Attempts),
	)
	pipeMetrics := metrics.Pipeline()

	var handleErr error
	for _, sub := range d.subscribers[event.EventType] {
		if err := sub.Handle(ctx, event); err != nil {
			handleErr = errors.Join(handleErr, fmt.Errorf("%s: %w", sub.Name(), err))
		}
	}

	now := d.clock.Now()
	if handleErr == nil {
		if err := d.repo.MarkCompleted(ctx, d.db, event.ID, now); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		pipeMetrics.IncOutboxDispatch(metrics.DispatchOutcomeCompleted)
		return nil
	}

	attempts := event.Attempts + 1
	if attempts >= d.cfg.MaxRetries {
		event.Attempts = attempts
		if err := d.repo.MoveToDLQ(ctx, d.db, event, d.genID.Generate(), handleErr.Error(), now); err != nil {
			return fmt.Errorf("move to dlq: %w", err)
		}
		pipeMetrics.IncOutboxDispatch(metrics.DispatchOutcomeDeadLettered)
		log.Error("event dead-lettered", zap.Error(handleErr))
		return nil
	}

	nextAttemptAt := now.Add(d.Backoff(event.Attempts))
	if err := d.repo.Reschedule(ctx, d.db, event.ID, attempts, nextAttemptAt, handleErr.Error(), now); err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	pipeMetrics.IncOutboxDispatch(metrics.DispatchOutcomeRetried)
	log.Warn("event delivery failed, rescheduled",
		zap.Time("next_attempt_at", nextAttemptAt),
		zap.Error(handleErr),
	)
	return nil
}

func (d *Dispatcher) observeBacklog(ctx context.Context) {
	counts, err := d.repo.Counts(ctx, d.db, d.clock.Now())
	if err != nil {
		d.log.Warn("backlog counts failed", zap.Error(err))
		return
	}
	age := time.Duration(0)
	if counts.OldestDue != nil {
		age = d.clock.Now().Sub(*counts.OldestDue)
	}
	metrics.Pipeline().SetOutboxBacklogAge(age)
}

// Health reports delivery backlog state for the health endpoint.
func (d *Dispatcher) Health(ctx context.Context) (*outboxdomain.Health, error) {
	counts, err := d.repo.Counts(ctx, d.db, d.clock.Now())
	if err != nil {
		return nil, err
	}
	age := time.Duration(0)
	if counts.OldestDue != nil {
		age = d.clock.Now().Sub(*counts.OldestDue)
	}
	return &outboxdomain.Health{
		Pending:    counts.Pending,
		Failed:     counts.Failed,
		DeadLetter: counts.DeadLetter,
		BacklogAge: age,
		Healthy:    counts.Failed < d.cfg.FailedThreshold && counts.DeadLetter < d.cfg.DLQThreshold,
	}, nil
}

func (d *Dispatcher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := d.RunOnce(ctx); err != nil {
			d.log.Warn("outbox dispatch failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
