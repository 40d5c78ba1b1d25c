package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/repricer/internal/clock"
	"github.com/smallbiznis/repricer/internal/metrics"
	"github.com/smallbiznis/repricer/internal/migration"
	outboxdomain "github.com/smallbiznis/repricer/internal/outbox/domain"
	"github.com/smallbiznis/repricer/internal/outbox/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: remove FOR UPDATE clauses
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", strip)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", strip)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, migration.AutoMigrate(db))
	return db
}

type fakeSubscriber struct {
	name       string
	eventTypes []string
	err        error
	received   []outboxdomain.OutboxEvent
}

func (s *fakeSubscriber) Name() string {
	return s.name
}

func (s *fakeSubscriber) EventTypes() []string {
	return s.eventTypes
}

func (s *fakeSubscriber) Handle(ctx context.Context, event outboxdomain.OutboxEvent) error {
	s.received = append(s.received, event)
	return s.err
}

type dispatcherFixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	fakeClock  *clock.FakeClock
	publisher  outboxdomain.Publisher
	dispatcher *Dispatcher
	subscriber *fakeSubscriber
}

func newDispatcherFixture(t *testing.T, cfg Config, sub *fakeSubscriber) *dispatcherFixture {
	t.Helper()

	metrics.SetPipelineForTest(prometheus.NewRegistry())

	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	repo := repository.Provide()

	publisher := NewPublisher(PublisherParams{
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  repo,
	})

	dispatcher, err := NewDispatcher(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        repo,
		Subscribers: []outboxdomain.Subscriber{sub},
		Config:      cfg,
	})
	require.NoError(t, err)

	return &dispatcherFixture{
		db:         db,
		node:       node,
		fakeClock:  fakeClock,
		publisher:  publisher,
		dispatcher: dispatcher,
		subscriber: sub,
	}
}

func (f *dispatcherFixture) publish(t *testing.T, eventType string) {
	t.Helper()
	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.publisher.Publish(context.Background(), tx, outboxdomain.Event{
			OrgID:         f.node.Generate(),
			EventType:     eventType,
			AggregateType: "rule_run",
			AggregateID:   f.node.Generate().String(),
			Payload:       map[string]any{"run_id": "1"},
		})
	})
	require.NoError(t, err)
}

func TestPublish_RollbackLeavesNoEvent(t *testing.T) {
	f := newDispatcherFixture(t, Config{}, &fakeSubscriber{name: "noop"})

	rollback := errors.New("state change failed")
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := f.publisher.Publish(context.Background(), tx, outboxdomain.Event{
			OrgID:         f.node.Generate(),
			EventType:     outboxdomain.EventRunFinished,
			AggregateType: "rule_run",
			AggregateID:   "42",
		}); err != nil {
			return err
		}
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	var count int64
	require.NoError(t, f.db.Model(&outboxdomain.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count, "rolled-back transaction must not leave an outbox row")
}

func TestPublish_RequiresTransactionAndEventType(t *testing.T) {
	f := newDispatcherFixture(t, Config{}, &fakeSubscriber{name: "noop"})

	err := f.publisher.Publish(context.Background(), nil, outboxdomain.Event{
		EventType:   outboxdomain.EventRunFinished,
		AggregateID: "42",
	})
	assert.ErrorIs(t, err, outboxdomain.ErrNilTx)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		return f.publisher.Publish(context.Background(), tx, outboxdomain.Event{AggregateID: "42"})
	})
	assert.ErrorIs(t, err, outboxdomain.ErrInvalidEvent)
}

func TestDispatch_CompletesEventAndDeliversPayload(t *testing.T) {
	sub := &fakeSubscriber{name: "audit", eventTypes: []string{outboxdomain.EventRunFinished}}
	f := newDispatcherFixture(t, Config{}, sub)

	f.publish(t, outboxdomain.EventRunFinished)
	require.NoError(t, f.dispatcher.RunOnce(context.Background()))

	require.Len(t, sub.received, 1)
	assert.Equal(t, outboxdomain.EventRunFinished, sub.received[0].EventType)

	var event outboxdomain.OutboxEvent
	require.NoError(t, f.db.First(&event).Error)
	assert.Equal(t, outboxdomain.EventCompleted, event.Status)
}

func TestDispatch_UnsubscribedEventStillCompletes(t *testing.T) {
	sub := &fakeSubscriber{name: "audit", eventTypes: []string{outboxdomain.EventRunFinished}}
	f := newDispatcherFixture(t, Config{}, sub)

	f.publish(t, outboxdomain.EventPriceChangeApplied)
	require.NoError(t, f.dispatcher.RunOnce(context.Background()))

	assert.Empty(t, sub.received)

	var event outboxdomain.OutboxEvent
	require.NoError(t, f.db.First(&event).Error)
	assert.Equal(t, outboxdomain.EventCompleted, event.Status)
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	f := newDispatcherFixture(t, Config{}, &fakeSubscriber{name: "noop"})

	assert.Equal(t, time.Second, f.dispatcher.Backoff(0))
	assert.Equal(t, 2*time.Second, f.dispatcher.Backoff(1))
	assert.Equal(t, 4*time.Second, f.dispatcher.Backoff(2))
	assert.Equal(t, 32*time.Second, f.dispatcher.Backoff(5))
	assert.Equal(t, time.Minute, f.dispatcher.Backoff(6))
	assert.Equal(t, time.Minute, f.dispatcher.Backoff(20))
}

func TestDispatch_FailureReschedulesWithBackoff(t *testing.T) {
	sub := &fakeSubscriber{
		name:       "flaky",
		eventTypes: []string{outboxdomain.EventRunFinished},
		err:        errors.New("downstream unavailable"),
	}
	f := newDispatcherFixture(t, Config{}, sub)

	f.publish(t, outboxdomain.EventRunFinished)
	require.NoError(t, f.dispatcher.RunOnce(context.Background()))

	var event outboxdomain.OutboxEvent
	require.NoError(t, f.db.First(&event).Error)
	assert.Equal(t, outboxdomain.EventPending, event.Status)
	assert.Equal(t, 1, event.Attempts)
	assert.Contains(t, event.LastError, "downstream unavailable")
	assert.Equal(t,
		f.fakeClock.Now().Add(time.Second).Unix(),
		event.NextAttemptAt.Unix(),
		"first retry is one initial delay out",
	)

	// Not due yet: the next pass must not touch it.
	require.NoError(t, f.dispatcher.RunOnce(context.Background()))
	require.NoError(t, f.db.First(&event).Error)
	assert.Equal(t, 1, event.Attempts)

	// Past the backoff it is retried and backed off twice as far.
	f.fakeClock.Advance(2 * time.Second)
	require.NoError(t, f.dispatcher.RunOnce(context.Background()))
	require.NoError(t, f.db.First(&event).Error)
	assert.Equal(t, 2, event.Attempts)
	assert.Equal(t,
		f.fakeClock.Now().Add(2*time.Second).Unix(),
		event.NextAttemptAt.Unix(),
	)
}

func TestDispatch_DeadLettersStrictlyAfterMaxRetries(t *testing.T) {
	sub := &fakeSubscriber{
		name:       "broken",
		eventTypes: []string{outboxdomain.EventRunFinished},
		err:        errors.New("permanent failure"),
	}
	f := newDispatcherFixture(t, Config{MaxRetries: 3}, sub)

	f.publish(t, outboxdomain.EventRunFinished)

	// Attempts one and two reschedule.
	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, f.dispatcher.RunOnce(context.Background()))
		var event outboxdomain.OutboxEvent
		require.NoError(t, f.db.First(&event).Error)
		assert.Equal(t, outboxdomain.EventPending, event.Status, "attempt %d must reschedule, not dead-letter", attempt)
		assert.Equal(t, attempt, event.Attempts)
		f.fakeClock.Advance(time.Minute)
	}

	// The third delivery attempt exhausts the budget.
	require.NoError(t, f.dispatcher.RunOnce(context.Background()))

	var remaining int64
	require.NoError(t, f.db.Model(&outboxdomain.OutboxEvent{}).Count(&remaining).Error)
	assert.Zero(t, remaining, "dead-lettered event leaves outbox_events")

	var dlq outboxdomain.OutboxDLQ
	require.NoError(t, f.db.First(&dlq).Error)
	assert.Equal(t, 3, dlq.Attempts)
	assert.Contains(t, dlq.LastError, "permanent failure")
	assert.Equal(t, outboxdomain.EventRunFinished, dlq.EventType)

	assert.Len(t, sub.received, 3, "exactly maxRetries delivery attempts")
}

func TestHealth_Thresholds(t *testing.T) {
	sub := &fakeSubscriber{
		name:       "broken",
		eventTypes: []string{outboxdomain.EventRunFinished},
		err:        errors.New("boom"),
	}
	f := newDispatcherFixture(t, Config{MaxRetries: 2, FailedThreshold: 1, DLQThreshold: 1}, sub)

	health, err := f.dispatcher.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy)

	f.publish(t, outboxdomain.EventRunFinished)
	require.NoError(t, f.dispatcher.RunOnce(context.Background()))

	// One pending event with a failed attempt trips the failed threshold.
	health, err = f.dispatcher.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), health.Failed)
	assert.False(t, health.Healthy)

	f.fakeClock.Advance(time.Minute)
	require.NoError(t, f.dispatcher.RunOnce(context.Background()))

	health, err = f.dispatcher.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), health.DeadLetter)
	assert.False(t, health.Healthy)
}
