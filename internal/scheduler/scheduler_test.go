package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	auditdomain "github.com/smallbiznis/repricer/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/repricer/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/repricer/internal/catalog/repository"
	"github.com/smallbiznis/repricer/internal/clock"
	"github.com/smallbiznis/repricer/internal/metrics"
	"github.com/smallbiznis/repricer/internal/migration"
	"github.com/smallbiznis/repricer/internal/outbox"
	outboxdomain "github.com/smallbiznis/repricer/internal/outbox/domain"
	outboxrepository "github.com/smallbiznis/repricer/internal/outbox/repository"
	ruledomain "github.com/smallbiznis/repricer/internal/rule/domain"
	rundomain "github.com/smallbiznis/repricer/internal/run/domain"
	runrepository "github.com/smallbiznis/repricer/internal/run/repository"
	"github.com/smallbiznis/repricer/internal/selector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type mockAuditSvc struct {
	actions []string
	failTx  error
}

func (m *mockAuditSvc) AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	m.actions = append(m.actions, action)
	return nil
}

func (m *mockAuditSvc) AuditLogTx(ctx context.Context, tx *gorm.DB, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	if m.failTx != nil {
		return m.failTx
	}
	m.actions = append(m.actions, action)
	return nil
}

func (m *mockAuditSvc) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

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

type schedulerFixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	fakeClock *clock.FakeClock
	scheduler *Scheduler
	audit     *mockAuditSvc
	orgID     snowflake.ID
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	metrics.SetPipelineForTest(prometheus.NewRegistry())

	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC))

	engine := selector.NewEngine(selector.Params{
		DB:          db,
		Log:         zap.NewNop(),
		CatalogRepo: catalogrepository.Provide(),
	})

	audit := &mockAuditSvc{}
	publisher := outbox.NewPublisher(outbox.PublisherParams{
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  outboxrepository.Provide(),
	})

	sched, err := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fakeClock,
		Selector:  engine,
		AuditSvc:  audit,
		Publisher: publisher,
		RunRepo:   runrepository.Provide(),
		Config:    Config{BatchSize: 10},
	})
	require.NoError(t, err)

	return &schedulerFixture{
		db:        db,
		node:      node,
		fakeClock: fakeClock,
		scheduler: sched,
		audit:     audit,
		orgID:     node.Generate(),
	}
}

func (f *schedulerFixture) seedVariant(t *testing.T, sku string, tags []string, amount int64) {
	t.Helper()

	now := f.fakeClock.Now()
	rawTags, err := json.Marshal(tags)
	require.NoError(t, err)

	product := catalogdomain.Product{
		ID:        f.node.Generate(),
		OrgID:     f.orgID,
		Title:     "Product " + sku,
		Vendor:    "Acme",
		Tags:      datatypes.JSON(rawTags),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(&product).Error)

	ref := "ext-" + sku
	variant := catalogdomain.Variant{
		ID:          f.node.Generate(),
		OrgID:       f.orgID,
		ProductID:   product.ID,
		SKU:         sku,
		ExternalRef: &ref,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.db.Create(&variant).Error)

	price := catalogdomain.Price{
		ID:        f.node.Generate(),
		OrgID:     f.orgID,
		VariantID: variant.ID,
		Amount:    amount,
		Currency:  "USD",
		ValidFrom: now,
	}
	require.NoError(t, f.db.Create(&price).Error)
}

func (f *schedulerFixture) seedRule(t *testing.T, sel, tr string, scheduleAt time.Time) ruledomain.PricingRule {
	t.Helper()

	now := f.fakeClock.Now()
	rule := ruledomain.PricingRule{
		ID:         f.node.Generate(),
		OrgID:      f.orgID,
		Name:       "test rule",
		Selector:   datatypes.JSON(sel),
		Transform:  datatypes.JSON(tr),
		Enabled:    true,
		ScheduleAt: &scheduleAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.db.Create(&rule).Error)
	return rule
}

func TestScheduleDueRules_CreatesRunAndClearsSchedule(t *testing.T) {
	f := newSchedulerFixture(t)
	f.seedVariant(t, "SKU-1", []string{"sale"}, 1000)
	rule := f.seedRule(t, `{"kind":"all"}`, `{"kind":"percentage","value":10}`, f.fakeClock.Now())

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	var runs []rundomain.RuleRun
	require.NoError(t, f.db.Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, rundomain.RunQueued, runs[0].Status)
	assert.Equal(t, rule.ID, runs[0].RuleID)

	var targets []rundomain.RuleTarget
	require.NoError(t, f.db.Find(&targets).Error)
	require.Len(t, targets, 1)
	assert.Equal(t, int64(1000), targets[0].BeforeAmount)
	assert.Equal(t, int64(1100), targets[0].AfterAmount)
	assert.Equal(t, rundomain.TargetQueued, targets[0].Status)

	var reloaded ruledomain.PricingRule
	require.NoError(t, f.db.First(&reloaded, "id = ?", rule.ID).Error)
	assert.Nil(t, reloaded.ScheduleAt, "one-shot schedule is consumed")

	var events int64
	require.NoError(t, f.db.Model(&outboxdomain.OutboxEvent{}).
		Where("event_type = ?", outboxdomain.EventRuleScheduled).
		Count(&events).Error)
	assert.Equal(t, int64(1), events)

	assert.Contains(t, f.audit.actions, auditdomain.ActionRunScheduled)
}

func TestScheduleDueRules_IsIdempotentAcrossPasses(t *testing.T) {
	f := newSchedulerFixture(t)
	f.seedVariant(t, "SKU-1", nil, 1000)
	rule := f.seedRule(t, `{"kind":"all"}`, `{"kind":"percentage","value":10}`, f.fakeClock.Now())

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	// Re-arm the schedule to simulate a pass that died after inserting the
	// run but before consuming the schedule.
	scheduledFor := f.fakeClock.Now()
	require.NoError(t, f.db.Model(&ruledomain.PricingRule{}).
		Where("id = ?", rule.ID).
		Update("schedule_at", scheduledFor).Error)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	var runs int64
	require.NoError(t, f.db.Model(&rundomain.RuleRun{}).Count(&runs).Error)
	assert.Equal(t, int64(1), runs, "same tick must not produce a second run")

	var reloaded ruledomain.PricingRule
	require.NoError(t, f.db.First(&reloaded, "id = ?", rule.ID).Error)
	assert.Nil(t, reloaded.ScheduleAt, "second pass still consumes the schedule")
}

func TestScheduleDueRules_SkipsDisabledAndFutureRules(t *testing.T) {
	f := newSchedulerFixture(t)
	f.seedVariant(t, "SKU-1", nil, 1000)

	future := f.seedRule(t, `{"kind":"all"}`, `{"kind":"percentage","value":10}`, f.fakeClock.Now().Add(time.Hour))
	disabled := f.seedRule(t, `{"kind":"all"}`, `{"kind":"percentage","value":10}`, f.fakeClock.Now())
	require.NoError(t, f.db.Model(&ruledomain.PricingRule{}).
		Where("id = ?", disabled.ID).
		Update("enabled", false).Error)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	var runs int64
	require.NoError(t, f.db.Model(&rundomain.RuleRun{}).Count(&runs).Error)
	assert.Zero(t, runs)

	var reloaded ruledomain.PricingRule
	require.NoError(t, f.db.First(&reloaded, "id = ?", future.ID).Error)
	assert.NotNil(t, reloaded.ScheduleAt, "future schedule stays armed")
}

func TestScheduleDueRules_NoOpTransformYieldsTerminalRun(t *testing.T) {
	f := newSchedulerFixture(t)
	f.seedVariant(t, "SKU-1", nil, 1500)
	// Fixing the price to its current value changes nothing.
	f.seedRule(t, `{"kind":"all"}`, `{"kind":"fixed","amount":1500}`, f.fakeClock.Now())

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	var runs []rundomain.RuleRun
	require.NoError(t, f.db.Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, rundomain.RunApplied, runs[0].Status)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, "no changes", runs[0].Explain["reason"])

	var targets int64
	require.NoError(t, f.db.Model(&rundomain.RuleTarget{}).Count(&targets).Error)
	assert.Zero(t, targets, "no-op candidates never become targets")
}

func TestScheduleDueRules_ClearanceScenario(t *testing.T) {
	f := newSchedulerFixture(t)

	// Five clearance products above the price guard, one below it, and two
	// outside the tag entirely.
	for i := 0; i < 5; i++ {
		f.seedVariant(t, fmt.Sprintf("CLR-%d", i), []string{"clearance"}, 5000)
	}
	f.seedVariant(t, "CLR-CHEAP", []string{"clearance"}, 900)
	f.seedVariant(t, "REG-1", []string{"regular"}, 5000)
	f.seedVariant(t, "REG-2", nil, 5000)

	sel := `{"kind":"and","preds":[
		{"kind":"tag","tag":"clearance"},
		{"kind":"price","op":"gte","amount":1000,"currency":"USD"}
	]}`
	f.seedRule(t, sel, `{"kind":"percentage","value":-30}`, f.fakeClock.Now())

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	var targets []rundomain.RuleTarget
	require.NoError(t, f.db.Find(&targets).Error)
	require.Len(t, targets, 5)
	for _, target := range targets {
		assert.Equal(t, int64(3500), target.AfterAmount)
	}
}

func TestTriggerRule_BypassesSchedule(t *testing.T) {
	f := newSchedulerFixture(t)
	f.seedVariant(t, "SKU-1", nil, 1000)

	futureAt := f.fakeClock.Now().Add(24 * time.Hour)
	rule := f.seedRule(t, `{"kind":"all"}`, `{"kind":"percentage","value":10}`, futureAt)

	run, err := f.scheduler.TriggerRule(context.Background(), f.orgID, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, rundomain.RunQueued, run.Status)
	assert.Equal(t, f.fakeClock.Now(), run.ScheduledFor)

	// The manual trigger must not consume a schedule set for later.
	var reloaded ruledomain.PricingRule
	require.NoError(t, f.db.First(&reloaded, "id = ?", rule.ID).Error)
	require.NotNil(t, reloaded.ScheduleAt)
	assert.Equal(t, futureAt.Unix(), reloaded.ScheduleAt.Unix())
}

func TestTriggerRule_UnknownRule(t *testing.T) {
	f := newSchedulerFixture(t)

	_, err := f.scheduler.TriggerRule(context.Background(), f.orgID, f.node.Generate())
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestScheduleDueRules_MalformedRuleFailsClosed(t *testing.T) {
	f := newSchedulerFixture(t)
	f.seedVariant(t, "SKU-1", nil, 1000)

	bad := f.seedRule(t, `{"kind":"bogus"}`, `{"kind":"percentage","value":10}`, f.fakeClock.Now())
	good := f.seedRule(t, `{"kind":"all"}`, `{"kind":"percentage","value":10}`, f.fakeClock.Now())

	require.NoError(t, f.scheduler.RunOnce(context.Background()),
		"an unparseable rule degrades to a no-op instead of failing the job")

	var badRuns []rundomain.RuleRun
	require.NoError(t, f.db.Find(&badRuns, "rule_id = ?", bad.ID).Error)
	require.Len(t, badRuns, 1)
	assert.Equal(t, rundomain.RunFailed, badRuns[0].Status)
	require.NotNil(t, badRuns[0].FinishedAt)
	assert.Equal(t, "invalid rule", badRuns[0].Explain["reason"])

	var reloadedBad ruledomain.PricingRule
	require.NoError(t, f.db.First(&reloadedBad, "id = ?", bad.ID).Error)
	assert.Nil(t, reloadedBad.ScheduleAt, "the broken rule is not re-claimed every poll")

	var goodRuns []rundomain.RuleRun
	require.NoError(t, f.db.Find(&goodRuns, "rule_id = ?", good.ID).Error)
	require.Len(t, goodRuns, 1, "the healthy rule still schedules")
	assert.Equal(t, rundomain.RunQueued, goodRuns[0].Status)
}

func TestScheduleDueRules_AuditFailureRollsBackRun(t *testing.T) {
	f := newSchedulerFixture(t)
	f.seedVariant(t, "SKU-1", nil, 1000)
	rule := f.seedRule(t, `{"kind":"all"}`, `{"kind":"percentage","value":10}`, f.fakeClock.Now())

	f.audit.failTx = errors.New("audit store unavailable")

	require.Error(t, f.scheduler.RunOnce(context.Background()))

	var runs int64
	require.NoError(t, f.db.Model(&rundomain.RuleRun{}).Count(&runs).Error)
	assert.Zero(t, runs, "the run must not commit without its audit record")

	var events int64
	require.NoError(t, f.db.Model(&outboxdomain.OutboxEvent{}).Count(&events).Error)
	assert.Zero(t, events)

	var reloaded ruledomain.PricingRule
	require.NoError(t, f.db.First(&reloaded, "id = ?", rule.ID).Error)
	assert.NotNil(t, reloaded.ScheduleAt, "the schedule stays armed for a retry")
}
