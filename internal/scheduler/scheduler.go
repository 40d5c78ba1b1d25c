package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/repricer/internal/audit/domain"
	auditcontext "github.com/smallbiznis/repricer/internal/auditcontext"
	catalogdomain "github.com/smallbiznis/repricer/internal/catalog/domain"
	"github.com/smallbiznis/repricer/internal/clock"
	"github.com/smallbiznis/repricer/internal/metrics"
	outboxdomain "github.com/smallbiznis/repricer/internal/outbox/domain"
	ruledomain "github.com/smallbiznis/repricer/internal/rule/domain"
	rundomain "github.com/smallbiznis/repricer/internal/run/domain"
	"github.com/smallbiznis/repricer/internal/selector"
	"github.com/smallbiznis/repricer/internal/transform"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrRuleNotFound  = errors.New("rule_not_found")
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Selector  *selector.Engine
	AuditSvc  auditdomain.Service
	Publisher outboxdomain.Publisher
	RunRepo   rundomain.Repository
	Config    Config `optional:"true"`
}

// Scheduler turns due pricing rules into queued runs with materialized
// targets.
type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	selector  *selector.Engine
	auditSvc  auditdomain.Service
	publisher outboxdomain.Publisher
	runRepo   rundomain.Repository
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Selector == nil || p.AuditSvc == nil || p.Publisher == nil || p.RunRepo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		selector:  p.Selector,
		auditSvc:  p.AuditSvc,
		publisher: p.Publisher,
		runRepo:   p.RunRepo,
	}, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, "schedule_rules", s.cfg.JobTimeout, s.ScheduleDueRulesJob)
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, auditdomain.ActorTypeSystem, "scheduler")

	pipeMetrics := metrics.Pipeline()
	pipeMetrics.IncJobRun(name)

	err := fn(ctx)
	pipeMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	pipeMetrics.IncJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

// ScheduleDueRulesJob claims due rules and schedules a run for each. A
// failing rule never blocks the rest of the batch.
func (s *Scheduler) ScheduleDueRulesJob(ctx context.Context) error {
	now := s.clock.Now()

	var rules []ruledomain.PricingRule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rules, err = s.fetchDueRules(ctx, tx, now, s.cfg.BatchSize)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch due rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	var jobErr error
	scheduled := 0
	for i := range rules {
		if ctx.Err() != nil {
			jobErr = errors.Join(jobErr, ctx.Err())
			break
		}
		rule := rules[i]
		if rule.ScheduleAt == nil {
			continue
		}
		if _, err := s.scheduleRule(ctx, rule, *rule.ScheduleAt); err != nil {
			s.log.Warn("rule scheduling failed",
				zap.String("rule_id", rule.ID.String()),
				zap.Error(err),
			)
			jobErr = errors.Join(jobErr, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		scheduled++
	}

	if scheduled > 0 {
		metrics.Pipeline().AddRulesScheduled(scheduled)
		s.log.Info("rules scheduled", zap.Int("count", scheduled))
	}
	return jobErr
}

// TriggerRule schedules a run immediately, bypassing schedule_at. Used by
// the manual trigger endpoint.
func (s *Scheduler) TriggerRule(ctx context.Context, orgID, ruleID snowflake.ID) (*rundomain.RuleRun, error) {
	var rule ruledomain.PricingRule
	err := s.db.WithContext(ctx).
		Where("id = ? AND organization_id = ? AND deleted_at IS NULL", ruleID, orgID).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.scheduleRule(ctx, rule, s.clock.Now())
}

// scheduleRule evaluates one rule and persists the resulting run. The
// scheduledFor tick doubles as the duplicate-run guard: re-entering with
// the same tick is a no-op.
func (s *Scheduler) scheduleRule(ctx context.Context, rule ruledomain.PricingRule, scheduledFor time.Time) (*rundomain.RuleRun, error) {
	now := s.clock.Now()
	log := s.log.With(
		zap.String("rule_id", rule.ID.String()),
		zap.String("organization_id", rule.OrgID.String()),
		zap.Time("scheduled_for", scheduledFor),
	)

	open, err := s.runRepo.HasOpenRun(ctx, s.db, rule.ID, scheduledFor)
	if err != nil {
		return nil, fmt.Errorf("duplicate run check: %w", err)
	}
	if open {
		// A previous pass already created the run but may have died before
		// consuming the schedule.
		log.Info("run already open, skipping")
		if err := s.clearSchedule(ctx, s.db, rule.ID, scheduledFor, now); err != nil {
			return nil, err
		}
		return nil, nil
	}

	pred, predErr := selector.Parse(rule.Selector)
	tr, trErr := transform.Parse(rule.Transform)
	if predErr != nil || trErr != nil {
		// The stored rule no longer parses. Fail closed: record a terminal
		// run carrying the parse error and consume the schedule so the rule
		// is not re-claimed and re-failed every poll.
		return s.recordInvalidRule(ctx, rule, scheduledFor, errors.Join(predErr, trErr))
	}

	candidates, err := s.selector.EvaluateParsed(ctx, rule.OrgID, pred)
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}

	run := &rundomain.RuleRun{
		ID:           s.genID.Generate(),
		OrgID:        rule.OrgID,
		RuleID:       rule.ID,
		Status:       rundomain.RunQueued,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	targets := s.buildTargets(rule, run.ID, candidates, tr)

	if len(targets) == 0 {
		// Nothing to mutate. The run is recorded as already applied so the
		// rule's history shows the evaluation happened.
		run.Status = rundomain.RunApplied
		run.FinishedAt = &now
		run.Explain = map[string]any{
			"matched": len(candidates),
			"targets": 0,
			"reason":  "no changes",
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.runRepo.InsertRun(ctx, tx, run); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if err := s.runRepo.InsertTargets(ctx, tx, targets); err != nil {
			return fmt.Errorf("insert targets: %w", err)
		}
		if err := s.clearSchedule(ctx, tx, rule.ID, scheduledFor, now); err != nil {
			return fmt.Errorf("clear schedule: %w", err)
		}
		if err := s.publisher.Publish(ctx, tx, outboxdomain.Event{
			OrgID:         rule.OrgID,
			EventType:     outboxdomain.EventRuleScheduled,
			AggregateType: "rule_run",
			AggregateID:   run.ID.String(),
			Payload: map[string]any{
				"rule_id":       rule.ID.String(),
				"run_id":        run.ID.String(),
				"scheduled_for": scheduledFor,
				"targets":       len(targets),
			},
		}); err != nil {
			return fmt.Errorf("publish event: %w", err)
		}
		// The audit record shares the transaction: run, targets, schedule
		// consumption, outbox event and audit commit or roll back together.
		orgID := rule.OrgID
		runID := run.ID.String()
		if err := s.auditSvc.AuditLogTx(ctx, tx, &orgID, auditdomain.ActorTypeSystem, nil, auditdomain.ActionRunScheduled, "rule_run", &runID, map[string]any{
			"rule_id":       rule.ID.String(),
			"rule_name":     rule.Name,
			"scheduled_for": scheduledFor,
			"matched":       len(candidates),
			"targets":       len(targets),
		}); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if run.Status == rundomain.RunApplied {
		metrics.Pipeline().IncRunFinalized(string(rundomain.RunApplied))
	}

	log.Info("run scheduled",
		zap.String("run_id", run.ID.String()),
		zap.Int("matched", len(candidates)),
		zap.Int("targets", len(targets)),
	)
	return run, nil
}

// buildTargets applies the transform to each matched candidate and drops
// no-ops and candidates with no addressable external variant.
func (s *Scheduler) buildTargets(rule ruledomain.PricingRule, runID snowflake.ID, candidates []catalogdomain.Candidate, tr *transform.Transform) []rundomain.RuleTarget {
	now := s.clock.Now()
	targets := make([]rundomain.RuleTarget, 0, len(candidates))
	for _, candidate := range candidates {
		result := tr.Apply(candidate.Price)
		if !result.Changed {
			continue
		}
		targets = append(targets, rundomain.RuleTarget{
			ID:              s.genID.Generate(),
			OrgID:           rule.OrgID,
			RunID:           runID,
			ProductID:       candidate.ProductID,
			VariantID:       candidate.VariantID,
			ExternalRef:     candidate.ExternalRef,
			Currency:        candidate.Price.Currency,
			BeforeAmount:    result.Before.Amount,
			BeforeCompareAt: result.Before.CompareAt,
			AfterAmount:     result.After.Amount,
			AfterCompareAt:  result.After.CompareAt,
			Status:          rundomain.TargetQueued,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return targets
}

// recordInvalidRule writes a terminal FAILED run for a rule whose stored
// selector or transform no longer parses, consuming the schedule so the
// rule degrades to a no-op instead of re-failing every poll.
func (s *Scheduler) recordInvalidRule(ctx context.Context, rule ruledomain.PricingRule, scheduledFor time.Time, parseErr error) (*rundomain.RuleRun, error) {
	now := s.clock.Now()
	run := &rundomain.RuleRun{
		ID:           s.genID.Generate(),
		OrgID:        rule.OrgID,
		RuleID:       rule.ID,
		Status:       rundomain.RunFailed,
		ScheduledFor: scheduledFor,
		FinishedAt:   &now,
		Explain: map[string]any{
			"reason": "invalid rule",
			"error":  parseErr.Error(),
		},
		LastError: parseErr.Error(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.runRepo.InsertRun(ctx, tx, run); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if err := s.clearSchedule(ctx, tx, rule.ID, scheduledFor, now); err != nil {
			return fmt.Errorf("clear schedule: %w", err)
		}
		orgID := rule.OrgID
		runID := run.ID.String()
		return s.auditSvc.AuditLogTx(ctx, tx, &orgID, auditdomain.ActorTypeSystem, nil, auditdomain.ActionRunFinished, "rule_run", &runID, map[string]any(run.Explain))
	})
	if err != nil {
		return nil, err
	}

	metrics.Pipeline().IncRunFinalized(string(rundomain.RunFailed))
	s.log.Warn("rule no longer parses, failed closed",
		zap.String("rule_id", rule.ID.String()),
		zap.Error(parseErr),
	)
	return run, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
