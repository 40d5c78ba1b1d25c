package applier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/repricer/internal/audit/domain"
	auditcontext "github.com/smallbiznis/repricer/internal/auditcontext"
	"github.com/smallbiznis/repricer/internal/clock"
	connectordomain "github.com/smallbiznis/repricer/internal/connector/domain"
	idempotencydomain "github.com/smallbiznis/repricer/internal/idempotency/domain"
	"github.com/smallbiznis/repricer/internal/metrics"
	outboxdomain "github.com/smallbiznis/repricer/internal/outbox/domain"
	pricechangedomain "github.com/smallbiznis/repricer/internal/pricechange/domain"
	rundomain "github.com/smallbiznis/repricer/internal/run/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_applier_config")

const maxJoinedErrors = 10

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Connector  connectordomain.Connector
	RunRepo    rundomain.Repository
	IdemRepo   idempotencydomain.Repository
	ChangeRepo pricechangedomain.Repository
	AuditSvc   auditdomain.Service
	Publisher  outboxdomain.Publisher
	Config     Config `optional:"true"`
}

// Worker drains queued runs, pushing each target's mutation through the
// platform connector exactly once.
type Worker struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	connector  connectordomain.Connector
	runRepo    rundomain.Repository
	idemRepo   idempotencydomain.Repository
	changeRepo pricechangedomain.Repository
	auditSvc   auditdomain.Service
	publisher  outboxdomain.Publisher
}

func New(p Params) (*Worker, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Connector == nil || p.RunRepo == nil || p.IdemRepo == nil || p.ChangeRepo == nil || p.AuditSvc == nil || p.Publisher == nil {
		return nil, ErrInvalidConfig
	}
	return &Worker{
		db:         p.DB,
		log:        p.Log.Named("applier").With(zap.String("component", "applier")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		connector:  p.Connector,
		runRepo:    p.RunRepo,
		idemRepo:   p.IdemRepo,
		changeRepo: p.ChangeRepo,
		auditSvc:   p.AuditSvc,
		publisher:  p.Publisher,
	}, nil
}

// RunOnce claims a batch of queued runs and applies them sequentially. A
// run that blows up is finalized as FAILED and never blocks the rest.
func (w *Worker) RunOnce(parent context.Context) error {
	start := w.clock.Now()
	pipeMetrics := metrics.Pipeline()
	pipeMetrics.IncJobRun("apply_runs")
	defer func() {
		pipeMetrics.ObserveJobDuration("apply_runs", time.Since(start))
	}()

	ctx := auditcontext.WithActor(parent, auditdomain.ActorTypeSystem, "applier")

	runs, err := w.runRepo.ClaimQueuedRuns(ctx, w.db, w.cfg.RunBatchSize, w.clock.Now())
	if err != nil {
		pipeMetrics.IncJobError("apply_runs")
		return fmt.Errorf("claim runs: %w", err)
	}

	var jobErr error
	for i := range runs {
		if ctx.Err() != nil {
			jobErr = errors.Join(jobErr, ctx.Err())
			break
		}
		if err := w.processRun(ctx, runs[i]); err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("run %s: %w", runs[i].ID, err))
		}
	}

	if jobErr != nil {
		pipeMetrics.IncJobError("apply_runs")
	}
	return jobErr
}

func (w *Worker) processRun(parent context.Context, run rundomain.RuleRun) error {
	ctx := auditcontext.WithRunID(parent, run.ID.String())
	log := w.log.With(
		zap.String("run_id", run.ID.String()),
		zap.String("rule_id", run.RuleID.String()),
		zap.String("organization_id", run.OrgID.String()),
	)

	if err := ctx.Err(); err != nil {
		return err
	}

	targets, err := w.runRepo.FindTargets(ctx, w.db, run.ID)
	if err != nil {
		// Run-level fatal: nothing was attempted, the run is FAILED.
		w.finalize(ctx, run, 0, 0, 0, []string{fmt.Sprintf("load targets: %v", err)})
		return fmt.Errorf("load targets: %w", err)
	}

	success, failed := 0, 0
	var errMessages []string
	for i := range targets {
		if err := ctx.Err(); err != nil {
			// Shutdown mid-run. The run stays in APPLYING with its remaining
			// targets QUEUED; the stale-run sweep returns it to the queue.
			return err
		}
		if i > 0 && w.cfg.TargetDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.TargetDelay):
			}
		}
		if targets[i].Status != rundomain.TargetQueued {
			// Already finalized by a previous pass over this run.
			if targets[i].Status == rundomain.TargetApplied {
				success++
			} else {
				failed++
			}
			continue
		}
		if err := w.applyTarget(ctx, run, targets[i]); err != nil {
			failed++
			errMessages = append(errMessages, fmt.Sprintf("target %s: %v", targets[i].ID, err))
			continue
		}
		success++
	}

	w.finalize(ctx, run, success, failed, len(targets), errMessages)
	log.Info("run applied",
		zap.Int("success", success),
		zap.Int("failed", failed),
		zap.Int("total", len(targets)),
	)
	return nil
}

// applyTarget performs one idempotent price mutation. The ledger is
// consulted before, and written after, the platform call; both paths leave
// the target APPLIED.
func (w *Worker) applyTarget(ctx context.Context, run rundomain.RuleRun, target rundomain.RuleTarget) error {
	pipeMetrics := metrics.Pipeline()
	now := w.clock.Now()

	if target.ExternalRef == nil || strings.TrimSpace(*target.ExternalRef) == "" {
		message := "variant has no external ref"
		if _, err := w.runRepo.FinishTarget(ctx, w.db, target.ID, rundomain.TargetFailed, message, now); err != nil {
			return err
		}
		pipeMetrics.IncTargetOutcome(metrics.TargetOutcomeFailed)
		return errors.New(message)
	}
	externalRef := strings.TrimSpace(*target.ExternalRef)

	key := idempotencydomain.ComputeKey(run.OrgID, externalRef, run.ID, target.AfterAmount, target.AfterCompareAt)

	applied, err := w.idemRepo.Exists(ctx, w.db, key)
	if err != nil {
		return fmt.Errorf("ledger check: %w", err)
	}
	if applied {
		// The mutation reached the platform on an earlier pass; only the
		// local bookkeeping is missing.
		if _, err := w.runRepo.FinishTarget(ctx, w.db, target.ID, rundomain.TargetApplied, "", now); err != nil {
			return err
		}
		pipeMetrics.IncTargetOutcome(metrics.TargetOutcomeSkipped)
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	_, callErr := w.connector.UpdatePrice(callCtx, connectordomain.UpdatePriceRequest{
		ExternalRef:    externalRef,
		Currency:       target.Currency,
		Amount:         target.AfterAmount,
		CompareAt:      target.AfterCompareAt,
		IdempotencyKey: key,
	})
	cancel()
	if callErr != nil {
		if _, err := w.runRepo.FinishTarget(ctx, w.db, target.ID, rundomain.TargetFailed, callErr.Error(), w.clock.Now()); err != nil {
			return err
		}
		pipeMetrics.IncTargetOutcome(metrics.TargetOutcomeFailed)
		return callErr
	}

	now = w.clock.Now()
	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := w.idemRepo.Reserve(ctx, tx, &idempotencydomain.IdempotencyKey{
			ID:        w.genID.Generate(),
			OrgID:     run.OrgID,
			RunID:     run.ID,
			Key:       key,
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("ledger insert: %w", err)
		}
		if !won {
			// Lost a race with another worker; the mutation is recorded.
			return nil
		}
		if err := w.changeRepo.Insert(ctx, tx, &pricechangedomain.PriceChange{
			ID:              w.genID.Generate(),
			OrgID:           run.OrgID,
			RunID:           run.ID,
			TargetID:        target.ID,
			VariantID:       target.VariantID,
			ExternalRef:     externalRef,
			Currency:        target.Currency,
			BeforeAmount:    target.BeforeAmount,
			BeforeCompareAt: target.BeforeCompareAt,
			AfterAmount:     target.AfterAmount,
			AfterCompareAt:  target.AfterCompareAt,
			Status:          pricechangedomain.ChangeApplied,
			IdempotencyKey:  key,
			AppliedAt:       now,
			CreatedAt:       now,
		}); err != nil {
			return fmt.Errorf("insert price change: %w", err)
		}
		return w.publisher.Publish(ctx, tx, outboxdomain.Event{
			OrgID:         run.OrgID,
			EventType:     outboxdomain.EventPriceChangeApplied,
			AggregateType: "price_change",
			AggregateID:   target.ID.String(),
			Payload: map[string]any{
				"run_id":       run.ID.String(),
				"target_id":    target.ID.String(),
				"external_ref": externalRef,
				"currency":     target.Currency,
				"before":       target.BeforeAmount,
				"after":        target.AfterAmount,
			},
		})
	})
	if err != nil {
		return err
	}

	if _, err := w.runRepo.FinishTarget(ctx, w.db, target.ID, rundomain.TargetApplied, "", now); err != nil {
		return err
	}
	pipeMetrics.IncTargetOutcome(metrics.TargetOutcomeApplied)
	return nil
}

// finalize records the run outcome. Partial success is still APPLIED; the
// explain payload carries the split. FAILED means nothing went through —
// either every target failed or a run-level error stopped the run before
// any target was attempted.
func (w *Worker) finalize(ctx context.Context, run rundomain.RuleRun, success, failed, total int, errMessages []string) {
	status := rundomain.RunApplied
	if success == 0 && (total > 0 && failed == total || total == 0 && len(errMessages) > 0) {
		status = rundomain.RunFailed
	}

	if len(errMessages) > maxJoinedErrors {
		errMessages = errMessages[:maxJoinedErrors]
	}
	lastError := strings.Join(errMessages, "; ")

	explain := map[string]any{
		"success": success,
		"error":   failed,
		"total":   total,
	}

	now := w.clock.Now()
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		finished, err := w.runRepo.FinishRun(ctx, tx, run.ID, status, explain, lastError, now)
		if err != nil {
			return err
		}
		if !finished {
			return nil
		}
		return w.publisher.Publish(ctx, tx, outboxdomain.Event{
			OrgID:         run.OrgID,
			EventType:     outboxdomain.EventRunFinished,
			AggregateType: "rule_run",
			AggregateID:   run.ID.String(),
			Payload: map[string]any{
				"rule_id": run.RuleID.String(),
				"status":  string(status),
				"success": success,
				"error":   failed,
				"total":   total,
			},
		})
	})
	if err != nil {
		w.log.Error("run finalization failed",
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
		return
	}

	metrics.Pipeline().IncRunFinalized(string(status))

	orgID := run.OrgID
	runID := run.ID.String()
	if err := w.auditSvc.AuditLog(ctx, &orgID, auditdomain.ActorTypeSystem, nil, auditdomain.ActionRunFinished, "rule_run", &runID, explain); err != nil {
		w.log.Warn("audit write failed", zap.Error(err))
	}
}

// RecoverStaleRunsJob requeues runs abandoned mid-apply. A run sits in
// APPLYING only while a worker drives it; one whose claim is older than the
// threshold lost its worker to a crash or shutdown, and the idempotency
// ledger makes the replay safe.
func (w *Worker) RecoverStaleRunsJob(ctx context.Context) error {
	now := w.clock.Now()
	cutoff := now.Add(-w.cfg.RecoveryThreshold)

	requeued, err := w.runRepo.RequeueStaleRuns(ctx, w.db, cutoff, now)
	if err != nil {
		return fmt.Errorf("requeue stale runs: %w", err)
	}
	if requeued > 0 {
		w.log.Info("stale runs requeued", zap.Int64("count", requeued))
	}
	return nil
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RecoverStaleRunsJob(ctx); err != nil {
			w.log.Warn("stale run recovery failed", zap.Error(err))
		}
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("apply pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
