package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	rundomain "github.com/smallbiznis/repricer/internal/run/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() rundomain.Repository {
	return &repo{}
}

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *rundomain.RuleRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) InsertTargets(ctx context.Context, db *gorm.DB, targets []rundomain.RuleTarget) error {
	if len(targets) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&targets).Error
}

func (r *repo) FindRun(ctx context.Context, db *gorm.DB, orgID, runID snowflake.ID) (*rundomain.RuleRun, error) {
	var run rundomain.RuleRun
	err := db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repo) FindTargets(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]rundomain.RuleTarget, error) {
	var targets []rundomain.RuleTarget
	err := db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&targets).Error
	if err != nil {
		return nil, err
	}
	return targets, nil
}

func (r *repo) HasOpenRun(ctx context.Context, db *gorm.DB, ruleID snowflake.ID, scheduledFor time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM rule_runs
		 WHERE rule_id = ?
		   AND scheduled_for = ?
		   AND status IN (?, ?)`,
		ruleID,
		scheduledFor,
		rundomain.RunQueued,
		rundomain.RunApplying,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ClaimQueuedRuns(ctx context.Context, db *gorm.DB, limit int, now time.Time) ([]rundomain.RuleRun, error) {
	var claimed []rundomain.RuleRun
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []rundomain.RuleRun
		if err := tx.Raw(
			`SELECT *
			 FROM rule_runs
			 WHERE status = ?
			 ORDER BY scheduled_for ASC, id ASC
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			rundomain.RunQueued,
			limit,
		).Scan(&candidates).Error; err != nil {
			return err
		}

		for i := range candidates {
			// Guarded transition: another worker may have claimed the row
			// between SELECT and UPDATE on engines without SKIP LOCKED.
			res := tx.Exec(
				`UPDATE rule_runs
				 SET status = ?, started_at = ?, updated_at = ?
				 WHERE id = ? AND status = ?`,
				rundomain.RunApplying,
				now,
				now,
				candidates[i].ID,
				rundomain.RunQueued,
			)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			run := candidates[i]
			run.Status = rundomain.RunApplying
			run.StartedAt = &now
			claimed = append(claimed, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *repo) FinishRun(ctx context.Context, db *gorm.DB, runID snowflake.ID, status rundomain.RunStatus, explain map[string]any, lastError string, now time.Time) (bool, error) {
	rawExplain, err := json.Marshal(explain)
	if err != nil {
		return false, err
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE rule_runs
		 SET status = ?, finished_at = ?, explain_json = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		now,
		rawExplain,
		lastError,
		now,
		runID,
		rundomain.RunApplying,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FinishTarget(ctx context.Context, db *gorm.DB, targetID snowflake.ID, status rundomain.TargetStatus, lastError string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE rule_targets
		 SET status = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		lastError,
		now,
		targetID,
		rundomain.TargetQueued,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RequeueStaleRuns(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE rule_runs
		 SET status = ?, started_at = NULL, updated_at = ?
		 WHERE status = ? AND started_at <= ?`,
		rundomain.RunQueued,
		now,
		rundomain.RunApplying,
		cutoff,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]rundomain.StatusSummary, error) {
	var summaries []rundomain.StatusSummary
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(1) AS count
		 FROM rule_runs
		 WHERE organization_id = ?
		 GROUP BY status`,
		orgID,
	).Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
