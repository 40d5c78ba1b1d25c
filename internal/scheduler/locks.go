package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ruledomain "github.com/smallbiznis/repricer/internal/rule/domain"
	"gorm.io/gorm"
)

// fetchDueRules claims rules whose schedule has come due. SKIP LOCKED keeps
// two scheduler instances from returning the same rows while both fetch in
// the same tick; the locks end with the fetch transaction, so duplicate-run
// protection past that point falls to the open-run check and the guarded
// schedule_at clear in scheduleRule.
func (s *Scheduler) fetchDueRules(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]ruledomain.PricingRule, error) {
	var rules []ruledomain.PricingRule
	err := tx.WithContext(ctx).Raw(
		`SELECT *
		 FROM pricing_rules
		 WHERE enabled = ?
		   AND deleted_at IS NULL
		   AND schedule_at IS NOT NULL
		   AND schedule_at <= ?
		 ORDER BY schedule_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		true,
		now,
		limit,
	).Scan(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// clearSchedule consumes the one-shot schedule. Guarded on the previous
// value so a concurrent reschedule through the API is not lost.
func (s *Scheduler) clearSchedule(ctx context.Context, tx *gorm.DB, ruleID snowflake.ID, scheduledFor time.Time, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE pricing_rules
		 SET schedule_at = NULL, updated_at = ?
		 WHERE id = ? AND schedule_at = ?`,
		now,
		ruleID,
		scheduledFor,
	).Error
}
