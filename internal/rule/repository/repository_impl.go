package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repricer/internal/rule/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rule *domain.PricingRule) error {
	if rule == nil {
		return nil
	}
	return db.WithContext(ctx).Create(rule).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.PricingRule, error) {
	var rule domain.PricingRule
	err := db.WithContext(ctx).
		Where("organization_id = ? AND id = ? AND deleted_at IS NULL", orgID, id).
		First(&rule).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.PricingRule, error) {
	var rules []domain.PricingRule
	err := db.WithContext(ctx).
		Where("organization_id = ? AND deleted_at IS NULL", orgID).
		Order("created_at DESC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repo) SetEnabled(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, enabled bool, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pricing_rules
		 SET enabled = ?, updated_at = ?
		 WHERE organization_id = ? AND id = ? AND deleted_at IS NULL`,
		enabled,
		now,
		orgID,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SetSchedule(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, scheduleAt *time.Time, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pricing_rules
		 SET schedule_at = ?, updated_at = ?
		 WHERE organization_id = ? AND id = ? AND deleted_at IS NULL`,
		scheduleAt,
		now,
		orgID,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pricing_rules
		 SET deleted_at = ?, schedule_at = NULL, updated_at = ?
		 WHERE organization_id = ? AND id = ? AND deleted_at IS NULL`,
		now,
		now,
		orgID,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
