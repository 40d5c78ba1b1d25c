package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rule *PricingRule) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*PricingRule, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]PricingRule, error)
	SetEnabled(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, enabled bool, now time.Time) (bool, error)
	SetSchedule(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, scheduleAt *time.Time, now time.Time) (bool, error)
	SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) (bool, error)
}
