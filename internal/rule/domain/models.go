package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PricingRule is a declarative, tenant-scoped price mutation policy.
// ScheduleAt is one-shot: the scheduler clears it on pickup. A disabled or
// soft-deleted rule is never scheduled.
type PricingRule struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID   `json:"organization_id" gorm:"column:organization_id;not null;index"`
	Name       string         `json:"name" gorm:"type:text;not null"`
	Selector   datatypes.JSON `json:"selector" gorm:"type:jsonb;not null"`
	Transform  datatypes.JSON `json:"transform" gorm:"type:jsonb;not null"`
	Enabled    bool           `json:"enabled" gorm:"not null;default:true"`
	ScheduleAt *time.Time     `json:"schedule_at,omitempty" gorm:"index"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty" gorm:"index"`
}

func (PricingRule) TableName() string { return "pricing_rules" }
