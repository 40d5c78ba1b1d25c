package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ChangeStatus string

const (
	ChangeApplied ChangeStatus = "APPLIED"
	ChangeFailed  ChangeStatus = "FAILED"
)

// PriceChange is the append-only record of every mutation pushed to the
// platform, one row per target attempt that reached the connector.
type PriceChange struct {
	ID              snowflake.ID `gorm:"column:id;primaryKey"`
	OrgID           snowflake.ID `gorm:"column:organization_id"`
	RunID           snowflake.ID `gorm:"column:run_id"`
	TargetID        snowflake.ID `gorm:"column:target_id"`
	VariantID       snowflake.ID `gorm:"column:variant_id"`
	ExternalRef     string       `gorm:"column:external_ref"`
	Currency        string       `gorm:"column:currency"`
	BeforeAmount    int64        `gorm:"column:before_amount"`
	BeforeCompareAt *int64       `gorm:"column:before_compare_at"`
	AfterAmount     int64        `gorm:"column:after_amount"`
	AfterCompareAt  *int64       `gorm:"column:after_compare_at"`
	Status          ChangeStatus `gorm:"column:status"`
	IdempotencyKey  string       `gorm:"column:idempotency_key"`
	AppliedAt       time.Time    `gorm:"column:applied_at"`
	CreatedAt       time.Time    `gorm:"column:created_at"`
}

func (PriceChange) TableName() string {
	return "price_changes"
}
