package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunQueued   RunStatus = "QUEUED"
	RunApplying RunStatus = "APPLYING"
	RunApplied  RunStatus = "APPLIED"
	RunFailed   RunStatus = "FAILED"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	return s == RunApplied || s == RunFailed
}

type TargetStatus string

const (
	TargetQueued  TargetStatus = "QUEUED"
	TargetApplied TargetStatus = "APPLIED"
	TargetFailed  TargetStatus = "FAILED"
)

type RuleRun struct {
	ID           snowflake.ID      `gorm:"column:id;primaryKey"`
	OrgID        snowflake.ID      `gorm:"column:organization_id"`
	RuleID       snowflake.ID      `gorm:"column:rule_id"`
	Status       RunStatus         `gorm:"column:status"`
	ScheduledFor time.Time         `gorm:"column:scheduled_for"`
	StartedAt    *time.Time        `gorm:"column:started_at"`
	FinishedAt   *time.Time        `gorm:"column:finished_at"`
	Explain      datatypes.JSONMap `gorm:"column:explain_json"`
	LastError    string            `gorm:"column:last_error"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
}

func (RuleRun) TableName() string {
	return "rule_runs"
}

type RuleTarget struct {
	ID              snowflake.ID `gorm:"column:id;primaryKey"`
	OrgID           snowflake.ID `gorm:"column:organization_id"`
	RunID           snowflake.ID `gorm:"column:run_id"`
	ProductID       snowflake.ID `gorm:"column:product_id"`
	VariantID       snowflake.ID `gorm:"column:variant_id"`
	ExternalRef     *string      `gorm:"column:external_ref"`
	Currency        string       `gorm:"column:currency"`
	BeforeAmount    int64        `gorm:"column:before_amount"`
	BeforeCompareAt *int64       `gorm:"column:before_compare_at"`
	AfterAmount     int64        `gorm:"column:after_amount"`
	AfterCompareAt  *int64       `gorm:"column:after_compare_at"`
	Status          TargetStatus `gorm:"column:status"`
	LastError       string       `gorm:"column:last_error"`
	CreatedAt       time.Time    `gorm:"column:created_at"`
	UpdatedAt       time.Time    `gorm:"column:updated_at"`
}

func (RuleTarget) TableName() string {
	return "rule_targets"
}
