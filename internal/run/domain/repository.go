package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// StatusSummary is the aggregate view served by the run status endpoint.
type StatusSummary struct {
	Status RunStatus `gorm:"column:status" json:"status"`
	Count  int64     `gorm:"column:count" json:"count"`
}

type Repository interface {
	InsertRun(ctx context.Context, db *gorm.DB, run *RuleRun) error
	InsertTargets(ctx context.Context, db *gorm.DB, targets []RuleTarget) error
	FindRun(ctx context.Context, db *gorm.DB, orgID, runID snowflake.ID) (*RuleRun, error)
	FindTargets(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]RuleTarget, error)

	// HasOpenRun reports whether a non-terminal run already exists for the
	// rule at the given scheduled_for tick.
	HasOpenRun(ctx context.Context, db *gorm.DB, ruleID snowflake.ID, scheduledFor time.Time) (bool, error)

	// ClaimQueuedRuns marks up to limit QUEUED runs as APPLYING and returns
	// them, oldest scheduled_for first.
	ClaimQueuedRuns(ctx context.Context, db *gorm.DB, limit int, now time.Time) ([]RuleRun, error)

	// FinishRun moves an APPLYING run to a terminal status. Returns false
	// when the run was not in APPLYING.
	FinishRun(ctx context.Context, db *gorm.DB, runID snowflake.ID, status RunStatus, explain map[string]any, lastError string, now time.Time) (bool, error)

	// FinishTarget moves a QUEUED target to a terminal status.
	FinishTarget(ctx context.Context, db *gorm.DB, targetID snowflake.ID, status TargetStatus, lastError string, now time.Time) (bool, error)

	// RequeueStaleRuns returns APPLYING runs whose claim predates the cutoff
	// to QUEUED so a live worker can pick them up again.
	RequeueStaleRuns(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) (int64, error)

	CountByStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]StatusSummary, error)
}
