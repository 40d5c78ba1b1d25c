package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// IdempotencyKey records an external mutation that has been performed, keyed
// by a digest of everything that makes the mutation distinct. A second
// attempt with the same digest must not reach the platform again.
type IdempotencyKey struct {
	ID        snowflake.ID `gorm:"column:id;primaryKey"`
	OrgID     snowflake.ID `gorm:"column:organization_id"`
	RunID     snowflake.ID `gorm:"column:run_id"`
	Key       string       `gorm:"column:key;uniqueIndex"`
	CreatedAt time.Time    `gorm:"column:created_at"`
}

func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}

// ComputeKey derives the digest for a single price mutation. The run ID is
// part of the digest so the same variant can be repriced again by a later
// run; a nil compareAt hashes differently from zero.
func ComputeKey(orgID snowflake.ID, externalRef string, runID snowflake.ID, amount int64, compareAt *int64) string {
	compare := "nil"
	if compareAt != nil {
		compare = fmt.Sprintf("%d", *compareAt)
	}
	payload := fmt.Sprintf("%d|%s|%d|%d|%s", orgID, externalRef, runID, amount, compare)
	digest := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(digest[:])
}
