package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, change *PriceChange) error
	ListByRun(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]PriceChange, error)
}
