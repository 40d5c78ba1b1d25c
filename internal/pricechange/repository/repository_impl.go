package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	pricechangedomain "github.com/smallbiznis/repricer/internal/pricechange/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() pricechangedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, change *pricechangedomain.PriceChange) error {
	return db.WithContext(ctx).Create(change).Error
}

func (r *repo) ListByRun(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]pricechangedomain.PriceChange, error) {
	var changes []pricechangedomain.PriceChange
	err := db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&changes).Error
	if err != nil {
		return nil, err
	}
	return changes, nil
}
