package repository

import (
	"context"

	idempotencydomain "github.com/smallbiznis/repricer/internal/idempotency/domain"
	"github.com/smallbiznis/repricer/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() idempotencydomain.Repository {
	return &repo{}
}

func (r *repo) Reserve(ctx context.Context, tx *gorm.DB, key *idempotencydomain.IdempotencyKey) (bool, error) {
	err := tx.WithContext(ctx).Create(key).Error
	if err == nil {
		return true, nil
	}
	if db.IsDuplicateKeyErr(err) {
		return false, nil
	}
	return false, err
}

func (r *repo) Exists(ctx context.Context, tx *gorm.DB, key string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&idempotencydomain.IdempotencyKey{}).
		Where("key = ?", key).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
