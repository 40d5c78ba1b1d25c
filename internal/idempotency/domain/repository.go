package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// Reserve inserts the key and reports whether this caller won the
	// reservation. false means the mutation was already performed.
	Reserve(ctx context.Context, db *gorm.DB, key *IdempotencyKey) (bool, error)

	// Exists reports whether the key has already been recorded.
	Exists(ctx context.Context, db *gorm.DB, key string) (bool, error)
}
