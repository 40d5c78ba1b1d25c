package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Candidate is the flattened read model the selector engine evaluates:
// a variant joined to its product and current price version.
type Candidate struct {
	ProductID   snowflake.ID
	VariantID   snowflake.ID
	OrgID       snowflake.ID
	Title       string
	Vendor      string
	ProductType string
	SKU         string
	Tags        []string
	ExternalRef *string
	Price       PriceSnapshot
}

type Repository interface {
	// FindActiveCandidates loads all active, non-deleted variants of the org
	// together with their current (valid_to IS NULL) price version.
	FindActiveCandidates(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Candidate, error)
	FindVariantExternalRef(ctx context.Context, db *gorm.DB, orgID, variantID snowflake.ID) (*string, error)
}
