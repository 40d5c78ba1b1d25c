package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Product struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID      `json:"organization_id" gorm:"column:organization_id;not null;index"`
	Title       string            `json:"title" gorm:"type:text;not null"`
	Vendor      string            `json:"vendor,omitempty" gorm:"type:text"`
	ProductType string            `json:"product_type,omitempty" gorm:"type:text"`
	Tags        datatypes.JSON    `json:"tags,omitempty" gorm:"type:jsonb"`
	Active      bool              `json:"active" gorm:"not null;default:true"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty" gorm:"index"`
}

func (Product) TableName() string { return "products" }

type Variant struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID `json:"organization_id" gorm:"column:organization_id;not null;index"`
	ProductID snowflake.ID `json:"product_id" gorm:"not null;index"`
	SKU       string       `json:"sku" gorm:"type:text;not null"`
	// ExternalRef is the connector-side variant identifier. Targets without
	// one cannot be applied and are failed by the worker.
	ExternalRef *string   `json:"external_ref,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Variant) TableName() string { return "variants" }

// Price rows are temporally versioned; the current version has no ValidTo.
type Price struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID `json:"organization_id" gorm:"column:organization_id;not null;index"`
	VariantID snowflake.ID `json:"variant_id" gorm:"not null;index"`
	Amount    int64        `json:"amount" gorm:"not null"`
	CompareAt *int64       `json:"compare_at,omitempty"`
	Currency  string       `json:"currency" gorm:"type:text;not null"`
	ValidFrom time.Time    `json:"valid_from" gorm:"not null"`
	ValidTo   *time.Time   `json:"valid_to,omitempty" gorm:"index"`
}

func (Price) TableName() string { return "prices" }

// PriceSnapshot is the before/after unit the transform engine operates on.
// Amounts are integers in minor currency units.
type PriceSnapshot struct {
	Amount    int64  `json:"amount"`
	CompareAt *int64 `json:"compare_at,omitempty"`
	Currency  string `json:"currency"`
}

func (s PriceSnapshot) Equal(other PriceSnapshot) bool {
	if s.Amount != other.Amount || s.Currency != other.Currency {
		return false
	}
	if (s.CompareAt == nil) != (other.CompareAt == nil) {
		return false
	}
	if s.CompareAt != nil && *s.CompareAt != *other.CompareAt {
		return false
	}
	return true
}
