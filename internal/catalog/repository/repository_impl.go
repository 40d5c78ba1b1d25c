package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repricer/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type candidateRow struct {
	ProductID   snowflake.ID
	VariantID   snowflake.ID
	OrgID       snowflake.ID
	Title       string
	Vendor      string
	ProductType string
	SKU         string
	Tags        []byte
	ExternalRef *string
	Amount      int64
	CompareAt   *int64
	Currency    string
	ValidTo     *time.Time
}

func (r *repo) FindActiveCandidates(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Candidate, error) {
	var rows []candidateRow
	err := db.WithContext(ctx).Raw(
		`SELECT p.id AS product_id, v.id AS variant_id, p.organization_id AS org_id, p.title, p.vendor,
		        p.product_type, v.sku, p.tags, v.external_ref,
		        pr.amount, pr.compare_at, pr.currency, pr.valid_to
		 FROM variants v
		 JOIN products p ON p.id = v.product_id
		 JOIN prices pr ON pr.variant_id = v.id AND pr.valid_to IS NULL
		 WHERE p.organization_id = ?
		   AND p.active = ?
		   AND p.deleted_at IS NULL
		 ORDER BY v.id`,
		orgID,
		true,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, domain.Candidate{
			ProductID:   row.ProductID,
			VariantID:   row.VariantID,
			OrgID:       row.OrgID,
			Title:       row.Title,
			Vendor:      row.Vendor,
			ProductType: row.ProductType,
			SKU:         row.SKU,
			Tags:        decodeTags(row.Tags),
			ExternalRef: row.ExternalRef,
			Price: domain.PriceSnapshot{
				Amount:    row.Amount,
				CompareAt: row.CompareAt,
				Currency:  row.Currency,
			},
		})
	}
	return candidates, nil
}

func (r *repo) FindVariantExternalRef(ctx context.Context, db *gorm.DB, orgID, variantID snowflake.ID) (*string, error) {
	var variant domain.Variant
	err := db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, variantID).
		First(&variant).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return variant.ExternalRef, nil
}

func decodeTags(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	return tags
}
