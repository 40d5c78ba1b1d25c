package selector

import (
	"context"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/repricer/internal/catalog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	CatalogRepo catalogdomain.Repository
}

// Engine evaluates a selector tree against the org's catalog. The org scope
// and active-record constraint are applied by the repository query and are
// not expressible through the selector grammar.
type Engine struct {
	db          *gorm.DB
	log         *zap.Logger
	catalogRepo catalogdomain.Repository
}

func NewEngine(p Params) *Engine {
	return &Engine{
		db:          p.DB,
		log:         p.Log.Named("selector"),
		catalogRepo: p.CatalogRepo,
	}
}

// Evaluate returns the org's candidates matching the serialized selector.
// A selector that cannot be parsed yields zero matches and an error for the
// caller to log; it never panics.
func (e *Engine) Evaluate(ctx context.Context, orgID snowflake.ID, rawSelector []byte) ([]catalogdomain.Candidate, error) {
	pred, err := Parse(rawSelector)
	if err != nil {
		e.log.Warn("selector failed to parse, matching nothing",
			zap.String("organization_id", orgID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return e.EvaluateParsed(ctx, orgID, pred)
}

// EvaluateParsed filters the org's active candidates through an already
// parsed predicate.
func (e *Engine) EvaluateParsed(ctx context.Context, orgID snowflake.ID, pred *Predicate) ([]catalogdomain.Candidate, error) {
	candidates, err := e.catalogRepo.FindActiveCandidates(ctx, e.db, orgID)
	if err != nil {
		return nil, err
	}

	matched := candidates[:0:0]
	for _, candidate := range candidates {
		if pred.Matches(candidate) {
			matched = append(matched, candidate)
		}
	}
	return matched, nil
}

var Module = fx.Module("selector",
	fx.Provide(NewEngine),
)
