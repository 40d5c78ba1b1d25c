package migration

import (
	auditdomain "github.com/smallbiznis/repricer/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/repricer/internal/catalog/domain"
	"github.com/smallbiznis/repricer/internal/config"
	idempotencydomain "github.com/smallbiznis/repricer/internal/idempotency/domain"
	organizationdomain "github.com/smallbiznis/repricer/internal/organization/domain"
	outboxdomain "github.com/smallbiznis/repricer/internal/outbox/domain"
	pricechangedomain "github.com/smallbiznis/repricer/internal/pricechange/domain"
	ruledomain "github.com/smallbiznis/repricer/internal/rule/domain"
	rundomain "github.com/smallbiznis/repricer/internal/run/domain"
	"github.com/smallbiznis/repricer/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and mysql deployments are dev-oriented; the versioned
			// SQL is postgres-only, so let the ORM derive the schema.
			if err := AutoMigrate(conn); err != nil {
				return err
			}
		}

		if cfg.DefaultOrgID != 0 {
			return seed.EnsureMainOrgWithID(conn, cfg.DefaultOrgID)
		}
		return seed.EnsureMainOrg(conn)
	}),
)

// AutoMigrate creates the schema from the models. Tests use it against
// in-memory sqlite.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&organizationdomain.Organization{},
		&catalogdomain.Product{},
		&catalogdomain.Variant{},
		&catalogdomain.Price{},
		&ruledomain.PricingRule{},
		&rundomain.RuleRun{},
		&rundomain.RuleTarget{},
		&pricechangedomain.PriceChange{},
		&idempotencydomain.IdempotencyKey{},
		&outboxdomain.OutboxEvent{},
		&outboxdomain.OutboxDLQ{},
		&auditdomain.AuditLog{},
	)
}
