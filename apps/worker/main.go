// The worker binary runs the three pipeline loops without the admin API.
// Deploy it alongside one or more API instances; Redis leases keep each
// loop single-writer across the fleet.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repricer/internal/applier"
	"github.com/smallbiznis/repricer/internal/audit"
	"github.com/smallbiznis/repricer/internal/catalog"
	"github.com/smallbiznis/repricer/internal/clock"
	"github.com/smallbiznis/repricer/internal/config"
	"github.com/smallbiznis/repricer/internal/connector"
	"github.com/smallbiznis/repricer/internal/idempotency"
	"github.com/smallbiznis/repricer/internal/lease"
	"github.com/smallbiznis/repricer/internal/logger"
	"github.com/smallbiznis/repricer/internal/metrics"
	"github.com/smallbiznis/repricer/internal/migration"
	"github.com/smallbiznis/repricer/internal/outbox"
	"github.com/smallbiznis/repricer/internal/pricechange"
	"github.com/smallbiznis/repricer/internal/rule"
	"github.com/smallbiznis/repricer/internal/run"
	"github.com/smallbiznis/repricer/internal/scheduler"
	"github.com/smallbiznis/repricer/internal/selector"
	"github.com/smallbiznis/repricer/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lease.Module,
		fx.Invoke(initMetrics),

		catalog.Module,
		selector.Module,
		rule.Module,
		run.Module,
		pricechange.Module,
		idempotency.Module,
		connector.Module,
		audit.Module,
		outbox.Module,
		scheduler.Module,
		applier.Module,

		migration.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

func initMetrics(cfg config.Config) {
	metrics.PipelineWithConfig(metrics.Config{
		ServiceName: cfg.AppName + "-worker",
		Environment: cfg.Environment,
	})
}
