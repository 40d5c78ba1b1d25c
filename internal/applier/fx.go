package applier

import (
	"context"

	"github.com/smallbiznis/repricer/internal/lease"
	"go.uber.org/fx"
)

var Module = fx.Module("applier",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(StartWorker),
)

func StartWorker(lc fx.Lifecycle, worker *Worker, guard *lease.Guard) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			loopCtx, cancel := context.WithCancel(context.Background())

			go guard.Run(loopCtx, "apply-worker", worker.RunForever)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
