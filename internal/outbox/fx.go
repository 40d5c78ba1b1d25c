package outbox

import (
	"context"

	"github.com/smallbiznis/repricer/internal/lease"
	"github.com/smallbiznis/repricer/internal/outbox/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("outbox",
	fx.Provide(ProvideConfig),
	fx.Provide(repository.Provide),
	fx.Provide(NewPublisher),
	fx.Provide(
		fx.Annotate(
			NewLogSubscriber,
			fx.ResultTags(`group:"outbox.subscribers"`),
		),
	),
	fx.Provide(NewDispatcher),
	fx.Invoke(StartDispatcher),
)

func StartDispatcher(lc fx.Lifecycle, disp *Dispatcher, guard *lease.Guard, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			loopCtx, cancel := context.WithCancel(context.Background())

			go guard.Run(loopCtx, "outbox-dispatcher", disp.RunForever)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
	log.Info("outbox dispatcher registered")
}
