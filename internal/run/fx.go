package run

import (
	"github.com/smallbiznis/repricer/internal/run/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("run",
	fx.Provide(repository.Provide),
)
