package pricechange

import (
	"github.com/smallbiznis/repricer/internal/pricechange/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("pricechange",
	fx.Provide(repository.Provide),
)
