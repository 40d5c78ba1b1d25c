package rule

import (
	"github.com/smallbiznis/repricer/internal/rule/repository"
	"github.com/smallbiznis/repricer/internal/rule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rule.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
