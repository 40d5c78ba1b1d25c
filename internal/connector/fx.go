package connector

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repricer/internal/config"
	"github.com/smallbiznis/repricer/internal/connector/domain"
	"github.com/smallbiznis/repricer/internal/connector/shoplite"
	"github.com/smallbiznis/repricer/internal/connector/static"
	"go.uber.org/fx"
)

func NewDefaultRegistry() *Registry {
	return NewRegistry(
		shoplite.NewFactory(),
		static.NewFactory(),
	)
}

// ProvideConnector builds the connector the apply worker pushes through,
// selected by CONNECTOR_PLATFORM.
func ProvideConnector(cfg config.Config, registry *Registry) (domain.Connector, error) {
	return registry.NewConnector(cfg.Connector.Platform, domain.ConnectorConfig{
		OrgID:         snowflake.ID(cfg.DefaultOrgID),
		BaseURL:       cfg.Connector.BaseURL,
		APIKey:        cfg.Connector.APIKey,
		SigningSecret: cfg.Connector.SigningSecret,
	})
}

var Module = fx.Module("connector",
	fx.Provide(NewDefaultRegistry),
	fx.Provide(ProvideConnector),
)
