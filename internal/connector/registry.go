package connector

import (
	"strings"

	"github.com/smallbiznis/repricer/internal/connector/domain"
)

type Registry struct {
	factories map[string]domain.Factory
}

func NewRegistry(factories ...domain.Factory) *Registry {
	registry := &Registry{factories: map[string]domain.Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		platform := strings.ToLower(strings.TrimSpace(factory.Platform()))
		if platform == "" {
			continue
		}
		registry.factories[platform] = factory
	}
	return registry
}

func (r *Registry) PlatformExists(platform string) bool {
	if r == nil {
		return false
	}
	platform = strings.ToLower(strings.TrimSpace(platform))
	_, ok := r.factories[platform]
	return ok
}

func (r *Registry) NewConnector(platform string, cfg domain.ConnectorConfig) (domain.Connector, error) {
	if r == nil {
		return nil, domain.ErrPlatformNotFound
	}
	platform = strings.ToLower(strings.TrimSpace(platform))
	factory, ok := r.factories[platform]
	if !ok {
		return nil, domain.ErrPlatformNotFound
	}
	return factory.NewConnector(cfg)
}
