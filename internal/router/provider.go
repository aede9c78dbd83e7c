// Package router resolves a canonical model name to a primary provider route
// and at most one fallback, and tracks provider availability.
package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/af-corp/meridian-gateway/internal/config"
	"github.com/af-corp/meridian-gateway/internal/router/adapters"
	"github.com/af-corp/meridian-gateway/internal/types"
)

// Registry holds the configured provider adapters. The set is fixed at
// startup.
type Registry struct {
	adapters map[string]adapters.ProviderAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]adapters.ProviderAdapter)}
}

func (r *Registry) Register(name string, adapter adapters.ProviderAdapter) {
	r.adapters[name] = adapter
}

func (r *Registry) Get(name string) (adapters.ProviderAdapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// BuildFromConfig constructs an adapter per configured provider, each with
// its own HTTP client.
func BuildFromConfig(provCfg *config.ProvidersConfig) *Registry {
	registry := NewRegistry()
	for name, cfg := range provCfg.Providers {
		client := &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxConcurrent,
				MaxIdleConnsPerHost: cfg.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		var adapter adapters.ProviderAdapter
		switch cfg.Type {
		case "anthropic":
			adapter = adapters.NewAnthropicAdapter(name, cfg, client)
		case "openai":
			adapter = adapters.NewOpenAIAdapter(name, cfg, client)
		default:
			// Unknown types are treated as OpenAI-compatible.
			adapter = adapters.NewOpenAIAdapter(name, cfg, client)
		}
		registry.Register(name, adapter)
	}
	return registry
}

// Route is one resolved (adapter, vendor model) pair.
type Route struct {
	Adapter  adapters.ProviderAdapter
	Provider string
	Model    string
}

// Resolver turns a request's generation config into a primary route plus an
// optional fallback route.
type Resolver struct {
	models   *config.ModelsConfig
	registry *Registry
	health   *HealthTracker
}

func NewResolver(models *config.ModelsConfig, registry *Registry, health *HealthTracker) *Resolver {
	return &Resolver{models: models, registry: registry, health: health}
}

// Resolve picks the routes for a request. An explicit provider in the config
// pins the request to that provider with no fallback. Otherwise the model
// mapping decides; when the primary's breaker is open and a fallback exists,
// the fallback is promoted and the primary is skipped.
func (r *Resolver) Resolve(cfg types.GenerationConfig) (Route, *Route, error) {
	if cfg.Provider != "" {
		adapter, ok := r.registry.Get(cfg.Provider)
		if !ok {
			return Route{}, nil, types.NewGatewayError(types.ErrInvalidRequest, cfg.Provider,
				fmt.Sprintf("unknown provider: %s", cfg.Provider), nil)
		}
		return Route{Adapter: adapter, Provider: cfg.Provider, Model: cfg.Model}, nil, nil
	}

	mapping, ok := r.models.Models[cfg.Model]
	if !ok {
		return Route{}, nil, types.NewGatewayError(types.ErrInvalidRequest, "",
			fmt.Sprintf("unknown model: %s", cfg.Model), nil)
	}

	primary, perr := r.route(mapping.Primary)
	var fallback *Route
	if mapping.Fallback != nil {
		if fb, err := r.route(*mapping.Fallback); err == nil {
			fallback = &fb
		}
	}

	if perr != nil {
		// Primary provider is not configured at all; promote the fallback.
		if fallback != nil {
			return *fallback, nil, nil
		}
		return Route{}, nil, perr
	}

	if !r.health.Available(primary.Provider) && fallback != nil &&
		r.health.Available(fallback.Provider) {
		return *fallback, nil, nil
	}

	return primary, fallback, nil
}

func (r *Resolver) route(route config.ProviderRoute) (Route, error) {
	adapter, ok := r.registry.Get(route.Provider)
	if !ok {
		return Route{}, types.NewGatewayError(types.ErrInvalidRequest, route.Provider,
			fmt.Sprintf("model routes to unconfigured provider: %s", route.Provider), nil)
	}
	return Route{Adapter: adapter, Provider: route.Provider, Model: route.Model}, nil
}
