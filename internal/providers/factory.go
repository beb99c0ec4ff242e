// Package providers provides provider profiles, a construction factory, and
// the provider set used to resolve a turn's provider name.
package providers

import (
	"fmt"
	"sort"

	"qcommander/config"
	"qcommander/internal/core"
)

// Builder creates a provider instance from configuration
type Builder func(cfg config.ProviderConfig) (core.Provider, error)

// registry holds all registered provider builders
var registry = make(map[string]Builder)

// Register allows provider packages to register themselves.
// This should be called from init() functions in provider packages.
func Register(providerType string, builder Builder) {
	registry[providerType] = builder
}

// Create instantiates a provider based on configuration
func Create(cfg config.ProviderConfig) (core.Provider, error) {
	builder, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
	return builder(cfg)
}

// ListRegistered returns a sorted list of all registered provider types
func ListRegistered() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
