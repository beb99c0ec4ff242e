package providers

import (
	"log/slog"
	"sort"
	"sync"

	"qcommander/config"
	"qcommander/internal/core"
)

// Set resolves provider names to constructed Provider instances. Providers
// are built once at startup from configuration; lookups afterwards are
// read-only and safe for concurrent use.
type Set struct {
	mu        sync.RWMutex
	providers map[string]core.Provider
}

// NewSet constructs providers for every configured credential via the factory.
// Providers whose construction fails are skipped with a warning so one bad
// entry cannot take down the gateway.
func NewSet(cfg *config.Config) *Set {
	s := &Set{providers: make(map[string]core.Provider)}

	for name, pc := range cfg.Providers {
		p, err := Create(pc)
		if err != nil {
			slog.Warn("skipping provider", "provider", name, "error", err)
			continue
		}
		s.providers[name] = p
		slog.Info("provider registered", "provider", name, "model", pc.Model)
	}

	return s
}

// Get resolves a provider name. It fails with UnknownProvider when the name
// has no profile, and with MissingCredential when the profile exists but no
// API key was configured.
func (s *Set) Get(name string) (core.Provider, *core.GatewayError) {
	s.mu.RLock()
	p, ok := s.providers[name]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	profile, known := Lookup(name)
	if !known {
		return nil, core.NewUnknownProviderError(name)
	}
	return nil, core.NewMissingCredentialError(name, profile.CredentialEnv)
}

// Ready reports whether a provider is configured and usable.
func (s *Set) Ready(name string) (bool, string) {
	if _, err := s.Get(name); err != nil {
		return false, err.Message
	}
	return true, ""
}

// Names returns the configured provider names, sorted.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.providers))
	for n := range s.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// add is used by tests to inject fake providers.
func (s *Set) add(name string, p core.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[name] = p
}

// NewSetWith builds a Set from explicit providers, bypassing the factory.
// Intended for tests.
func NewSetWith(ps ...core.Provider) *Set {
	s := &Set{providers: make(map[string]core.Provider)}
	for _, p := range ps {
		s.add(p.Name(), p)
	}
	return s
}
