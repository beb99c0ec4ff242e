// Package configstore persists the small set of runtime settings a client may
// change at runtime: active provider, active model, and preferred transport.
// Settings live in a JSON file under the data directory and are written
// atomically so a crash mid-write can never leave a torn file behind.
package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TransportSSE and TransportWS are the accepted preferredTransport values.
const (
	TransportSSE = "sse"
	TransportWS  = "ws"
)

// Settings is the client-mutable slice of gateway configuration.
type Settings struct {
	Provider           string `json:"provider,omitempty"`
	Model              string `json:"model,omitempty"`
	PreferredTransport string `json:"preferredTransport,omitempty"`
}

// Patch is a partial settings update; nil fields are left untouched.
type Patch struct {
	Provider           *string `json:"provider"`
	Model              *string `json:"model"`
	PreferredTransport *string `json:"preferredTransport"`
}

// Store holds defaults from the environment plus persisted overrides.
// Safe for concurrent use.
type Store struct {
	path     string
	defaults Settings

	mu        sync.Mutex
	overrides Settings
}

// New opens (or initializes) the store at dir/config.json. A missing or
// unreadable file starts with empty overrides; a corrupt file is an error so
// silent data loss can't go unnoticed.
func New(dir string, defaults Settings) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{path: filepath.Join(dir, "config.json"), defaults: defaults}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &s.overrides); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return s, nil
}

// Merged returns the effective settings: persisted overrides on top of the
// environment defaults.
func (s *Store) Merged() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.defaults
	if s.overrides.Provider != "" {
		out.Provider = s.overrides.Provider
	}
	if s.overrides.Model != "" {
		out.Model = s.overrides.Model
	}
	if s.overrides.PreferredTransport != "" {
		out.PreferredTransport = s.overrides.PreferredTransport
	}
	return out
}

// Apply validates and persists a patch, returning the new effective settings.
func (s *Store) Apply(p Patch) (Settings, error) {
	if p.PreferredTransport != nil {
		if t := *p.PreferredTransport; t != TransportSSE && t != TransportWS {
			return Settings{}, fmt.Errorf("preferredTransport must be %q or %q, got %q", TransportSSE, TransportWS, t)
		}
	}
	if p.Provider != nil && *p.Provider == "" {
		return Settings{}, errors.New("provider must not be empty")
	}
	if p.Model != nil && *p.Model == "" {
		return Settings{}, errors.New("model must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.overrides
	if p.Provider != nil {
		next.Provider = *p.Provider
	}
	if p.Model != nil {
		next.Model = *p.Model
	}
	if p.PreferredTransport != nil {
		next.PreferredTransport = *p.PreferredTransport
	}

	if err := s.write(next); err != nil {
		return Settings{}, err
	}
	s.overrides = next

	out := s.defaults
	if next.Provider != "" {
		out.Provider = next.Provider
	}
	if next.Model != "" {
		out.Model = next.Model
	}
	if next.PreferredTransport != "" {
		out.PreferredTransport = next.PreferredTransport
	}
	return out, nil
}

// write persists settings via temp-file-and-rename so readers never observe a
// partially written file.
func (s *Store) write(v Settings) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
