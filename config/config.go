// Package config provides configuration management for the gateway. The
// configuration is loaded once at startup into an immutable snapshot and
// injected into components; nothing reads the environment ad hoc afterwards.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig
	Stream    StreamConfig
	Providers map[string]ProviderConfig

	// PreferredTransport is the client-facing default: "sse" or "ws"
	PreferredTransport string

	// DataDir holds the bots database, persisted config, and auth token file
	DataDir string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string
	Token          string // auth token for config mutation; generated if empty
	MetricsEnabled bool
	BodySizeLimit  int64
}

// StreamConfig holds streaming/fallback tuning for the orchestrator
type StreamConfig struct {
	// FirstChunkTimeout bounds the wait for the first delta frame before
	// falling back to a one-shot call
	FirstChunkTimeout time.Duration

	// FrameBuffer is the per-turn bounded frame channel capacity
	FrameBuffer int
}

// ProviderConfig holds per-provider construction parameters
type ProviderConfig struct {
	Type    string
	APIKey  string
	BaseURL string
	Model   string
}

// DefaultBodySizeLimit caps request bodies at 1MB; chat submissions are small.
const DefaultBodySizeLimit int64 = 1 << 20

// Load reads configuration from the environment (and an optional .env file)
// using Viper and returns an immutable snapshot.
func Load() (*Config, error) {
	v := viper.New()

	// Optional .env file in the working directory
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // missing .env is fine

	v.SetDefault("QC_PORT", "18000")
	v.SetDefault("QC_FIRST_CHUNK_TIMEOUT", "10s")
	v.SetDefault("QC_FRAME_BUFFER", 32)
	v.SetDefault("QC_PREFERRED_TRANSPORT", "sse")
	v.SetDefault("QC_DATA_DIR", "data")
	v.SetDefault("QC_METRICS", false)
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest")
	v.SetDefault("GROQ_MODEL", "llama-3.1-70b-versatile")
	v.SetDefault("DEEPSEEK_MODEL", "deepseek-reasoner")
	v.SetDefault("DEEPSEEK_BASE_URL", "https://api.deepseek.com")

	v.AutomaticEnv()

	timeout, err := time.ParseDuration(v.GetString("QC_FIRST_CHUNK_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid QC_FIRST_CHUNK_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("QC_FIRST_CHUNK_TIMEOUT must be positive")
	}

	transport := v.GetString("QC_PREFERRED_TRANSPORT")
	if transport != "sse" && transport != "ws" {
		return nil, fmt.Errorf("QC_PREFERRED_TRANSPORT must be 'sse' or 'ws', got %q", transport)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("QC_PORT"),
			Token:          v.GetString("QC_TOKEN"),
			MetricsEnabled: v.GetBool("QC_METRICS"),
			BodySizeLimit:  DefaultBodySizeLimit,
		},
		Stream: StreamConfig{
			FirstChunkTimeout: timeout,
			FrameBuffer:       v.GetInt("QC_FRAME_BUFFER"),
		},
		PreferredTransport: transport,
		DataDir:            v.GetString("QC_DATA_DIR"),
		Providers:          buildProviders(v),
	}

	return cfg, nil
}

// buildProviders creates a ProviderConfig for every provider whose API key is
// present in the environment. Providers without keys are simply absent; the
// provider set reports MissingCredential on lookup.
func buildProviders(v *viper.Viper) map[string]ProviderConfig {
	out := make(map[string]ProviderConfig)

	if key := v.GetString("OPENAI_API_KEY"); key != "" {
		out["openai"] = ProviderConfig{
			Type:    "openai",
			APIKey:  key,
			BaseURL: v.GetString("OPENAI_BASE_URL"),
			Model:   v.GetString("OPENAI_MODEL"),
		}
	}
	if key := v.GetString("ANTHROPIC_API_KEY"); key != "" {
		out["anthropic"] = ProviderConfig{
			Type:    "anthropic",
			APIKey:  key,
			BaseURL: v.GetString("ANTHROPIC_BASE_URL"),
			Model:   v.GetString("ANTHROPIC_MODEL"),
		}
	}
	if key := v.GetString("GROQ_API_KEY"); key != "" {
		out["groq"] = ProviderConfig{
			Type:    "groq",
			APIKey:  key,
			BaseURL: v.GetString("GROQ_BASE_URL"),
			Model:   v.GetString("GROQ_MODEL"),
		}
	}
	if key := v.GetString("DEEPSEEK_API_KEY"); key != "" {
		out["deepseek"] = ProviderConfig{
			Type:    "deepseek",
			APIKey:  key,
			BaseURL: v.GetString("DEEPSEEK_BASE_URL"),
			Model:   v.GetString("DEEPSEEK_MODEL"),
		}
	}

	return out
}
