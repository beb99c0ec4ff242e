// Package httpclient provides a centralized HTTP client factory for outbound
// provider calls.
package httpclient

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Config holds configuration options for creating HTTP clients
type Config struct {
	// Timeout specifies a time limit for requests made by the client.
	// Streaming responses are read incrementally, so this bounds the whole
	// stream, not just the headers.
	Timeout time.Duration

	// ResponseHeaderTimeout bounds the wait for a provider's response headers
	ResponseHeaderTimeout time.Duration

	// DialTimeout is the maximum amount of time a dial will wait for a connect
	DialTimeout time.Duration

	// MaxIdleConnsPerHost controls keep-alive connections kept per provider host
	MaxIdleConnsPerHost int
}

// envDuration reads a duration from an environment variable, returning the
// default if not set or invalid. Accepts plain integers (seconds) or Go
// duration strings (e.g. "90s", "10m").
func envDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return def
}

// DefaultConfig returns a Config with defaults suitable for LLM APIs.
// Overall timeout is generous because streamed generations can run long.
// Overridable via QC_HTTP_TIMEOUT and QC_HTTP_RESPONSE_HEADER_TIMEOUT
// (seconds or Go duration format).
func DefaultConfig() Config {
	return Config{
		Timeout:               envDuration("QC_HTTP_TIMEOUT", 600*time.Second),
		ResponseHeaderTimeout: envDuration("QC_HTTP_RESPONSE_HEADER_TIMEOUT", 120*time.Second),
		DialTimeout:           30 * time.Second,
		MaxIdleConnsPerHost:   32,
	}
}

// New creates a new HTTP client with the provided configuration.
func New(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// Default creates a new HTTP client with default configuration.
func Default() *http.Client {
	return New(DefaultConfig())
}
