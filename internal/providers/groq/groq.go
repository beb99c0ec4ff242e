// Package groq provides Groq API integration for the chat gateway.
package groq

import (
	"context"
	"net/http"

	"qcommander/config"
	"qcommander/internal/core"
	"qcommander/internal/pkg/llmclient"
	"qcommander/internal/providers"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

func init() {
	providers.Register("groq", func(cfg config.ProviderConfig) (core.Provider, error) {
		p := New(cfg.APIKey)
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
}

// Provider implements the core.Provider interface for Groq. Groq exposes an
// OpenAI-compatible Chat Completions API, so requests pass through unshaped.
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Groq provider.
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey}
	p.client = llmclient.New(llmclient.DefaultConfig("groq", defaultBaseURL), p.setHeaders)
	return p
}

// NewWithHTTPClient creates a new Groq provider with a custom HTTP client.
func NewWithHTTPClient(apiKey string, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	p := &Provider{apiKey: apiKey}
	p.client = llmclient.NewWithHTTPClient(httpClient, llmclient.DefaultConfig("groq", defaultBaseURL), p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "groq" }

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

// Complete sends a one-shot chat completion request to Groq.
func (p *Provider) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	var resp core.ChatResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Provider = "groq"
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// Stream opens a streaming chat completion call.
func (p *Provider) Stream(ctx context.Context, req *core.ChatRequest) (core.DeltaStream, error) {
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     req.WithStreaming(),
	})
	if err != nil {
		return nil, err
	}
	return providers.NewChatCompletionsStream("groq", body), nil
}
