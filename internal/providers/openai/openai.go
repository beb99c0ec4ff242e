// Package openai provides OpenAI API integration for the chat gateway.
package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"qcommander/config"
	"qcommander/internal/core"
	"qcommander/internal/pkg/llmclient"
	"qcommander/internal/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

func init() {
	// Self-register with the factory
	providers.Register("openai", func(cfg config.ProviderConfig) (core.Provider, error) {
		p := New(cfg.APIKey)
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
}

// Provider implements the core.Provider interface for OpenAI
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new OpenAI provider.
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey}
	p.client = llmclient.New(llmclient.DefaultConfig("openai", defaultBaseURL), p.setHeaders)
	return p
}

// NewWithHTTPClient creates a new OpenAI provider with a custom HTTP client.
// If httpClient is nil, http.DefaultClient is used.
func NewWithHTTPClient(apiKey string, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	p := &Provider{apiKey: apiKey}
	p.client = llmclient.NewWithHTTPClient(httpClient, llmclient.DefaultConfig("openai", defaultBaseURL), p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

// usesResponses reports whether the model should be called through the
// Responses API. Newer families (gpt-5, o-series, gpt-4o, gpt-4.1) expect it;
// older chat models stay on Chat Completions.
func usesResponses(model string) bool {
	m := strings.ToLower(model)
	if strings.HasPrefix(m, "gpt-5") || strings.HasPrefix(m, "gpt-4o") || strings.HasPrefix(m, "gpt-4.1") {
		return true
	}
	// o1, o3, o4 families; gpt-* handled above
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

// responsesRequest is the JSON body for the Responses API.
type responsesRequest struct {
	Model           string             `json:"model"`
	Instructions    string             `json:"instructions,omitempty"`
	Input           []responsesMessage `json:"input"`
	Stream          bool               `json:"stream,omitempty"`
	Temperature     *float64           `json:"temperature,omitempty"`
	MaxOutputTokens *int               `json:"max_output_tokens,omitempty"`
}

type responsesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responsesResponse is the subset of a Responses API result we consume.
type responsesResponse struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// text collects all output_text parts across output items.
func (r *responsesResponse) text() string {
	var sb strings.Builder
	for _, item := range r.Output {
		for _, c := range item.Content {
			if c.Type == "output_text" {
				sb.WriteString(c.Text)
			}
		}
	}
	return sb.String()
}

// toResponsesRequest splits the system message into instructions and maps the
// remaining messages to Responses input items.
func toResponsesRequest(req *core.ChatRequest, stream bool) *responsesRequest {
	out := &responsesRequest{
		Model:           req.Model,
		Stream:          stream,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			out.Instructions = msg.Content
			continue
		}
		out.Input = append(out.Input, responsesMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// Complete executes a one-shot completion, dispatching on the model's API shape.
func (p *Provider) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	if usesResponses(req.Model) {
		var resp responsesResponse
		err := p.client.Do(ctx, llmclient.Request{
			Method:   http.MethodPost,
			Endpoint: "/responses",
			Body:     toResponsesRequest(req, false),
		}, &resp)
		if err != nil {
			return nil, err
		}
		model := resp.Model
		if model == "" {
			model = req.Model
		}
		return &core.ChatResponse{
			ID:       resp.ID,
			Object:   "chat.completion",
			Model:    model,
			Provider: "openai",
			Created:  time.Now().Unix(),
			Choices: []core.Choice{{
				Index:        0,
				Message:      core.Message{Role: "assistant", Content: resp.text()},
				FinishReason: "stop",
			}},
			Usage: core.Usage{
				PromptTokens:     resp.Usage.InputTokens,
				CompletionTokens: resp.Usage.OutputTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}, nil
	}

	var resp core.ChatResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Provider = "openai"
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// Stream opens a streaming call, dispatching on the model's API shape.
func (p *Provider) Stream(ctx context.Context, req *core.ChatRequest) (core.DeltaStream, error) {
	if usesResponses(req.Model) {
		body, err := p.client.DoStream(ctx, llmclient.Request{
			Method:   http.MethodPost,
			Endpoint: "/responses",
			Body:     toResponsesRequest(req, true),
		})
		if err != nil {
			return nil, err
		}
		return providers.NewResponsesStream("openai", body), nil
	}

	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     req.WithStreaming(),
	})
	if err != nil {
		return nil, err
	}
	return providers.NewChatCompletionsStream("openai", body), nil
}
