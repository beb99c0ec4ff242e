// Package server provides HTTP handlers and server setup for the chat
// gateway: SSE and WebSocket streaming, runtime configuration, and bot
// profile management.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"qcommander/internal/bots"
	"qcommander/internal/configstore"
	"qcommander/internal/core"
	"qcommander/internal/orchestrator"
	"qcommander/internal/providers"
)

// Handler holds the HTTP handlers
type Handler struct {
	orch      *orchestrator.Orchestrator
	providers *providers.Set
	settings  *configstore.Store
	bots      *bots.Store
	port      string
}

// NewHandler creates a new handler with the given collaborators
func NewHandler(deps Deps, port string) *Handler {
	return &Handler{
		orch:      deps.Orchestrator,
		providers: deps.Providers,
		settings:  deps.Settings,
		bots:      deps.Bots,
		port:      port,
	}
}

// turnRequest is one chat submission, arriving either as query parameters
// (SSE GET, WS query) or a JSON body (SSE POST, WS frames).
type turnRequest struct {
	Message      string   `json:"message" query:"message"`
	Provider     string   `json:"provider" query:"provider"`
	Model        string   `json:"model" query:"model"`
	Temperature  *float64 `json:"temperature" query:"temperature"`
	MaxTokens    *int     `json:"max_tokens" query:"max_tokens"`
	BotID        string   `json:"bot_id" query:"bot_id"`
	SystemPrompt string   `json:"system_prompt" query:"system_prompt"`
}

// buildTurn validates a submission and resolves it into a runnable Turn:
// bot profile overrides are merged (explicit values win), then missing
// provider/model fall back to the runtime settings and finally the
// provider profile's default model.
func (h *Handler) buildTurn(ctx context.Context, tr turnRequest) (*orchestrator.Turn, *core.GatewayError) {
	if tr.Message == "" {
		return nil, core.NewInvalidRequestError("message must not be empty", nil)
	}

	req := &core.ChatRequest{
		Temperature: tr.Temperature,
		MaxTokens:   tr.MaxTokens,
	}
	if tr.SystemPrompt != "" {
		req.Messages = append(req.Messages, core.Message{Role: "system", Content: tr.SystemPrompt})
	}
	req.Messages = append(req.Messages, core.Message{Role: "user", Content: tr.Message})

	provider, model := tr.Provider, tr.Model
	if tr.BotID != "" {
		bot, err := h.bots.Get(ctx, tr.BotID)
		if errors.Is(err, bots.ErrNotFound) {
			return nil, core.NewInvalidRequestError("unknown bot_id: "+tr.BotID, nil)
		}
		if err != nil {
			return nil, core.NewProviderError("", 0, "bot lookup failed", err)
		}
		provider, model = bots.ApplyOverrides(bot, provider, model, req)
	}

	merged := h.settings.Merged()
	if provider == "" {
		provider = merged.Provider
	}
	if model == "" {
		model = merged.Model
	}
	if model == "" {
		if profile, ok := providers.Lookup(provider); ok {
			model = profile.DefaultModel
		}
	}
	if provider == "" {
		return nil, core.NewInvalidRequestError("no provider selected and no default configured", nil)
	}

	req.Model = model
	return orchestrator.NewTurn(provider, model, req), nil
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	s := h.settings.Merged()
	ready, reason := h.providers.Ready(s.Provider)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"provider":        s.Provider,
		"model":           s.Model,
		"provider_ready":  ready,
		"provider_reason": reason,
	})
}

// GetConfig handles GET /assistant/config
func (h *Handler) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, h.configView())
}

// PatchConfig handles PATCH /assistant/config. Only provider, model, and
// preferredTransport are mutable; everything else in the view is read-only.
func (h *Handler) PatchConfig(c echo.Context) error {
	var p configstore.Patch
	if err := c.Bind(&p); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	if p.Provider != nil {
		if _, ok := providers.Lookup(*p.Provider); !ok {
			return handleError(c, core.NewUnknownProviderError(*p.Provider))
		}
	}
	if _, err := h.settings.Apply(p); err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	return c.JSON(http.StatusOK, h.configView())
}

// configView is the merged config plus read-only server metadata.
func (h *Handler) configView() map[string]interface{} {
	s := h.settings.Merged()
	ready, reason := h.providers.Ready(s.Provider)
	return map[string]interface{}{
		"provider":           s.Provider,
		"model":              s.Model,
		"preferredTransport": s.PreferredTransport,
		"server_port":        h.port,
		"provider_ready":     ready,
		"provider_reason":    reason,
	}
}

// ListBots handles GET /bots
func (h *Handler) ListBots(c echo.Context) error {
	list, err := h.bots.List(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// CreateBot handles POST /bots
func (h *Handler) CreateBot(c echo.Context) error {
	var b bots.Bot
	if err := c.Bind(&b); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	created, err := h.bots.Create(c.Request().Context(), b)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	return c.JSON(http.StatusCreated, created)
}

// GetBot handles GET /bots/:id
func (h *Handler) GetBot(c echo.Context) error {
	b, err := h.bots.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// UpdateBot handles PATCH /bots/:id
func (h *Handler) UpdateBot(c echo.Context) error {
	var p bots.Patch
	if err := c.Bind(&p); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	b, err := h.bots.Update(c.Request().Context(), c.Param("id"), p)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// DeleteBot handles DELETE /bots/:id
func (h *Handler) DeleteBot(c echo.Context) error {
	if err := h.bots.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	if errors.Is(err, bots.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": map[string]interface{}{
				"type":    "not_found",
				"message": err.Error(),
			},
		})
	}

	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
