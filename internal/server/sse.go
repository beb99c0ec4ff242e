package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"qcommander/internal/core"
	"qcommander/internal/orchestrator"
)

// AssistantSSE handles GET /assistant/sse: one prompt in via query
// parameters, one turn streamed out as Server-Sent Events.
func (h *Handler) AssistantSSE(c echo.Context) error {
	var tr turnRequest
	if err := c.Bind(&tr); err != nil {
		return h.streamError(c, core.NewInvalidRequestError("invalid query parameters: "+err.Error(), err))
	}
	return h.streamTurn(c, tr)
}

// SubmitSSE handles POST /sse: same event sequence as the GET form, with the
// submission in a JSON body.
func (h *Handler) SubmitSSE(c echo.Context) error {
	var tr turnRequest
	if err := c.Bind(&tr); err != nil {
		return h.streamError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	return h.streamTurn(c, tr)
}

// streamTurn runs one turn and writes its event sequence:
// meta, zero or more deltas, then exactly one of done/error/cancelled.
func (h *Handler) streamTurn(c echo.Context, tr turnRequest) error {
	turn, gerr := h.buildTurn(c.Request().Context(), tr)
	if gerr != nil {
		return h.streamError(c, gerr)
	}

	res := beginEventStream(c)
	writeEvent(res, "meta", map[string]interface{}{
		"id":       turn.ID,
		"provider": turn.Provider,
		"model":    turn.Model,
	})

	for ev := range h.orch.Run(c.Request().Context(), turn) {
		switch ev.Type {
		case orchestrator.EventDelta:
			writeEvent(res, "delta", ev.Frame)
		case orchestrator.EventDone:
			writeEvent(res, "done", map[string]interface{}{"ok": true})
		case orchestrator.EventError:
			writeEvent(res, "error", ev.Err.ToJSON()["error"])
		case orchestrator.EventCancelled:
			writeEvent(res, "cancelled", map[string]interface{}{"id": turn.ID})
		}
	}
	return nil
}

// streamError emits the single terminal error event for input that never
// reaches the orchestrator.
func (h *Handler) streamError(c echo.Context, gerr *core.GatewayError) error {
	res := beginEventStream(c)
	writeEvent(res, "error", gerr.ToJSON()["error"])
	return nil
}

func beginEventStream(c echo.Context) *echo.Response {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	return res
}

// writeEvent writes one SSE event and flushes it so frames reach the client
// as they happen, not when the turn ends.
func writeEvent(res *echo.Response, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, data)
	res.Flush()
}
