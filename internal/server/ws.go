package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"qcommander/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway binds to localhost for a local client; cross-origin
	// browser pages are not part of the threat model.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsCloseWait = 5 * time.Second

// wsIncoming is one client frame: either a chat submission or a cancel
// request for an in-flight turn.
type wsIncoming struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	turnRequest
}

// wsWriter serializes writes to one connection. Turn goroutines and the read
// loop both send; gorilla/websocket allows only one concurrent writer.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// AssistantWS handles GET /assistant/ws. Each JSON (or plain text) frame
// submits one turn; the connection multiplexes turn output messages tagged
// with the turn id, and accepts {"type":"cancel","id":...} frames to abort a
// specific turn without dropping the connection.
func (h *Handler) AssistantWS(c echo.Context) error {
	provider := c.QueryParam("provider")
	model := c.QueryParam("model")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if provider == "" || model == "" {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation,
			"provider and model query params are required")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseWait))
		return nil
	}

	ctx, cancelConn := context.WithCancel(c.Request().Context())
	defer cancelConn()

	w := &wsWriter{conn: conn}
	var wg sync.WaitGroup

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		in := parseWSFrame(data)
		if in.Type == "cancel" {
			h.orch.Registry().Cancel(in.ID)
			continue
		}

		// Connection query params are the defaults; frame fields override.
		tr := in.turnRequest
		if tr.Provider == "" {
			tr.Provider = provider
		}
		if tr.Model == "" {
			tr.Model = model
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			h.runWSTurn(ctx, w, tr)
		}()
	}

	cancelConn()
	wg.Wait()
	return nil
}

// parseWSFrame decodes a JSON object frame; anything else is treated as a
// bare prompt.
func parseWSFrame(data []byte) wsIncoming {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var in wsIncoming
		if err := json.Unmarshal(trimmed, &in); err == nil {
			return in
		}
	}
	return wsIncoming{turnRequest: turnRequest{Message: string(data)}}
}

// runWSTurn executes one turn and relays its event sequence. Write failures
// are ignored; a dead connection surfaces in the read loop, which cancels
// the shared context.
func (h *Handler) runWSTurn(ctx context.Context, w *wsWriter, tr turnRequest) {
	turn, gerr := h.buildTurn(ctx, tr)
	if gerr != nil {
		_ = w.send(map[string]interface{}{"type": "error", "error": gerr.ToJSON()["error"]})
		return
	}

	_ = w.send(map[string]interface{}{
		"type":     "meta",
		"id":       turn.ID,
		"provider": turn.Provider,
		"model":    turn.Model,
	})

	for ev := range h.orch.Run(ctx, turn) {
		switch ev.Type {
		case orchestrator.EventDelta:
			_ = w.send(map[string]interface{}{
				"type":  "delta",
				"id":    turn.ID,
				"seq":   ev.Frame.Seq,
				"delta": ev.Frame.Delta,
				"final": ev.Frame.Final,
			})
		case orchestrator.EventDone:
			_ = w.send(map[string]interface{}{"type": "done", "id": turn.ID, "ok": true})
		case orchestrator.EventError:
			_ = w.send(map[string]interface{}{"type": "error", "id": turn.ID, "error": ev.Err.ToJSON()["error"]})
		case orchestrator.EventCancelled:
			_ = w.send(map[string]interface{}{"type": "cancelled", "id": turn.ID})
		}
	}
}
