package orchestrator

import (
	"sync"

	"github.com/google/uuid"

	"qcommander/internal/core"
)

// Turn is one request/response exchange, from submission to terminal outcome.
type Turn struct {
	ID       string
	Provider string
	Model    string
	Request  *core.ChatRequest

	mu    sync.Mutex
	state core.TurnState
}

// NewTurn creates a pending turn with a fresh identifier.
func NewTurn(provider, model string, req *core.ChatRequest) *Turn {
	return &Turn{
		ID:       uuid.NewString(),
		Provider: provider,
		Model:    model,
		Request:  req,
		state:    core.TurnPending,
	}
}

// State returns the turn's current lifecycle state.
func (t *Turn) State() core.TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// setState transitions the turn. Terminal states are sticky: once reached,
// later transitions are ignored.
func (t *Turn) setState(s core.TurnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = s
}
