package core

// ChatRequest is the normalized request shape sent to a provider for one turn.
type ChatRequest struct {
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
}

// WithStreaming returns a shallow copy of the request with Stream set to true.
// This avoids mutating the caller's request object.
func (r *ChatRequest) WithStreaming() *ChatRequest {
	return &ChatRequest{
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		Model:       r.Model,
		Messages:    r.Messages,
		Stream:      true,
	}
}

// Message represents a single message in the chat
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the normalized one-shot completion result.
type ChatResponse struct {
	ID       string   `json:"id"`
	Object   string   `json:"object"`
	Model    string   `json:"model"`
	Provider string   `json:"provider"`
	Choices  []Choice `json:"choices"`
	Usage    Usage    `json:"usage"`
	Created  int64    `json:"created"`
}

// Text returns the content of the first choice, or "" if there are no choices.
func (r *ChatResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Choice represents a single completion choice
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
	Index        int     `json:"index"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TurnState is the lifecycle state of a single chat turn.
type TurnState string

const (
	TurnPending     TurnState = "pending"
	TurnStreaming   TurnState = "streaming"
	TurnFallingBack TurnState = "falling-back"
	TurnCompleted   TurnState = "completed"
	TurnCancelled   TurnState = "cancelled"
	TurnFailed      TurnState = "failed"
)

// Terminal reports whether the state is one of the three terminal outcomes.
func (s TurnState) Terminal() bool {
	return s == TurnCompleted || s == TurnCancelled || s == TurnFailed
}

// Frame is one incremental unit of generated text within a streaming turn.
// Seq is strictly increasing within a turn, starting at 1. Final marks the
// last frame before the terminal event.
type Frame struct {
	Seq   int    `json:"seq"`
	Delta string `json:"delta"`
	Final bool   `json:"final,omitempty"`
}
