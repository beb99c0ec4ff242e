// Package core defines the core interfaces and types for the chat gateway.
package core

import (
	"context"
)

// Provider defines the interface for LLM providers. Implementations shape the
// normalized request into the provider's wire format (Chat Completions,
// Responses API, or Anthropic Messages) and back.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string

	// Complete executes a one-shot chat completion request.
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream opens a streaming call and returns a lazy sequence of text
	// fragments. The caller must close the stream; cancelling ctx aborts
	// the underlying network call.
	Stream(ctx context.Context, req *ChatRequest) (DeltaStream, error)
}

// DeltaStream is a pull iterator over incremental text fragments.
// Next blocks until a fragment is available and returns io.EOF at the
// provider's end-of-stream. Close releases the network resource and is safe
// to call concurrently with Next.
type DeltaStream interface {
	Next() (string, error)
	Close() error
}
