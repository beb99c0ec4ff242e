package providers

import (
	"bufio"
	"io"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"qcommander/internal/core"
)

// sseEvent is one parsed server-sent event from a provider stream.
type sseEvent struct {
	name string
	data string
}

// sseScanner incrementally parses SSE events off a provider response body.
// It tolerates comment lines and multi-line data fields.
type sseScanner struct {
	scanner *bufio.Scanner
}

func newSSEScanner(r io.Reader) *sseScanner {
	sc := bufio.NewScanner(r)
	// Provider chunks are small, but tool-call payloads can be large.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseScanner{scanner: sc}
}

// next returns the next event, or an error (io.EOF at end of stream).
// Events with no data field are skipped.
func (s *sseScanner) next() (sseEvent, error) {
	var ev sseEvent
	var data []string

	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				ev.data = strings.Join(data, "\n")
				return ev, nil
			}
			ev.name = ""
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return ev, err
	}
	// Flush a dangling event missing its trailing blank line.
	if len(data) > 0 {
		ev.data = strings.Join(data, "\n")
		return ev, nil
	}
	return ev, io.EOF
}

// deltaFunc extracts a text fragment from one SSE event. It returns
// io.EOF when the event marks end-of-stream, and skip=true for events
// carrying no text.
type deltaFunc func(ev sseEvent) (text string, skip bool, err error)

// deltaStream adapts a provider SSE body into a core.DeltaStream using a
// shape-specific extractor.
type deltaStream struct {
	body    io.ReadCloser
	scanner *sseScanner
	extract deltaFunc
	closed  atomic.Bool
}

func newDeltaStream(body io.ReadCloser, extract deltaFunc) *deltaStream {
	return &deltaStream{
		body:    body,
		scanner: newSSEScanner(body),
		extract: extract,
	}
}

func (s *deltaStream) Next() (string, error) {
	for {
		if s.closed.Load() {
			return "", io.EOF
		}
		ev, err := s.scanner.next()
		if err != nil {
			if s.closed.Load() {
				// Close raced with a blocking read; treat as normal end.
				return "", io.EOF
			}
			return "", err
		}
		text, skip, err := s.extract(ev)
		if err != nil {
			return "", err
		}
		if skip {
			continue
		}
		return text, nil
	}
}

func (s *deltaStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.body.Close()
}

// NewChatCompletionsStream decodes an OpenAI-compatible chat.completion.chunk
// SSE body into text deltas. Used by the openai, groq, and deepseek providers.
func NewChatCompletionsStream(provider string, body io.ReadCloser) core.DeltaStream {
	return newDeltaStream(body, func(ev sseEvent) (string, bool, error) {
		if ev.data == "[DONE]" {
			return "", false, io.EOF
		}
		if e := gjson.Get(ev.data, "error.message"); e.Exists() {
			return "", false, core.NewProviderError(provider, 0, e.String(), nil)
		}
		delta := gjson.Get(ev.data, "choices.0.delta.content").String()
		if delta == "" {
			// role-only chunks, finish_reason chunks, usage frames
			return "", true, nil
		}
		return delta, false, nil
	})
}

// NewAnthropicMessagesStream decodes an Anthropic Messages API SSE body into
// text deltas (content_block_delta events).
func NewAnthropicMessagesStream(body io.ReadCloser) core.DeltaStream {
	return newDeltaStream(body, func(ev sseEvent) (string, bool, error) {
		typ := ev.name
		if typ == "" {
			typ = gjson.Get(ev.data, "type").String()
		}
		switch typ {
		case "content_block_delta":
			text := gjson.Get(ev.data, "delta.text").String()
			if text == "" {
				return "", true, nil
			}
			return text, false, nil
		case "message_stop":
			return "", false, io.EOF
		case "error":
			return "", false, core.NewProviderError("anthropic", 0,
				gjson.Get(ev.data, "error.message").String(), nil)
		default:
			// message_start, content_block_start/stop, message_delta, ping
			return "", true, nil
		}
	})
}

// NewResponsesStream decodes an OpenAI Responses API SSE body into text
// deltas (response.output_text.delta events).
func NewResponsesStream(provider string, body io.ReadCloser) core.DeltaStream {
	return newDeltaStream(body, func(ev sseEvent) (string, bool, error) {
		if ev.data == "[DONE]" {
			return "", false, io.EOF
		}
		typ := ev.name
		if typ == "" {
			typ = gjson.Get(ev.data, "type").String()
		}
		switch typ {
		case "response.output_text.delta":
			return gjson.Get(ev.data, "delta").String(), false, nil
		case "response.completed", "response.done":
			return "", false, io.EOF
		case "response.error", "error":
			msg := gjson.Get(ev.data, "error.message").String()
			if msg == "" {
				msg = gjson.Get(ev.data, "message").String()
			}
			return "", false, core.NewProviderError(provider, 0, msg, nil)
		default:
			return "", true, nil
		}
	})
}
