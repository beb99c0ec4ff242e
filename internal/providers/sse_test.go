package providers

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcommander/internal/core"
)

func drain(t *testing.T, s core.DeltaStream) ([]string, error) {
	t.Helper()
	var out []string
	for {
		text, err := s.Next()
		if err != nil {
			return out, err
		}
		out = append(out, text)
	}
}

func TestChatCompletionsStream(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`: keep-alive`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	s := NewChatCompletionsStream("openai", io.NopCloser(strings.NewReader(body)))
	got, err := drain(t, s)

	assert.Equal(t, io.EOF, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestChatCompletionsStreamErrorEvent(t *testing.T) {
	body := "data: {\"error\":{\"message\":\"quota exceeded\"}}\n\n"

	s := NewChatCompletionsStream("groq", io.NopCloser(strings.NewReader(body)))
	_, err := drain(t, s)

	var gerr *core.GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "groq", gerr.Provider)
	assert.Contains(t, gerr.Message, "quota exceeded")
}

func TestChatCompletionsStreamEndsWithoutDone(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"

	s := NewChatCompletionsStream("openai", io.NopCloser(strings.NewReader(body)))
	got, err := drain(t, s)

	assert.Equal(t, io.EOF, err)
	assert.Equal(t, []string{"partial"}, got)
}

func TestAnthropicMessagesStream(t *testing.T) {
	body := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1"}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`,
		``,
		`event: ping`,
		`data: {"type":"ping"}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":" there"}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")

	s := NewAnthropicMessagesStream(io.NopCloser(strings.NewReader(body)))
	got, err := drain(t, s)

	assert.Equal(t, io.EOF, err)
	assert.Equal(t, []string{"Hi", " there"}, got)
}

func TestAnthropicMessagesStreamError(t *testing.T) {
	body := "event: error\ndata: {\"type\":\"error\",\"error\":{\"message\":\"overloaded\"}}\n\n"

	s := NewAnthropicMessagesStream(io.NopCloser(strings.NewReader(body)))
	_, err := drain(t, s)

	var gerr *core.GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Contains(t, gerr.Message, "overloaded")
}

func TestResponsesStream(t *testing.T) {
	body := strings.Join([]string{
		`event: response.created`,
		`data: {"type":"response.created"}`,
		``,
		`event: response.output_text.delta`,
		`data: {"type":"response.output_text.delta","delta":"One"}`,
		``,
		`event: response.output_text.delta`,
		`data: {"type":"response.output_text.delta","delta":" two"}`,
		``,
		`event: response.completed`,
		`data: {"type":"response.completed"}`,
		``,
	}, "\n")

	s := NewResponsesStream("openai", io.NopCloser(strings.NewReader(body)))
	got, err := drain(t, s)

	assert.Equal(t, io.EOF, err)
	assert.Equal(t, []string{"One", " two"}, got)
}

func TestDeltaStreamCloseDuringRead(t *testing.T) {
	// A closed stream reports EOF to the reader even when the underlying
	// body errors out mid-read.
	pr, pw := io.Pipe()
	s := NewChatCompletionsStream("openai", pr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Next()
		assert.Equal(t, io.EOF, err)
	}()

	require.NoError(t, s.Close())
	pw.CloseWithError(io.ErrClosedPipe)
	<-done

	// Close is idempotent.
	assert.NoError(t, s.Close())
}

func TestSSEScannerMultiLineData(t *testing.T) {
	sc := newSSEScanner(strings.NewReader("data: line1\ndata: line2\n\n"))
	ev, err := sc.next()
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", ev.data)
}
