package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcommander/internal/cancel"
	"qcommander/internal/core"
	"qcommander/internal/providers"
)

// scriptedStream is a DeltaStream fed by the test. A nil feed channel means
// the stream blocks until closed.
type scriptedStream struct {
	frames   chan string
	finalErr error
	done     chan struct{}
	once     sync.Once
}

func newScriptedStream(fragments ...string) *scriptedStream {
	frames := make(chan string, len(fragments))
	for _, f := range fragments {
		frames <- f
	}
	close(frames)
	return &scriptedStream{frames: frames, finalErr: io.EOF, done: make(chan struct{})}
}

// newGatedStream returns a stream the test feeds manually via the channel.
func newGatedStream() (*scriptedStream, chan string) {
	frames := make(chan string)
	return &scriptedStream{frames: frames, finalErr: io.EOF, done: make(chan struct{})}, frames
}

func (s *scriptedStream) Next() (string, error) {
	select {
	case text, ok := <-s.frames:
		if !ok {
			return "", s.finalErr
		}
		return text, nil
	case <-s.done:
		return "", io.EOF
	}
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type fakeProvider struct {
	name         string
	stream       core.DeltaStream
	streamErr    error
	completeText string
	completeErr  error

	mu            sync.Mutex
	completeCalls int
}

func (p *fakeProvider) Name() string {
	if p.name == "" {
		return "fake"
	}
	return p.name
}

func (p *fakeProvider) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	p.mu.Lock()
	p.completeCalls++
	p.mu.Unlock()
	if p.completeErr != nil {
		return nil, p.completeErr
	}
	return &core.ChatResponse{
		Provider: p.Name(),
		Model:    req.Model,
		Choices: []core.Choice{{
			Message:      core.Message{Role: "assistant", Content: p.completeText},
			FinishReason: "stop",
		}},
	}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req *core.ChatRequest) (core.DeltaStream, error) {
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	return p.stream, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completeCalls
}

func newTestOrchestrator(p core.Provider, opts Options) *Orchestrator {
	return New(providers.NewSetWith(p), cancel.NewRegistry(), opts)
}

func testTurn(provider string) *Turn {
	return NewTurn(provider, "test-model", &core.ChatRequest{
		Model:    "test-model",
		Messages: []core.Message{{Role: "user", Content: "hi"}},
	})
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d so far", len(got))
		}
	}
}

func TestRunStreamsDeltasInOrder(t *testing.T) {
	p := &fakeProvider{stream: newScriptedStream("Hel", "lo ", " world")}
	o := newTestOrchestrator(p, Options{})
	turn := testTurn("fake")

	got := collect(t, o.Run(context.Background(), turn))

	require.Len(t, got, 4)
	assert.Equal(t, Event{Type: EventDelta, Frame: core.Frame{Seq: 1, Delta: "Hel"}}, got[0])
	assert.Equal(t, Event{Type: EventDelta, Frame: core.Frame{Seq: 2, Delta: "lo "}}, got[1])
	assert.Equal(t, Event{Type: EventDelta, Frame: core.Frame{Seq: 3, Delta: " world", Final: true}}, got[2])
	assert.Equal(t, EventDone, got[3].Type)

	assert.Equal(t, core.TurnCompleted, turn.State())
	assert.Zero(t, p.calls(), "one-shot path must not run when streaming succeeds")
	assert.Zero(t, o.Registry().Len())
}

func TestRunSingleFragmentIsFinal(t *testing.T) {
	p := &fakeProvider{stream: newScriptedStream("hello")}
	o := newTestOrchestrator(p, Options{})

	got := collect(t, o.Run(context.Background(), testTurn("fake")))

	require.Len(t, got, 2)
	assert.Equal(t, core.Frame{Seq: 1, Delta: "hello", Final: true}, got[0].Frame)
	assert.Equal(t, EventDone, got[1].Type)
}

func TestRunFallsBackWhenStreamingNotPermitted(t *testing.T) {
	p := &fakeProvider{
		streamErr:    core.NewStreamingNotPermittedError("fake", "organization must be verified to stream"),
		completeText: "Hello world",
	}
	o := newTestOrchestrator(p, Options{})
	turn := testTurn("fake")

	got := collect(t, o.Run(context.Background(), turn))

	require.Len(t, got, 2)
	assert.Equal(t, Event{Type: EventDelta, Frame: core.Frame{Seq: 1, Delta: "Hello world", Final: true}}, got[0])
	assert.Equal(t, EventDone, got[1].Type)
	assert.Equal(t, core.TurnCompleted, turn.State())
	assert.Equal(t, 1, p.calls())
}

func TestRunFallsBackOnFirstChunkTimeout(t *testing.T) {
	stream, _ := newGatedStream() // never yields
	p := &fakeProvider{stream: stream, completeText: "late answer"}
	o := newTestOrchestrator(p, Options{FirstChunkTimeout: 20 * time.Millisecond})
	turn := testTurn("fake")

	got := collect(t, o.Run(context.Background(), turn))

	require.Len(t, got, 2)
	assert.Equal(t, core.Frame{Seq: 1, Delta: "late answer", Final: true}, got[0].Frame)
	assert.Equal(t, EventDone, got[1].Type)
	assert.Equal(t, 1, p.calls(), "fallback must run exactly once")
}

func TestRunFallsBackOnEmptyStream(t *testing.T) {
	p := &fakeProvider{stream: newScriptedStream(), completeText: "nonempty"}
	o := newTestOrchestrator(p, Options{})

	got := collect(t, o.Run(context.Background(), testTurn("fake")))

	require.Len(t, got, 2)
	assert.Equal(t, "nonempty", got[0].Frame.Delta)
	assert.Equal(t, EventDone, got[1].Type)
	assert.Equal(t, 1, p.calls())
}

func TestRunFallbackFailureIsTerminal(t *testing.T) {
	p := &fakeProvider{
		streamErr:   core.NewStreamingNotPermittedError("fake", "stream not allowed"),
		completeErr: core.NewProviderError("fake", 500, "upstream exploded", nil),
	}
	o := newTestOrchestrator(p, Options{})
	turn := testTurn("fake")

	got := collect(t, o.Run(context.Background(), turn))

	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	require.NotNil(t, got[0].Err)
	assert.Equal(t, core.ErrorTypeProvider, got[0].Err.Type)
	assert.Equal(t, core.TurnFailed, turn.State())
	assert.Equal(t, 1, p.calls(), "a failed fallback is not retried")
}

func TestRunMidStreamErrorIsTerminal(t *testing.T) {
	stream := newScriptedStream("partial ")
	stream.finalErr = core.NewProviderError("fake", 502, "connection reset", nil)
	p := &fakeProvider{stream: stream, completeText: "should not be used"}
	o := newTestOrchestrator(p, Options{})
	turn := testTurn("fake")

	got := collect(t, o.Run(context.Background(), turn))

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, core.TurnFailed, turn.State())
	assert.Zero(t, p.calls(), "no fallback after the first frame arrived")
}

func TestRunUnknownProvider(t *testing.T) {
	o := New(providers.NewSetWith(), cancel.NewRegistry(), Options{})
	turn := testTurn("nope")

	got := collect(t, o.Run(context.Background(), turn))

	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.Equal(t, core.ErrorTypeUnknownProvider, got[0].Err.Type)
	assert.Equal(t, core.TurnFailed, turn.State())
}

func TestCancelMidStreamAcknowledges(t *testing.T) {
	stream, feed := newGatedStream()
	p := &fakeProvider{stream: stream}
	o := newTestOrchestrator(p, Options{})
	turn := testTurn("fake")

	events := o.Run(context.Background(), turn)

	// Two fragments so the lookahead releases the first as a delta.
	feed <- "one"
	feed <- "two"

	var first Event
	select {
	case first = <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first delta")
	}
	require.Equal(t, EventDelta, first.Type)
	assert.Equal(t, "one", first.Frame.Delta)

	o.Registry().Cancel(turn.ID)

	got := collect(t, events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventCancelled, last.Type)
	for _, ev := range got[:len(got)-1] {
		assert.Equal(t, EventDelta, ev.Type, "nothing but deltas may precede the cancel ack")
	}
	assert.Equal(t, core.TurnCancelled, turn.State())
	assert.Zero(t, o.Registry().Len())
}

func TestClientDisconnectEndsSilently(t *testing.T) {
	stream, _ := newGatedStream()
	p := &fakeProvider{stream: stream}
	o := newTestOrchestrator(p, Options{FirstChunkTimeout: time.Minute})
	turn := testTurn("fake")

	ctx, cancelCtx := context.WithCancel(context.Background())
	events := o.Run(ctx, turn)
	cancelCtx()

	got := collect(t, events)
	assert.Empty(t, got, "a disconnect emits no events, there is nobody to read them")
	assert.Equal(t, core.TurnCancelled, turn.State())
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	p := &fakeProvider{stream: newScriptedStream("done already")}
	o := newTestOrchestrator(p, Options{})
	turn := testTurn("fake")

	collect(t, o.Run(context.Background(), turn))
	require.Equal(t, core.TurnCompleted, turn.State())

	o.Registry().Cancel(turn.ID)
	assert.Equal(t, core.TurnCompleted, turn.State())
	assert.Zero(t, o.Registry().Len())
}

func TestRunStreamSetupErrorIsTerminal(t *testing.T) {
	p := &fakeProvider{streamErr: errors.New("dial tcp: connection refused")}
	o := newTestOrchestrator(p, Options{})
	turn := testTurn("fake")

	got := collect(t, o.Run(context.Background(), turn))

	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.Equal(t, core.ErrorTypeProvider, got[0].Err.Type)
	assert.Zero(t, p.calls(), "plain transport errors do not trigger fallback")
}
