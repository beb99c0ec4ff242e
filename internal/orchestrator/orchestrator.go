// Package orchestrator drives the lifecycle of a chat turn: it dispatches the
// provider stream, enforces the first-chunk timeout, falls back to a one-shot
// completion at most once, and reports every outcome as an event sequence the
// transports can replay verbatim.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"qcommander/internal/cancel"
	"qcommander/internal/core"
	"qcommander/internal/observability"
)

// EventType discriminates the events emitted for a turn.
type EventType string

const (
	// EventDelta carries one incremental text frame.
	EventDelta EventType = "delta"
	// EventDone marks successful completion. Always the last event.
	EventDone EventType = "done"
	// EventError marks failure. Always the last event.
	EventError EventType = "error"
	// EventCancelled acknowledges an explicit client cancel. Always the
	// last event.
	EventCancelled EventType = "cancelled"
)

// Event is one element of a turn's output sequence. Exactly one terminal
// event (done, error, or cancelled) closes every sequence; no deltas follow
// it.
type Event struct {
	Type  EventType
	Frame core.Frame
	Err   *core.GatewayError
}

// ProviderLookup resolves a provider name to a usable Provider. Satisfied by
// providers.Set.
type ProviderLookup interface {
	Get(name string) (core.Provider, *core.GatewayError)
}

// Options tunes orchestrator behavior.
type Options struct {
	// FirstChunkTimeout bounds the wait for the first streamed fragment
	// before falling back to a one-shot completion.
	FirstChunkTimeout time.Duration
	// FrameBuffer is the event channel capacity.
	FrameBuffer int
	// Metrics collectors; nil disables instrumentation.
	Metrics *observability.Metrics
}

// Orchestrator runs turns against a provider set with a shared cancellation
// registry. Safe for concurrent use.
type Orchestrator struct {
	providers ProviderLookup
	registry  *cancel.Registry
	opts      Options
}

// New creates an Orchestrator. Zero option fields get conservative defaults.
func New(providers ProviderLookup, registry *cancel.Registry, opts Options) *Orchestrator {
	if opts.FirstChunkTimeout <= 0 {
		opts.FirstChunkTimeout = 10 * time.Second
	}
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 32
	}
	return &Orchestrator{providers: providers, registry: registry, opts: opts}
}

// Registry exposes the cancellation registry so transports can route
// cancel requests.
func (o *Orchestrator) Registry() *cancel.Registry {
	return o.registry
}

// Run executes a turn and returns its event sequence. The channel is closed
// after the terminal event. The caller must drain the channel to completion;
// cancelling ctx (client disconnect) or Registry().Cancel(turn.ID) stops the
// turn early.
func (o *Orchestrator) Run(ctx context.Context, turn *Turn) <-chan Event {
	events := make(chan Event, o.opts.FrameBuffer)
	go o.run(ctx, turn, events)
	return events
}

func (o *Orchestrator) run(parent context.Context, turn *Turn, events chan<- Event) {
	defer close(events)

	ctx := o.registry.Register(turn.ID, parent)
	defer o.registry.Release(turn.ID)

	provider, gerr := o.providers.Get(turn.Provider)
	if gerr != nil {
		o.finishError(turn, events, gerr)
		return
	}

	log := slog.With("turn", turn.ID, "provider", turn.Provider, "model", turn.Model)
	start := time.Now()

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()

	stream, err := provider.Stream(streamCtx, turn.Request.WithStreaming())
	if err != nil {
		if ctx.Err() != nil {
			o.finishInterrupted(turn, events)
			return
		}
		if core.IsStreamingNotPermitted(err) {
			log.Info("streaming not permitted, falling back", "error", err)
			o.fallback(ctx, turn, provider, events, "not_permitted")
			return
		}
		o.finishError(turn, events, core.AsGatewayError(turn.Provider, err))
		return
	}
	defer stream.Close()

	// The iterator blocks in Next, so a dedicated reader pumps fragments
	// into a channel the select loop can race against timeout and cancel.
	// The unbuffered frames channel guarantees readErr is populated only
	// after every preceding fragment has been consumed.
	frames := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			text, err := stream.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- text:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	// One-fragment lookahead: a fragment is only emitted once its
	// successor (or EOF) is known, so the last delta frame can carry the
	// final marker.
	var pending string
	seq := 0

	timer := time.NewTimer(o.opts.FirstChunkTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		o.finishInterrupted(turn, events)
		return
	case <-timer.C:
		stopStream()
		stream.Close()
		log.Info("first chunk timeout, falling back", "timeout", o.opts.FirstChunkTimeout)
		o.fallback(ctx, turn, provider, events, "timeout")
		return
	case err := <-readErr:
		stopStream()
		stream.Close()
		if ctx.Err() != nil {
			o.finishInterrupted(turn, events)
			return
		}
		switch {
		case errors.Is(err, io.EOF):
			// Stream ended without producing a single fragment.
			// Treat like a silent stream and fall back once.
			log.Info("empty stream, falling back")
			o.fallback(ctx, turn, provider, events, "empty")
		case core.IsStreamingNotPermitted(err):
			log.Info("streaming not permitted, falling back", "error", err)
			o.fallback(ctx, turn, provider, events, "not_permitted")
		default:
			o.finishError(turn, events, core.AsGatewayError(turn.Provider, err))
		}
		return
	case text := <-frames:
		turn.setState(core.TurnStreaming)
		o.observeFirstFrame(turn.Provider, time.Since(start))
		pending = text
	}

	for {
		select {
		case <-ctx.Done():
			o.finishInterrupted(turn, events)
			return
		case err := <-readErr:
			if ctx.Err() != nil {
				o.finishInterrupted(turn, events)
				return
			}
			if errors.Is(err, io.EOF) {
				seq++
				if !o.emit(ctx, events, Event{Type: EventDelta, Frame: core.Frame{Seq: seq, Delta: pending, Final: true}}) {
					o.finishInterrupted(turn, events)
					return
				}
				o.finishDone(turn, events)
				return
			}
			// A permission rejection can still fall back as long as
			// no frame reached the client (the lookahead holds one).
			if seq == 0 && core.IsStreamingNotPermitted(err) {
				stopStream()
				stream.Close()
				log.Info("streaming not permitted, falling back", "error", err)
				o.fallback(ctx, turn, provider, events, "not_permitted")
				return
			}
			// Otherwise mid-stream failures are terminal: the client
			// already saw partial output, so a one-shot retry would
			// duplicate text.
			o.finishError(turn, events, core.AsGatewayError(turn.Provider, err))
			return
		case text := <-frames:
			seq++
			if !o.emit(ctx, events, Event{Type: EventDelta, Frame: core.Frame{Seq: seq, Delta: pending}}) {
				o.finishInterrupted(turn, events)
				return
			}
			pending = text
		}
	}
}

// fallback runs the one-shot completion path. It is entered at most once per
// turn and only before any delta frame has been emitted.
func (o *Orchestrator) fallback(ctx context.Context, turn *Turn, provider core.Provider, events chan<- Event, trigger string) {
	turn.setState(core.TurnFallingBack)
	if o.opts.Metrics != nil {
		o.opts.Metrics.FallbacksTotal.WithLabelValues(turn.Provider, trigger).Inc()
	}

	resp, err := provider.Complete(ctx, turn.Request)
	if err != nil {
		if ctx.Err() != nil {
			o.finishInterrupted(turn, events)
			return
		}
		o.finishError(turn, events, core.AsGatewayError(turn.Provider, err))
		return
	}

	if !o.emit(ctx, events, Event{Type: EventDelta, Frame: core.Frame{Seq: 1, Delta: resp.Text(), Final: true}}) {
		o.finishInterrupted(turn, events)
		return
	}
	o.finishDone(turn, events)
}

// emit sends a delta event unless the turn context is already cancelled.
// Returns false when the turn was interrupted and no further deltas may be
// delivered.
func (o *Orchestrator) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) finishDone(turn *Turn, events chan<- Event) {
	turn.setState(core.TurnCompleted)
	o.countTurn(turn.Provider, "completed")
	events <- Event{Type: EventDone}
}

func (o *Orchestrator) finishError(turn *Turn, events chan<- Event, gerr *core.GatewayError) {
	turn.setState(core.TurnFailed)
	o.countTurn(turn.Provider, "failed")
	slog.Warn("turn failed", "turn", turn.ID, "provider", turn.Provider, "error", gerr)
	events <- Event{Type: EventError, Err: gerr}
}

// finishInterrupted resolves a context interruption. An explicit Cancel(id)
// gets an acknowledgement event; a parent disconnect gets none, since nobody
// is left to read it.
func (o *Orchestrator) finishInterrupted(turn *Turn, events chan<- Event) {
	turn.setState(core.TurnCancelled)
	o.countTurn(turn.Provider, "cancelled")
	if o.registry.Cancelled(turn.ID) {
		events <- Event{Type: EventCancelled, Err: core.NewCancelledError(turn.ID)}
	}
}

func (o *Orchestrator) countTurn(provider, outcome string) {
	if o.opts.Metrics != nil {
		o.opts.Metrics.TurnsTotal.WithLabelValues(provider, outcome).Inc()
	}
}

func (o *Orchestrator) observeFirstFrame(provider string, d time.Duration) {
	if o.opts.Metrics != nil {
		o.opts.Metrics.FirstFrameSeconds.WithLabelValues(provider).Observe(d.Seconds())
	}
}
