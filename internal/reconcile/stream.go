package reconcile

import (
	"context"
	"errors"

	"github.com/opencode-ai/custodian/internal/event"
)

// StartEventStream attaches the single event consumer and blocks until the
// stream ends. It returns ErrAlreadyStreaming if a consumer is already
// connecting or streaming. Cancellation and a clean end of stream leave the
// engine idle and return nil; any other failure leaves it errored with the
// message surfaced in Snapshot().Error.
func (e *Engine) StartEventStream(ctx context.Context) error {
	e.mu.Lock()
	if e.connState == ConnConnecting || e.connState == ConnStreaming {
		e.mu.Unlock()
		return ErrAlreadyStreaming
	}
	ctx, cancel := context.WithCancel(ctx)
	e.connState = ConnConnecting
	e.streamCancel = cancel
	e.mu.Unlock()

	e.log.Debug().Msg("event stream connecting")
	e.notify("stream.connecting")

	err := e.remote.Events(ctx, func(raw []byte) {
		e.handle(ctx, raw)
	})
	canceled := ctx.Err() != nil
	cancel()

	e.mu.Lock()
	e.streamCancel = nil
	e.connected = false
	if err != nil && !canceled && !errors.Is(err, context.Canceled) {
		e.connState = ConnErrored
		e.errMsg = err.Error()
	} else {
		e.connState = ConnIdle
		err = nil
	}
	e.mu.Unlock()

	e.metrics.StreamConnected(false)
	if err != nil {
		e.log.Warn().Err(err).Msg("event stream failed")
	} else {
		e.log.Debug().Msg("event stream stopped")
	}
	e.notify("stream.closed")
	return err
}

// StopEventStream cancels the active consumer, if any.
func (e *Engine) StopEventStream() {
	e.mu.Lock()
	cancel := e.streamCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ConnState returns the consumer state.
func (e *Engine) ConnState() ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connState
}

// handle runs on the consumer goroutine for every raw envelope.
func (e *Engine) handle(ctx context.Context, raw []byte) {
	if err := e.bus.PublishRaw(raw); err != nil {
		e.log.Debug().Err(err).Msg("raw tap publish failed")
	}

	ev := event.Decode(raw)
	e.Apply(ev)

	switch ev.Type {
	case event.Connected:
		e.metrics.StreamConnected(true)
		e.log.Info().Msg("event stream connected")
	case event.SessionCreated, event.SessionUpdated, event.SessionDeleted:
		// The refresh outlives the stream that triggered it.
		go e.RefreshSessions(context.WithoutCancel(ctx))
	}

	e.bus.PublishSync(ev)
}
