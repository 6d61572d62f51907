package streaming

import (
	"context"
	"log/slog"

	"deltastream/internal/domain"
)

// emitter turns one stream's vendor chunks into canonical events. It is owned
// by the stream's goroutine and is not safe for concurrent use.
//
// Once a terminal event has been published every later call is a no-op, so
// each stream produces exactly one done=true event and it is the last one.
type emitter struct {
	ctx    context.Context
	id     domain.StreamID
	sink   domain.EventSink
	logger *slog.Logger

	phase   domain.StreamPhase
	deltas  int
	dropped int

	// onPhase and onDrop report to the owning Manager; both may be nil.
	onPhase func(domain.StreamPhase)
	onDrop  func()
}

func newEmitter(ctx context.Context, id domain.StreamID, sink domain.EventSink, logger *slog.Logger) *emitter {
	return &emitter{
		ctx:    ctx,
		id:     id,
		sink:   sink,
		logger: logger,
		phase:  domain.PhaseLaunched,
	}
}

// Phase implements domain.ChunkObserver.
func (e *emitter) Phase(p domain.StreamPhase) {
	if e.phase.Terminal() {
		return
	}
	e.setPhase(p)
}

// Chunk implements domain.ChunkObserver.
func (e *emitter) Chunk(c domain.VendorChunk) {
	if e.phase.Terminal() {
		return
	}
	for _, d := range c.Deltas {
		if d == "" {
			continue
		}
		e.deltas++
		e.sink.Publish(e.ctx, domain.EventLLMStream, domain.DeltaEvent(e.id, d))
	}
	if c.Done {
		e.finish(nil)
	}
}

// Dropped implements domain.ChunkObserver.
func (e *emitter) Dropped(data []byte, err error) {
	e.dropped++
	if e.onDrop != nil {
		e.onDrop()
	}
	e.logger.Debug("dropping undecodable stream line",
		"stream_id", string(e.id),
		"bytes", len(data),
		"error", err,
	)
}

// finish publishes the terminal event: done on success, done plus error text
// on failure. It reports whether this call was the one that terminated.
func (e *emitter) finish(err error) bool {
	if e.phase.Terminal() {
		return false
	}
	if err != nil {
		e.sink.Publish(e.ctx, domain.EventLLMStream, domain.ErrorEvent(e.id, err.Error()))
		e.setPhase(domain.PhaseFailed)
		return true
	}
	e.sink.Publish(e.ctx, domain.EventLLMStream, domain.DoneEvent(e.id))
	e.setPhase(domain.PhaseDone)
	return true
}

func (e *emitter) setPhase(p domain.StreamPhase) {
	e.phase = p
	if e.onPhase != nil {
		e.onPhase(p)
	}
}

var _ domain.ChunkObserver = (*emitter)(nil)
