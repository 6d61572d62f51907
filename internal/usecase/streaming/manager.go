package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"deltastream/internal/domain"
	"deltastream/internal/infra/tracer"
)

// Stats is a snapshot of the Manager's counters.
type Stats struct {
	Launched     int64 `json:"launched"`
	Active       int64 `json:"active"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	Deltas       int64 `json:"deltas"`
	DroppedLines int64 `json:"dropped_lines"`
}

// StreamInfo describes one running stream.
type StreamInfo struct {
	ID        domain.StreamID `json:"stream_id"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Phase     string          `json:"phase"`
	StartedAt time.Time       `json:"started_at"`
}

// task is the registry entry of one running stream.
type task struct {
	id        domain.StreamID
	provider  string
	model     string
	startedAt time.Time
	cancel    context.CancelCauseFunc
	phase     atomic.Int32
}

// Manager launches streams and tracks them until their terminal event.
// Streams share nothing mutable except the sink; the registry is touched
// only when a stream starts, ends or is cancelled.
type Manager struct {
	streamer domain.Streamer
	sink     domain.EventSink
	logger   *slog.Logger
	ids      *idSource

	mu     sync.Mutex
	tasks  map[domain.StreamID]*task
	closed bool
	wg     sync.WaitGroup

	launched  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	deltas    atomic.Int64
	dropped   atomic.Int64
}

// NewManager creates a Manager publishing every stream's events to sink.
func NewManager(streamer domain.Streamer, sink domain.EventSink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		streamer: streamer,
		sink:     sink,
		logger:   logger,
		ids:      streamIDs,
		tasks:    make(map[domain.StreamID]*task),
	}
}

// Launch starts one stream for desc and returns its id immediately. It never
// fails: every problem, including an unsupported provider, arrives later as
// the stream's terminal error event.
//
// The stream outlives ctx's cancellation (ctx values such as the trace
// parent are kept); use Cancel or Shutdown to stop it.
func (m *Manager) Launch(ctx context.Context, desc domain.RequestDescriptor) domain.StreamID {
	id := m.ids.next()
	m.launched.Add(1)

	streamCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	t := &task{
		id:        id,
		provider:  desc.Provider,
		model:     desc.Model,
		startedAt: time.Now(),
		cancel:    cancel,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel(domain.ErrCancelled)
		em := m.newEmitter(streamCtx, t)
		em.finish(domain.NewDomainError("Manager.Launch", domain.ErrCancelled, "manager is shut down"))
		m.failed.Add(1)
		return id
	}
	m.tasks[id] = t
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug("stream launched", "stream_id", string(id), "provider", desc.Provider, "model", desc.Model)

	go m.run(streamCtx, t, desc)
	return id
}

// Cancel stops a running stream. Its terminal event carries the error
// "stream cancelled". Returns false when id is unknown or already finished.
func (m *Manager) Cancel(id domain.StreamID) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel(domain.ErrCancelled)
	m.logger.Debug("stream cancel requested", "stream_id", string(id))
	return true
}

// Active returns the number of streams that have not yet emitted their terminal event.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Streams lists the running streams, oldest first.
func (m *Manager) Streams() []StreamInfo {
	m.mu.Lock()
	out := make([]StreamInfo, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, StreamInfo{
			ID:        t.id,
			Provider:  t.provider,
			Model:     t.model,
			Phase:     domain.StreamPhase(t.phase.Load()).String(),
			StartedAt: t.startedAt,
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Launched:     m.launched.Load(),
		Active:       int64(m.Active()),
		Completed:    m.completed.Load(),
		Failed:       m.failed.Load(),
		Deltas:       m.deltas.Load(),
		DroppedLines: m.dropped.Load(),
	}
}

// Shutdown rejects new launches, cancels every running stream and waits until
// each has emitted its terminal event or ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, t := range m.tasks {
		t.cancel(domain.ErrCancelled)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream shutdown: %w", ctx.Err())
	}
}

func (m *Manager) newEmitter(ctx context.Context, t *task) *emitter {
	em := newEmitter(ctx, t.id, m.sink, m.logger)
	em.onPhase = func(p domain.StreamPhase) { t.phase.Store(int32(p)) }
	em.onDrop = func() { m.dropped.Add(1) }
	return em
}

// run is the body of one stream's goroutine.
func (m *Manager) run(ctx context.Context, t *task, desc domain.RequestDescriptor) {
	defer m.wg.Done()
	defer m.release(t.id)

	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr(tracer.AttrStreamID, string(t.id)),
			tracer.StringAttr(tracer.AttrProvider, desc.Provider),
			tracer.StringAttr(tracer.AttrModel, desc.Model),
		),
	)
	defer span.End()

	em := m.newEmitter(ctx, t)

	// A panic anywhere below still ends the stream with exactly one terminal event.
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("stream panicked: %v", r)
			m.logger.Error("stream panicked", "stream_id", string(t.id), "panic", r)
			m.end(span, em, err)
		}
	}()

	err := m.streamer.Stream(ctx, desc, em)
	if err != nil && ctx.Err() != nil {
		// Report why the stream was stopped rather than how the read failed.
		err = context.Cause(ctx)
	}
	m.end(span, em, err)
}

// end emits the terminal event (done is synthesized when the vendor never
// sent one) and records the outcome.
func (m *Manager) end(span trace.Span, em *emitter, err error) {
	em.finish(err)
	m.deltas.Add(int64(em.deltas))

	span.SetAttributes(
		tracer.IntAttr(tracer.AttrDeltas, em.deltas),
		tracer.IntAttr(tracer.AttrDropped, em.dropped),
	)

	if em.phase == domain.PhaseFailed {
		m.failed.Add(1)
		tracer.RecordError(span, errOrUnknown(err))
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrCancelled) {
			level = slog.LevelInfo
		}
		m.logger.Log(context.Background(), level, "stream failed",
			"stream_id", string(em.id),
			"code", string(domain.ErrorCodeOf(err)),
			"error", err,
		)
		return
	}

	m.completed.Add(1)
	tracer.SetOK(span)
	m.logger.Debug("stream completed",
		"stream_id", string(em.id),
		"deltas", em.deltas,
		"dropped_lines", em.dropped,
	)
}

func errOrUnknown(err error) error {
	if err == nil {
		return errors.New("stream failed")
	}
	return err
}

func (m *Manager) release(id domain.StreamID) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	delete(m.tasks, id)
	m.mu.Unlock()
	if ok {
		t.cancel(nil)
	}
}
