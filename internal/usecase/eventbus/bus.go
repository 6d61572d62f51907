package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"deltastream/internal/domain"
)

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// mailbox is an unbounded FIFO drained by one goroutine. Publishers append
// and never wait on the handler.
type mailbox struct {
	mu     sync.Mutex
	queue  []delivery
	wake   chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) put(d delivery) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, d)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// take returns the pending batch, or ok=false once closed and empty.
func (m *mailbox) take() (batch []delivery, ok bool) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			batch, m.queue = m.queue, nil
			m.mu.Unlock()
			return batch, true
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		m.mu.Unlock()
		<-m.wake
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

type subscription struct {
	id      uint64
	handler domain.EventHandler
	box     *mailbox
}

// Bus is an in-process, goroutine-safe event bus. Every subscriber owns a
// mailbox and a dispatch goroutine, so a subscriber sees events in the order
// they were published and a slow subscriber never blocks a publisher.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		typed:  make(map[domain.EventType][]*subscription),
		logger: logger,
	}
}

// Publish enqueues an event for matching typed subscribers and all-event
// subscribers. Handlers run detached from ctx's cancellation so a cancelled
// producer still has its final events delivered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	d := delivery{ctx: context.WithoutCancel(ctx), event: event}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.typed[event.Type] {
		sub.box.put(d)
	}
	for _, sub := range b.allSubs {
		sub.box.put(d)
	}
}

func (b *Bus) start(handler domain.EventHandler) *subscription {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: handler,
		box:     newMailbox(),
	}
	if b.closed.Load() {
		sub.box.close()
	}
	b.wg.Add(1)
	go b.run(sub)
	return sub
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for {
		batch, ok := sub.box.take()
		if !ok {
			return
		}
		for _, d := range batch {
			b.deliver(sub, d)
		}
	}
}

// deliver invokes one handler; a panicking handler is recovered and keeps
// its subscription.
func (b *Bus) deliver(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"stream_id", string(d.event.StreamID),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function; events already queued are still delivered.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.start(handler)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.typed[eventType] = remove(b.typed[eventType], sub.id)
			b.mu.Unlock()
			sub.box.close()
		})
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.start(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.allSubs = remove(b.allSubs, sub.id)
			b.mu.Unlock()
			sub.box.close()
		})
	}
}

func remove(subs []*subscription, id uint64) []*subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close prevents new publishes, delivers everything already queued and waits
// for the dispatch goroutines to exit. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	for _, subs := range b.typed {
		for _, sub := range subs {
			sub.box.close()
		}
	}
	for _, sub := range b.allSubs {
		sub.box.close()
	}
	b.mu.Unlock()

	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
