package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deltastream/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.Default())
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventLLMStream, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventLLMStream {
			got.Add(1)
		}
	})
	bus.Subscribe(domain.EventConfigChanged, func(_ context.Context, _ domain.Event) {
		t.Error("config.changed handler received llm-stream event")
	})

	bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
	bus.Close() // drain
	if got.Load() != 1 {
		t.Fatalf("expected 1, got %d", got.Load())
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
	bus.Publish(context.Background(), newEvent(domain.EventConfigChanged))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2, got %d", got.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	delivered := make(chan struct{}, 4)
	unsub := bus.Subscribe(domain.EventLLMStream, func(_ context.Context, _ domain.Event) {
		delivered <- struct{}{}
	})

	bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("event not delivered before unsubscribe")
	}

	unsub()
	unsub() // idempotent
	bus.Publish(context.Background(), newEvent(domain.EventLLMStream))

	select {
	case <-delivered:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestOrderPreservedPerSubscriber(t *testing.T) {
	bus := newTestBus()

	const n = 500
	var got []int
	bus.Subscribe(domain.EventLLMStream, func(_ context.Context, e domain.Event) {
		var i int
		fmt.Sscanf(string(e.StreamID), "%d", &i)
		got = append(got, i)
	})

	for i := 0; i < n; i++ {
		bus.Publish(context.Background(), domain.Event{Type: domain.EventLLMStream, StreamID: domain.StreamID(fmt.Sprint(i))})
	}
	bus.Close()

	if len(got) != n {
		t.Fatalf("delivered %d, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d delivered at position %d", v, i)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := newTestBus()

	release := make(chan struct{})
	bus.Subscribe(domain.EventLLMStream, func(_ context.Context, _ domain.Event) {
		<-release
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	close(release)
	bus.Close()
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventLLMStream, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
		}()
	}
	wg.Wait()
	bus.Close()

	if got.Load() != 100 {
		t.Fatalf("expected 100, got %d", got.Load())
	}
}

func TestCancelledContextStillDelivered(t *testing.T) {
	bus := newTestBus()

	var ctxErr atomic.Value
	bus.Subscribe(domain.EventLLMStream, func(ctx context.Context, _ domain.Event) {
		ctxErr.Store(fmt.Sprint(ctx.Err()))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, newEvent(domain.EventLLMStream))
	bus.Close()

	if got := ctxErr.Load(); got != "<nil>" {
		t.Fatalf("handler ctx.Err() = %v, want nil", got)
	}
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventLLMStream, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	bus.Subscribe(domain.EventLLMStream, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
	bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2 deliveries to the healthy handler, got %d", got.Load())
	}
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventLLMStream, func(_ context.Context, _ domain.Event) {
		time.Sleep(20 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
	bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
	bus.Close() // blocks until both are handled

	if got.Load() != 2 {
		t.Fatalf("expected queued events to be handled, got %d", got.Load())
	}

	bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
	bus.Close()
	if got.Load() != 2 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	bus := newTestBus()
	bus.Close()

	unsub := bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		t.Error("handler invoked on a closed bus")
	})
	unsub()
	bus.Publish(context.Background(), newEvent(domain.EventLLMStream))
}
