package event

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(SessionIdle, func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: SessionIdle, SessionID: "ses_1"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Type != SessionIdle {
			t.Errorf("Expected SessionIdle, got %v", received.Type)
		}
		if received.SessionID != "ses_1" {
			t.Errorf("Expected ses_1, got %v", received.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
	})
	defer unsub()

	bus.PublishSync(Event{Type: SessionIdle})
	bus.PublishSync(Event{Type: MessageUpdated})
	bus.PublishSync(Event{Type: Connected})

	if got := atomic.LoadInt32(&count); got != 3 {
		t.Errorf("Expected 3 events, got %d", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.Subscribe(SessionIdle, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: SessionIdle})
	unsub()
	bus.PublishSync(Event{Type: SessionIdle})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected 1 event after unsubscribe, got %d", got)
	}
}

func TestBus_UnsubscribeAllDuringPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	var unsub func()
	unsub = bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
		unsub()
	})

	bus.PublishSync(Event{Type: SessionIdle})
	bus.PublishSync(Event{Type: SessionIdle})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected 1 event, got %d", got)
	}
}

func TestBus_PublishSyncOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "engine") })
	bus.Subscribe(SessionError, func(e Event) { order = append(order, "typed") })
	bus.SubscribeAll(func(e Event) { order = append(order, "renderer") })

	bus.PublishSync(Event{Type: SessionError})

	want := []string{"engine", "typed", "renderer"}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestBus_EventTypeFiltering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var idle, errs int32
	bus.Subscribe(SessionIdle, func(e Event) { atomic.AddInt32(&idle, 1) })
	bus.Subscribe(SessionError, func(e Event) { atomic.AddInt32(&errs, 1) })

	bus.PublishSync(Event{Type: SessionIdle})
	bus.PublishSync(Event{Type: SessionIdle})
	bus.PublishSync(Event{Type: SessionError})
	bus.PublishSync(Event{Type: MessageRemoved})

	if idle != 2 {
		t.Errorf("Expected 2 idle events, got %d", idle)
	}
	if errs != 1 {
		t.Errorf("Expected 1 error event, got %d", errs)
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Publish(Event{Type: SessionIdle})
	bus.PublishSync(Event{Type: SessionIdle})
	if err := bus.PublishRaw([]byte(`{}`)); err != nil {
		t.Errorf("PublishRaw without taps: %v", err)
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()

	var count int32
	bus.SubscribeAll(func(e Event) { atomic.AddInt32(&count, 1) })

	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	bus.PublishSync(Event{Type: SessionIdle})
	unsub := bus.SubscribeAll(func(e Event) { atomic.AddInt32(&count, 1) })
	unsub()
	bus.PublishSync(Event{Type: SessionIdle})

	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("Expected no deliveries after close, got %d", got)
	}
}

func TestBus_Tap(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	raw, err := bus.Tap(ctx)
	if err != nil {
		t.Fatalf("Tap: %v", err)
	}

	envelope := []byte(`{"type":"session.idle","properties":{"sessionID":"ses_1"}}`)
	if err := bus.PublishRaw(envelope); err != nil {
		t.Fatalf("PublishRaw: %v", err)
	}

	select {
	case got := <-raw:
		if string(got) != string(envelope) {
			t.Errorf("Expected %s, got %s", envelope, got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for raw envelope")
	}

	cancel()
	select {
	case _, ok := <-raw:
		for ok {
			_, ok = <-raw
		}
	case <-time.After(time.Second):
		t.Fatal("Tap channel not closed after cancel")
	}
}

func TestBus_ConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var wg sync.WaitGroup
	var count int64

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.SubscribeAll(func(e Event) {
				atomic.AddInt64(&count, 1)
			})
			time.Sleep(5 * time.Millisecond)
			unsub()
		}()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				bus.PublishSync(Event{Type: SessionIdle})
			}
		}()
	}

	wg.Wait()
}
