package event

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// RawTopic is the watermill topic carrying undecoded envelopes.
const RawTopic = "custodian.raw"

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an ID.
type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus delivers decoded events to subscribers and raw envelopes to taps.
// Decoded events use direct calls to preserve type information; raw
// envelopes go through a watermill gochannel so taps can consume them at
// their own pace.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel
	taps   atomic.Int32

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 256,
				Persistent:          false,
				// Keeps raw envelopes in stream order for taps.
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
		subscribers: make(map[EventType][]subscriberEntry),
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = slices.Delete(slices.Clone(subs), i, i+1)
			return
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = slices.Delete(slices.Clone(b.global), i, i+1)
			return
		}
	}
}

// collect returns the subscribers for eventType in subscription order.
func (b *Bus) collect(eventType EventType) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	entries := make([]subscriberEntry, 0, len(b.subscribers[eventType])+len(b.global))
	entries = append(entries, b.subscribers[eventType]...)
	entries = append(entries, b.global...)
	slices.SortFunc(entries, func(a, c subscriberEntry) int {
		switch {
		case a.id < c.id:
			return -1
		case a.id > c.id:
			return 1
		}
		return 0
	})

	subs := make([]Subscriber, len(entries))
	for i, e := range entries {
		subs[i] = e.fn
	}
	return subs
}

// Publish sends an event to all subscribers asynchronously.
// Each subscriber is called in its own goroutine.
func (b *Bus) Publish(event Event) {
	for _, sub := range b.collect(event.Type) {
		go sub(event)
	}
}

// PublishSync calls every subscriber in the current goroutine, in the
// order they subscribed, before returning.
func (b *Bus) PublishSync(event Event) {
	for _, sub := range b.collect(event.Type) {
		sub(event)
	}
}

// PublishRaw forwards an undecoded envelope to active taps. It is a no-op
// when nobody is tapping.
func (b *Bus) PublishRaw(data []byte) error {
	if b.taps.Load() == 0 {
		return nil
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil
	}
	msg := message.NewMessage(watermill.NewULID(), slices.Clone(data))
	return b.pubsub.Publish(RawTopic, msg)
}

// Tap returns a channel of raw envelopes published after the call. The
// channel is closed when ctx is done or the bus is closed.
func (b *Bus) Tap(ctx context.Context) (<-chan []byte, error) {
	msgs, err := b.pubsub.Subscribe(ctx, RawTopic)
	if err != nil {
		return nil, err
	}
	b.taps.Add(1)

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer b.taps.Add(-1)
		for msg := range msgs {
			payload := msg.Payload
			msg.Ack()
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
