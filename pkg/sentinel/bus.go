package sentinel

import (
	"sync"
	"sync/atomic"
)

// GuardEventType enumerates the typed events the bus carries.
type GuardEventType string

const (
	GuardSpanStart       GuardEventType = "span_start"
	GuardSpanEnd         GuardEventType = "span_end"
	GuardEventCreated    GuardEventType = "event_created"
	GuardEventResolved   GuardEventType = "event_resolved"
	GuardVerdictCreated  GuardEventType = "verdict_created"
	GuardShieldDecision  GuardEventType = "shield_decision"
)

// GuardEvent is one message published on the Bus.
type GuardEvent struct {
	Type    GuardEventType
	Payload interface{}
}

// subscriber is a buffered channel plus the goroutine draining it into a
// callback, so a slow consumer drops events instead of blocking Publish.
type subscriber struct {
	ch chan GuardEvent
}

// Bus is a process-local, non-blocking publish/subscribe channel for guard
// events. Publish never blocks on a slow subscriber: each subscriber has a
// bounded buffer, and a full buffer drops the event rather than stalling
// the producer.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int
	dropped     atomic.Int64
}

// NewBus builds a Bus whose per-subscriber buffer holds bufferSize pending
// events before it starts dropping.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		subscribers: make(map[int]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers handler to run (in its own goroutine) for every event
// published after this call. The returned func unsubscribes.
func (b *Bus) Subscribe(handler func(GuardEvent)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan GuardEvent, b.bufferSize)}
	b.subscribers[id] = sub
	b.mu.Unlock()

	go func() {
		for ev := range sub.ch {
			handler(ev)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			close(s.ch)
			delete(b.subscribers, id)
		}
	}
}

// Publish fans ev out to every current subscriber without blocking; a
// subscriber whose buffer is full drops the event.
func (b *Bus) Publish(ev GuardEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events dropped so far due to full
// subscriber buffers, for health/metrics reporting.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
