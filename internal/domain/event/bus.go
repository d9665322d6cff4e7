package event

import (
	"sync"
	"time"
)

// DefaultCapacity is the default bounded size of the event ring.
const DefaultCapacity = 10000

// Sink receives published events. Implementations must be safe for
// concurrent use; the bus invokes sinks synchronously on the publisher's
// goroutine, so slow sinks should hand off internally.
type Sink interface {
	Consume(e SecurityEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e SecurityEvent)

// Consume implements Sink.
func (f SinkFunc) Consume(e SecurityEvent) { f(e) }

// Bus is a bounded, thread-safe append log of security events with
// callback-registration subscribers. Components push events onto the bus;
// the audit monitor and external sinks subscribe to the stream, with a
// dedicated alert channel for critical-severity events.
type Bus struct {
	mu     sync.RWMutex
	ring   []SecurityEvent
	start  int // index of the oldest event
	count  int
	cap    int
	sinks  []Sink
	alerts []Sink
}

// NewBus creates an event bus with the given ring capacity.
// A capacity <= 0 uses DefaultCapacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		ring: make([]SecurityEvent, capacity),
		cap:  capacity,
	}
}

// Subscribe registers a sink for every published event.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// SubscribeAlerts registers a sink invoked only for critical-severity events.
func (b *Bus) SubscribeAlerts(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = append(b.alerts, s)
}

// Publish assigns the event an ID and timestamp if unset, appends it to the
// ring (evicting the oldest when full), and notifies subscribers.
func (b *Bus) Publish(e SecurityEvent) SecurityEvent {
	if e.ID == "" {
		e.ID = NewEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	if b.count < b.cap {
		b.ring[(b.start+b.count)%b.cap] = e
		b.count++
	} else {
		// Ring full: overwrite the oldest slot.
		b.ring[b.start] = e
		b.start = (b.start + 1) % b.cap
	}
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	var alerts []Sink
	if e.Severity == SeverityCritical {
		alerts = make([]Sink, len(b.alerts))
		copy(alerts, b.alerts)
	}
	b.mu.Unlock()

	// Notify outside the lock so a sink can query the bus.
	for _, s := range sinks {
		s.Consume(e)
	}
	for _, s := range alerts {
		s.Consume(e)
	}
	return e
}

// Recent returns up to limit events matching the filter, newest first.
// A limit <= 0 defaults to 100.
func (b *Bus) Recent(limit int, filter Filter) []SecurityEvent {
	if limit <= 0 {
		limit = 100
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []SecurityEvent
	for i := b.count - 1; i >= 0 && len(result) < limit; i-- {
		e := b.ring[(b.start+i)%b.cap]
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of events currently retained.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
