package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratodata/groundlink/internal/monitoring"
	"github.com/stratodata/groundlink/internal/telemetry"
)

// EventKind tags a StreamEvent variant.
type EventKind int

const (
	// EventTelemetry carries one decoded telemetry record.
	EventTelemetry EventKind = iota
	// EventTerminal carries one plain text line from the link.
	EventTerminal
	// EventError reports a transport failure observed by the monitoring
	// loop. The loop keeps running; the caller decides whether to reconnect.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventTelemetry:
		return "telemetry"
	case EventTerminal:
		return "terminal"
	case EventError:
		return "error"
	}
	return "unknown"
}

// StreamEvent is one item produced by a session's monitoring loop.
type StreamEvent struct {
	Kind      EventKind
	Line      string
	Record    *telemetry.Record
	Err       error
	Timestamp time.Time
}

const (
	// DefaultQueueCapacity bounds the event queue.
	DefaultQueueCapacity = 100
	// evictBatch is how many of the oldest events are dropped to make room
	// when the queue is full.
	evictBatch = 5
)

// EventQueue is a bounded FIFO of stream events with an attached broadcast
// registry. The producer (the monitoring loop) never blocks: a full queue
// evicts its oldest entries, and slow subscribers miss events rather than
// stall delivery.
type EventQueue struct {
	mu          sync.Mutex
	events      []StreamEvent
	capacity    int
	dropWarned  bool
	subscribers map[string]chan StreamEvent
}

// NewEventQueue creates a queue with the given capacity; zero or negative
// capacity selects DefaultQueueCapacity.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &EventQueue{
		capacity:    capacity,
		subscribers: make(map[string]chan StreamEvent),
	}
}

// Push appends an event, evicting up to evictBatch of the oldest entries if
// the queue is at capacity. If the queue is somehow still full the new event
// is dropped and a warning is logged once until a push succeeds again. The
// event is also broadcast to all subscribers without blocking.
func (q *EventQueue) Push(ev StreamEvent) {
	q.mu.Lock()
	if len(q.events) >= q.capacity {
		drop := evictBatch
		if drop > len(q.events) {
			drop = len(q.events)
		}
		q.events = append(q.events[:0], q.events[drop:]...)
	}
	if len(q.events) >= q.capacity {
		if !q.dropWarned {
			q.dropWarned = true
			monitoring.Logf("session: event queue still full after eviction, dropping %s event", ev.Kind)
		}
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, ev)
	q.dropWarned = false

	for _, ch := range q.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is not keeping up; skip rather than block the producer
		}
	}
	q.mu.Unlock()
}

// Pop removes and returns the oldest event, if any.
func (q *EventQueue) Pop() (StreamEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return StreamEvent{}, false
	}
	ev := q.events[0]
	q.events = append(q.events[:0], q.events[1:]...)
	return ev, true
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Clear drops all queued events. Called on reconnect so stale data from a
// previous link does not leak into the new stream.
func (q *EventQueue) Clear() {
	q.mu.Lock()
	q.events = q.events[:0]
	q.mu.Unlock()
}

// Subscribe registers a buffered channel that receives every pushed event.
// Safe to call concurrently with delivery.
func (q *EventQueue) Subscribe() (string, <-chan StreamEvent) {
	id := uuid.NewString()
	ch := make(chan StreamEvent, 16)
	q.mu.Lock()
	q.subscribers[id] = ch
	q.mu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel. Unknown ids are a
// no-op.
func (q *EventQueue) Unsubscribe(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ch, ok := q.subscribers[id]; ok {
		close(ch)
		delete(q.subscribers, id)
	}
}
