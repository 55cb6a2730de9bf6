package node

import (
	"log/slog"
	"sync"
)

// DefaultEventBuffer is the queue capacity used when none is configured.
const DefaultEventBuffer = 64

// Well-known event names a node emits toward the gateway.
const (
	EventVoiceTranscript = "voice.transcript"
	EventAgentRequest    = "agent.request"
)

// Event is one gateway-originated event frame, queued for local consumers.
type Event struct {
	Name        string
	PayloadJSON string
}

// EventQueue is a bounded buffer of inbound events. When full, the oldest
// event is dropped so a stalled consumer never blocks the read loop.
type EventQueue struct {
	logger *slog.Logger

	mu      sync.Mutex
	ch      chan Event
	dropped uint64
}

// NewEventQueue creates a queue holding at most size events.
func NewEventQueue(size int, logger *slog.Logger) *EventQueue {
	if size <= 0 {
		size = DefaultEventBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventQueue{
		logger: logger,
		ch:     make(chan Event, size),
	}
}

// Publish enqueues an event, evicting the oldest entry when full.
func (q *EventQueue) Publish(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		select {
		case q.ch <- e:
			return
		default:
		}
		select {
		case old := <-q.ch:
			q.dropped++
			q.logger.Warn("event queue full, dropping oldest", "event", old.Name, "dropped", q.dropped)
		default:
		}
	}
}

// Events returns the receive side of the queue.
func (q *EventQueue) Events() <-chan Event {
	return q.ch
}

// Dropped reports how many events have been evicted.
func (q *EventQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
