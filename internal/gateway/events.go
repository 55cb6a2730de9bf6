package gateway

import (
	"log/slog"
	"sync"
)

// DefaultEventBuffer is the event feed capacity used when none is configured.
const DefaultEventBuffer = 256

// NodeEvent is one event frame received from a node, tagged with its origin.
type NodeEvent struct {
	NodeID      string
	Name        string
	PayloadJSON string
}

// EventFeed is a bounded buffer of node events for gateway-side consumers
// (agent loops, relays). When full, the oldest event is dropped so a stalled
// consumer never blocks a node's read loop.
type EventFeed struct {
	logger *slog.Logger

	mu      sync.Mutex
	ch      chan NodeEvent
	dropped uint64
}

// NewEventFeed creates a feed holding at most size events.
func NewEventFeed(size int, logger *slog.Logger) *EventFeed {
	if size <= 0 {
		size = DefaultEventBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventFeed{
		logger: logger,
		ch:     make(chan NodeEvent, size),
	}
}

// Publish enqueues an event, evicting the oldest entry when full.
func (f *EventFeed) Publish(e NodeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		select {
		case f.ch <- e:
			return
		default:
		}
		select {
		case old := <-f.ch:
			f.dropped++
			f.logger.Warn("event feed full, dropping oldest",
				"nodeId", old.NodeID, "event", old.Name, "dropped", f.dropped)
		default:
		}
	}
}

// Events returns the receive side of the feed.
func (f *EventFeed) Events() <-chan NodeEvent {
	return f.ch
}

// Dropped reports how many events have been evicted.
func (f *EventFeed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
