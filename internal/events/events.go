package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Bus fans mesh happenings out to in-process consumers (notifier, metrics,
// future dashboards). Publishing never blocks on a slow consumer.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(pattern string, handler Handler) error

	// Replay returns buffered events inside the window, oldest first.
	Replay(from, to time.Time) ([]Event, error)
}

// Event is one mesh happening. Payload carries the typed record behind the
// event (a failover event, a node snapshot) for consumers that want it.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Provider  string      `json:"provider,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// EventType categorizes events.
type EventType string

const (
	FailoverTriggered  EventType = "failover.triggered"
	FailoverCompleted  EventType = "failover.completed"
	FailoverRejected   EventType = "failover.rejected"
	FailoverSuperseded EventType = "failover.superseded"
	NodeStatusChanged  EventType = "node.status_changed"
	MeshScoreUpdated   EventType = "mesh.score_updated"
	AlertNoCandidate   EventType = "alert.no_candidate"
)

// Handler processes events. Handlers run on their own goroutine; a slow or
// failing handler never stalls the publisher.
type Handler func(ctx context.Context, event Event) error

// SimpleBus is the in-memory Bus used by the daemon.
type SimpleBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	events    []Event
	maxEvents int
}

// NewSimpleBus creates a bus buffering the most recent events for replay.
func NewSimpleBus() *SimpleBus {
	return &SimpleBus{
		handlers:  make(map[string][]Handler),
		events:    make([]Event, 0, 1024),
		maxEvents: 1024,
	}
}

// Publish delivers an event to every matching subscriber.
func (b *SimpleBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		b.events = b.events[1:]
	}

	for pattern, handlers := range b.handlers {
		if matchesPattern(string(event.Type), pattern) {
			for _, handler := range handlers {
				go handler(ctx, event) // Async processing
			}
		}
	}

	return nil
}

// Subscribe registers a handler for a type pattern: an exact type,
// a "failover.*" prefix wildcard, or "*" for everything.
func (b *SimpleBus) Subscribe(pattern string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[pattern] = append(b.handlers[pattern], handler)
	return nil
}

// Replay returns buffered events inside the window.
func (b *SimpleBus) Replay(from, to time.Time) ([]Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.Timestamp.After(from) && event.Timestamp.Before(to) {
			result = append(result, event)
		}
	}

	return result, nil
}

func matchesPattern(eventType, pattern string) bool {
	if pattern == "*" || eventType == pattern {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
