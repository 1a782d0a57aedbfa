package events

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// EventLogger mirrors every bus event into the structured log. It buffers
// writes so a slow log sink never back-pressures publishers; overflow drops
// the event with a warning.
type EventLogger struct {
	logger *zap.Logger
	buffer chan Event

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewEventLogger creates the logger and starts its drain goroutine.
func NewEventLogger(logger *zap.Logger) *EventLogger {
	el := &EventLogger{
		logger:  logger,
		buffer:  make(chan Event, 1000),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go el.process()
	return el
}

// Handle is a bus Handler; subscribe it with pattern "*". Events arriving
// after Close are dropped.
func (el *EventLogger) Handle(ctx context.Context, event Event) error {
	select {
	case <-el.done:
		return nil
	default:
	}
	select {
	case el.buffer <- event:
	default:
		el.logger.Warn("event buffer full, dropping event",
			zap.String("type", string(event.Type)))
	}
	return nil
}

// Close stops the drain goroutine after flushing whatever is buffered.
// Idempotent; returns once the goroutine has exited.
func (el *EventLogger) Close() {
	el.closeOnce.Do(func() { close(el.done) })
	<-el.stopped
}

func (el *EventLogger) process() {
	defer close(el.stopped)
	for {
		select {
		case event := <-el.buffer:
			el.write(event)
		case <-el.done:
			for {
				select {
				case event := <-el.buffer:
					el.write(event)
				default:
					return
				}
			}
		}
	}
}

func (el *EventLogger) write(event Event) {
	data, _ := json.Marshal(event.Payload)
	el.logger.Info("event",
		zap.String("type", string(event.Type)),
		zap.String("provider", event.Provider),
		zap.Time("at", event.Timestamp),
		zap.String("payload", string(data)),
	)
}
