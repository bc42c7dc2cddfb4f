// Package events provides the in-process publish/subscribe channel over
// which analysis lifecycle events are delivered. The dispatcher is the
// sole publisher; consumers such as a reporting UI subscribe by event
// type and receive a stream.
package events

import (
	"log/slog"
	"sync"

	"github.com/clearline/recon/internal/model"
)

// Type identifies an event on the bus.
type Type string

// Event type constants.
const (
	AnalysisStarted   Type = "analysis:started"
	AnalysisCompleted Type = "analysis:completed"
	AnalysisFailed    Type = "analysis:failed"
)

// Event is a single message on the bus.
type Event struct {
	Type             Type
	ReconciliationID string
	TaskID           string
	Reason           string
	Results          []model.AnalysisResult
}

// subscriberBuffer is the channel depth per subscriber. A subscriber that
// falls this far behind loses events, with a warning logged.
const subscriberBuffer = 16

// Bus fans events out to subscribers by type.
type Bus struct {
	subs map[Type][]chan Event
	mu   sync.RWMutex
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]chan Event)}
}

// Subscribe returns a stream of events of the given type and a cancel
// function that closes the stream.
func (b *Bus) Subscribe(t Type) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[t] = append(b.subs[t], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[t]
		for i, c := range chans {
			if c == ch {
				b.subs[t] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers of its type without
// blocking the publisher.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.Type] {
		select {
		case ch <- e:
		default:
			slog.Warn("Dropping event for slow subscriber",
				"type", e.Type,
				"task_id", e.TaskID)
		}
	}
}
