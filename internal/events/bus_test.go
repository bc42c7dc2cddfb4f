package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()

	completed, cancel := bus.Subscribe(AnalysisCompleted)
	defer cancel()

	bus.Publish(Event{Type: AnalysisStarted, TaskID: "other"})
	bus.Publish(Event{Type: AnalysisCompleted, TaskID: "task-1", ReconciliationID: "sess-1"})

	select {
	case e := <-completed:
		assert.Equal(t, "task-1", e.TaskID)
		assert.Equal(t, "sess-1", e.ReconciliationID)
	case <-time.After(time.Second):
		t.Fatal("expected completed event")
	}

	// Only the subscribed type is delivered.
	select {
	case e := <-completed:
		t.Fatalf("unexpected event %v", e)
	default:
	}
}

func TestBusCancelClosesStream(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(AnalysisFailed)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic or deliver.
	bus.Publish(Event{Type: AnalysisFailed, TaskID: "task-1"})
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(AnalysisStarted)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: AnalysisStarted, TaskID: "flood"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	// The buffer's worth made it through; the rest were dropped.
	require.Len(t, ch, 16)
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	a, cancelA := bus.Subscribe(AnalysisCompleted)
	defer cancelA()
	b, cancelB := bus.Subscribe(AnalysisCompleted)
	defer cancelB()

	bus.Publish(Event{Type: AnalysisCompleted, TaskID: "fanout"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			assert.Equal(t, "fanout", e.TaskID)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}
