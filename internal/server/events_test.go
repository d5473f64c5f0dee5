package server

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversToSubscribers(t *testing.T) {
	dispatcher := NewJudgmentDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background(), 5)
	defer cleanup()

	event := JudgmentEvent{SubmissionID: 5, EventType: EventJudged, Status: "Judged", Timestamp: time.Now()}
	dispatcher.Publish(event)

	select {
	case received := <-stream:
		if received.EventType != EventJudged || received.SubmissionID != 5 {
			t.Fatalf("unexpected event %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an event")
	}
}

func TestDispatcherScopesEventsPerSubmission(t *testing.T) {
	dispatcher := NewJudgmentDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background(), 5)
	defer cleanup()

	dispatcher.Publish(JudgmentEvent{SubmissionID: 6, EventType: EventJudged})

	select {
	case event := <-stream:
		t.Fatalf("watcher of submission 5 must not see submission 6 events, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcherCleanupClosesStream(t *testing.T) {
	dispatcher := NewJudgmentDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background(), 5)
	cleanup()
	cleanup()

	if _, open := <-stream; open {
		t.Fatalf("stream must be closed after cleanup")
	}

	// Publishing after cleanup must not panic or block.
	dispatcher.Publish(JudgmentEvent{SubmissionID: 5, EventType: EventJudged})
}

func TestDispatcherContextCancellationUnsubscribes(t *testing.T) {
	dispatcher := NewJudgmentDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	stream, _ := dispatcher.Subscribe(ctx, 5)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-stream:
			if !open {
				return
			}
		case <-deadline:
			t.Fatalf("stream must close after context cancellation")
		}
	}
}

func TestDispatcherFullBufferDropsInsteadOfBlocking(t *testing.T) {
	dispatcher := NewJudgmentDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background(), 5)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			dispatcher.Publish(JudgmentEvent{SubmissionID: 5, EventType: EventJudged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publisher must never block on a slow watcher")
	}
	if len(stream) != cap(stream) {
		t.Fatalf("expected a full buffer, got %d of %d", len(stream), cap(stream))
	}
}
