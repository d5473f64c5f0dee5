package server

import (
	"context"
	"sync"
	"time"
)

const (
	// EventJudged is published after a judger callback settles a round.
	EventJudged = "judged"
	// EventRejudge is published after a rejudge resets submissions.
	EventRejudge = "rejudge"
)

// JudgmentEvent notifies watchers that a submission's verdict state moved.
type JudgmentEvent struct {
	SubmissionID uint64
	EventType    string
	Status       string
	Timestamp    time.Time
}

// JudgmentDispatcher fans judgment events out to per-submission watchers, so
// clients can follow a pending verdict without polling the database.
type JudgmentDispatcher struct {
	mu          sync.RWMutex
	subscribers map[uint64]map[int64]*judgmentSubscriber
	nextID      int64
	bufferSize  int
}

type judgmentSubscriber struct {
	id     int64
	stream chan JudgmentEvent
}

// NewJudgmentDispatcher constructs a dispatcher with a small per-watcher buffer.
func NewJudgmentDispatcher() *JudgmentDispatcher {
	return &JudgmentDispatcher{
		subscribers: make(map[uint64]map[int64]*judgmentSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a watcher for one submission. The returned cleanup is
// idempotent and also runs when the context is cancelled.
func (d *JudgmentDispatcher) Subscribe(ctx context.Context, submissionID uint64) (<-chan JudgmentEvent, func()) {
	if submissionID == 0 {
		ch := make(chan JudgmentEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &judgmentSubscriber{
		id:     d.nextSequence(),
		stream: make(chan JudgmentEvent, d.bufferSize),
	}
	d.registerSubscriber(submissionID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(submissionID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers an event to every watcher of the submission. Slow watchers
// with a full buffer miss the event rather than blocking the publisher.
func (d *JudgmentDispatcher) Publish(event JudgmentEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[event.SubmissionID] {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *JudgmentDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *JudgmentDispatcher) registerSubscriber(submissionID uint64, subscriber *judgmentSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subscribers[submissionID] == nil {
		d.subscribers[submissionID] = make(map[int64]*judgmentSubscriber)
	}
	d.subscribers[submissionID][subscriber.id] = subscriber
}

func (d *JudgmentDispatcher) unregisterSubscriber(submissionID uint64, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	watchers := d.subscribers[submissionID]
	if watchers == nil {
		return
	}
	if subscriber, ok := watchers[id]; ok {
		delete(watchers, id)
		close(subscriber.stream)
	}
	if len(watchers) == 0 {
		delete(d.subscribers, submissionID)
	}
}
