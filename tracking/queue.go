// ABOUTME: Bounded process-wide FIFO queue decoupling trace producers from the single persistence consumer.
// ABOUTME: Enqueue is non-blocking and drop-on-full; telemetry loss is logged, never fatal to the producer.
package tracking

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultQueueCapacity bounds the trace queue when no capacity is configured.
const DefaultQueueCapacity = 1000

// Typed enqueue failures so callers and tests can assert on which condition
// occurred instead of scraping log output.
var (
	ErrQueueFull   = errors.New("trace queue is full")
	ErrQueueClosed = errors.New("trace queue is closed")
)

// TraceQueue is a bounded FIFO of TraceEvents shared by all producers in the
// process. One instance is created at process startup and injected wherever
// traces are produced; the queue itself provides all needed synchronization.
type TraceQueue struct {
	events chan TraceEvent

	mu     sync.Mutex
	closed bool
}

// NewTraceQueue creates a queue bounded at the given capacity. Non-positive
// capacities fall back to DefaultQueueCapacity.
func NewTraceQueue(capacity int) *TraceQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &TraceQueue{events: make(chan TraceEvent, capacity)}
}

// EnqueueOption customizes a record built by Enqueue.
type EnqueueOption func(*TraceEvent)

// WithSource sets the agent role or logical stage that produced the record.
func WithSource(source string) EnqueueOption {
	return func(e *TraceEvent) { e.Source = source }
}

// WithEventType overrides the default agent_execution event kind.
func WithEventType(eventType string) EnqueueOption {
	return func(e *TraceEvent) { e.EventType = eventType }
}

// WithTimestamp overrides the default now() timestamp.
func WithTimestamp(ts time.Time) EnqueueOption {
	return func(e *TraceEvent) { e.Timestamp = ts }
}

// WithTenant attaches tenant attribution. Without this option the tenant
// fields are genuinely absent from the record.
func WithTenant(tc *TenantContext) EnqueueOption {
	return func(e *TraceEvent) {
		if tc == nil {
			return
		}
		e.TenantID = tc.TenantID
		e.GroupEmail = tc.GroupEmail
	}
}

// WithExtraData attaches the structured extra_data map.
func WithExtraData(extra map[string]any) EnqueueOption {
	return func(e *TraceEvent) { e.ExtraData = extra }
}

// Enqueue builds a TraceEvent for the given execution and pushes it without
// blocking. It returns true on success. A full or closed queue yields false
// and a log line; the caller must treat that as dropped telemetry, never as a
// failure of the execution itself. Enqueue does not panic or propagate errors
// into the producer's control flow.
func (q *TraceQueue) Enqueue(jobID, content string, opts ...EnqueueOption) bool {
	evt := TraceEvent{
		ID:        NewTraceID(),
		JobID:     jobID,
		Source:    "execution",
		EventType: EventTypeAgentExecution,
		Timestamp: time.Now().UTC(),
		Output:    content,
	}
	for _, opt := range opts {
		opt(&evt)
	}

	if err := q.Push(evt); err != nil {
		log.Printf("trace queue: dropping event job_id=%s event_type=%s reason=%v", jobID, evt.EventType, err)
		return false
	}
	return true
}

// Push performs the non-blocking enqueue of an already-built record, returning
// ErrQueueFull or ErrQueueClosed on failure.
func (q *TraceQueue) Push(evt TraceEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.events <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until an event is available, the queue is closed and
// drained, or the context is done. The second return value is false when no
// event was delivered.
func (q *TraceQueue) Dequeue(ctx context.Context) (TraceEvent, bool) {
	select {
	case evt, ok := <-q.events:
		return evt, ok
	case <-ctx.Done():
		return TraceEvent{}, false
	}
}

// TryDequeue pops an event if one is immediately available.
func (q *TraceQueue) TryDequeue() (TraceEvent, bool) {
	select {
	case evt, ok := <-q.events:
		return evt, ok
	default:
		return TraceEvent{}, false
	}
}

// Len returns the number of events currently buffered.
func (q *TraceQueue) Len() int {
	return len(q.events)
}

// Cap returns the queue's bounded capacity.
func (q *TraceQueue) Cap() int {
	return cap(q.events)
}

// Close marks the queue closed for producers. Buffered events remain
// available via Dequeue until drained. Closing twice is safe.
func (q *TraceQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.events)
}
