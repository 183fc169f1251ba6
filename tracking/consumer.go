// ABOUTME: The single background consumer draining the trace queue into durable storage.
// ABOUTME: Blocking pops are fine here; this loop is off the request path and stops with its context.
package tracking

import (
	"context"
	"log"
)

// TraceStore persists consumed trace records.
type TraceStore interface {
	InsertTrace(ctx context.Context, evt TraceEvent) error
}

// TraceConsumer is the one consumer of the process-wide trace queue. Exactly
// one should run per process.
type TraceConsumer struct {
	queue *TraceQueue
	store TraceStore
}

// NewTraceConsumer creates a consumer draining queue into store.
func NewTraceConsumer(queue *TraceQueue, store TraceStore) *TraceConsumer {
	return &TraceConsumer{queue: queue, store: store}
}

// Run blocks draining the queue until the context is done or the queue is
// closed and empty. A failed insert is logged and the loop continues; one bad
// record must not stall telemetry for everything else.
func (c *TraceConsumer) Run(ctx context.Context) {
	for {
		evt, ok := c.queue.Dequeue(ctx)
		if !ok {
			return
		}
		if err := c.store.InsertTrace(ctx, evt); err != nil {
			log.Printf("trace consumer: persisting trace failed job_id=%s event_type=%s err=%v", evt.JobID, evt.EventType, err)
		}
	}
}

// Flush synchronously drains whatever is buffered right now, persisting with
// the given context. Used during graceful shutdown after the queue is closed.
func (c *TraceConsumer) Flush(ctx context.Context) int {
	flushed := 0
	for {
		evt, ok := c.queue.TryDequeue()
		if !ok {
			return flushed
		}
		if err := c.store.InsertTrace(ctx, evt); err != nil {
			log.Printf("trace consumer: flush insert failed job_id=%s err=%v", evt.JobID, err)
			continue
		}
		flushed++
	}
}
