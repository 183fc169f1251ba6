// ABOUTME: Reconciles executions left in a non-terminal state by an unclean process shutdown or restart.
// ABOUTME: Force-cancels stale jobs in bounded pages; individual failures are skipped, never fatal.
package tracking

import (
	"context"
	"log"
)

// StaleJobMessage is the status message recorded when a stale job is
// force-cancelled.
const StaleJobMessage = "cancelled - service was restarted while job was running"

// DefaultCleanupBatchSize bounds how many stale executions are loaded per page.
const DefaultCleanupBatchSize = 100

// ExecutionRecord is the view of a persisted execution the cleanup service
// works with.
type ExecutionRecord struct {
	ID     string          `json:"id"`
	Status ExecutionStatus `json:"status"`
}

// ExecutionStore is the persisted-execution collaborator: paged queries by
// status and atomic status transitions with a human-readable message.
type ExecutionStore interface {
	// ListByStatus returns a page of executions whose status is in the given
	// set, ordered stably by id.
	ListByStatus(ctx context.Context, statuses []ExecutionStatus, limit, offset int) ([]ExecutionRecord, error)

	// UpdateStatus transitions the execution from its current status to the
	// new one, persisting the message with it. It fails when the transition
	// is illegal or the record no longer matches the expected current status.
	UpdateStatus(ctx context.Context, jobID string, current, next ExecutionStatus, message string) error
}

// CleanupService cancels executions whose persisted status claims they are
// active while no in-memory supervisor exists for them. This happens whenever
// the process restarts with jobs mid-flight.
type CleanupService struct {
	store     ExecutionStore
	batchSize int
}

// NewCleanupService creates a cleanup service over the given store.
func NewCleanupService(store ExecutionStore) *CleanupService {
	return &CleanupService{store: store, batchSize: DefaultCleanupBatchSize}
}

// SetBatchSize overrides the page size for stale-job scans.
func (s *CleanupService) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// CleanupStaleJobs transitions every non-terminal execution to CANCELLED and
// returns how many were transitioned. It is safe to call repeatedly: once
// nothing is left non-terminal it returns 0. A failure on one job is logged
// and does not abort the rest; a failure to query at all yields 0 rather than
// an error, since cleanup must never prevent the process from starting or
// stopping.
func (s *CleanupService) CleanupStaleJobs(ctx context.Context) int {
	cleaned := 0
	offset := 0

	for {
		page, err := s.store.ListByStatus(ctx, NonTerminalStatuses(), s.batchSize, offset)
		if err != nil {
			log.Printf("cleanup: listing stale jobs failed offset=%d err=%v", offset, err)
			return cleaned
		}
		if len(page) == 0 {
			break
		}

		failed := 0
		for _, rec := range page {
			if rec.Status.Terminal() {
				continue
			}
			if err := s.store.UpdateStatus(ctx, rec.ID, rec.Status, StatusCancelled, StaleJobMessage); err != nil {
				log.Printf("cleanup: cancelling stale job failed job_id=%s status=%s err=%v", rec.ID, rec.Status, err)
				failed++
				continue
			}
			log.Printf("cleanup: cancelled stale job job_id=%s previous_status=%s", rec.ID, rec.Status)
			cleaned++
		}

		// Jobs that failed to transition stay non-terminal and would reappear
		// on the next page query; skip past them to guarantee progress.
		offset += failed
	}

	if cleaned > 0 {
		log.Printf("cleanup: reconciled stale jobs count=%d", cleaned)
	}
	return cleaned
}
