// ABOUTME: Execution lifecycle statuses and their classification as initial, active, or terminal.
// ABOUTME: Terminal statuses admit no further transitions; everything else reasons through this contract.
package tracking

// ExecutionStatus is the lifecycle state of one workflow execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING"
	StatusPreparing ExecutionStatus = "PREPARING"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusCancelled ExecutionStatus = "CANCELLED"
)

// Initial reports whether the status is the pre-start state.
func (s ExecutionStatus) Initial() bool {
	return s == StatusPending
}

// Active reports whether the execution is being driven forward.
func (s ExecutionStatus) Active() bool {
	return s == StatusPreparing || s == StatusRunning
}

// Terminal reports whether the status is final. No transition leaves a
// terminal status.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the six known statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// NonTerminalStatuses returns the statuses an execution can hold while a live
// supervisor is expected to exist. The cleanup service scans for these.
func NonTerminalStatuses() []ExecutionStatus {
	return []ExecutionStatus{StatusPending, StatusPreparing, StatusRunning}
}

// CanTransition reports whether moving from one status to another is legal.
// Any move out of a terminal status is illegal; self-transitions are not.
func CanTransition(from, to ExecutionStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	return from != to
}
