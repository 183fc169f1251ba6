// ABOUTME: Tests for execution status classification and transition legality.
package tracking

import "testing"

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status   ExecutionStatus
		initial  bool
		active   bool
		terminal bool
	}{
		{StatusPending, true, false, false},
		{StatusPreparing, false, true, false},
		{StatusRunning, false, true, false},
		{StatusCompleted, false, false, true},
		{StatusFailed, false, false, true},
		{StatusCancelled, false, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Initial(); got != tt.initial {
				t.Errorf("Initial() = %v, want %v", got, tt.initial)
			}
			if got := tt.status.Active(); got != tt.active {
				t.Errorf("Active() = %v, want %v", got, tt.active)
			}
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
			if !tt.status.Valid() {
				t.Errorf("Valid() = false for known status")
			}
		})
	}
}

func TestUnknownStatusInvalid(t *testing.T) {
	if ExecutionStatus("PAUSED").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ExecutionStatus
		want     bool
	}{
		{StatusPending, StatusPreparing, true},
		{StatusPreparing, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusRunning, StatusRunning, false},
		{ExecutionStatus("PAUSED"), StatusRunning, false},
		{StatusRunning, ExecutionStatus("PAUSED"), false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNonTerminalStatuses(t *testing.T) {
	statuses := NonTerminalStatuses()
	if len(statuses) != 3 {
		t.Fatalf("expected 3 non-terminal statuses, got %d", len(statuses))
	}
	for _, s := range statuses {
		if s.Terminal() {
			t.Errorf("status %s reported as non-terminal but classifies terminal", s)
		}
	}
}
