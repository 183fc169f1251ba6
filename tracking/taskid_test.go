// ABOUTME: Exhaustive tests for the short task id heuristic over known and degenerate id shapes.
package tracking

import "testing"

func TestShortTaskID(t *testing.T) {
	tests := []struct {
		name   string
		taskID string
		want   string
		ok     bool
	}{
		{"double prefix", "task_task-7", "7", true},
		{"single underscore prefix", "task_7", "7", true},
		{"single dash prefix", "task-7", "7", true},
		{"bare numeric", "7", "7", true},
		{"multi digit", "task_task-42", "42", true},
		{"prefix then text with digits", "task_alpha12beta", "12", true},
		{"digits embedded mid string", "step3of9", "3", true},
		{"trailing digits", "final-8", "8", true},
		{"no digits at all", "task_alpha", "", false},
		{"empty", "", "", false},
		{"only prefixes", "task_task-", "", false},
		{"uuid-ish id", "task_ab12cd", "12", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ShortTaskID(tt.taskID)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ShortTaskID(%q) = (%q, %v), want (%q, %v)", tt.taskID, got, ok, tt.want, tt.ok)
			}
		})
	}
}
