// ABOUTME: Heuristic derivation of the short numeric task identifier used in output file names.
// ABOUTME: Handles the known id shapes (task_task-N, task_N, bare N) with a digit-run fallback.
package tracking

import "strings"

// ShortTaskID derives the short identifier for a task id as it appears in
// output file names. Known prefixes and separators are stripped first:
// "task_task-7" and "task_7" both yield "7", as does a bare "7". If stripping
// leaves a non-numeric remainder, the first run of digits anywhere in the
// original id is used instead. The second return value is false when no
// digits exist to derive an id from; callers must branch on it rather than
// treating an empty string as meaningful.
func ShortTaskID(taskID string) (string, bool) {
	s := taskID
	for {
		switch {
		case strings.HasPrefix(s, "task_"):
			s = strings.TrimPrefix(s, "task_")
		case strings.HasPrefix(s, "task-"):
			s = strings.TrimPrefix(s, "task-")
		default:
			if s != "" && allDigits(s) {
				return s, true
			}
			return firstDigitRun(taskID)
		}
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// firstDigitRun extracts the first maximal run of consecutive digits in s.
func firstDigitRun(s string) (string, bool) {
	start := -1
	for i, r := range s {
		isDigit := r >= '0' && r <= '9'
		if isDigit && start < 0 {
			start = i
		}
		if !isDigit && start >= 0 {
			return s[start:i], true
		}
	}
	if start >= 0 {
		return s[start:], true
	}
	return "", false
}
