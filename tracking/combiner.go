// ABOUTME: Assembles one consolidated markdown document from per-task output files after a run finishes.
// ABOUTME: Tolerates repeat invocations, missing files, and read errors; never fails the execution it serves.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoRunMetadata is returned when a combination is aborted because the run
// metadata collaborator has nothing to attribute the artifact to.
var ErrNoRunMetadata = errors.New("no run metadata for execution")

// TaskStatusRecord is one task's status within an execution, in dependency
// order as resolved by the task tracker.
type TaskStatusRecord struct {
	TaskID string          `json:"task_id"`
	Status ExecutionStatus `json:"status"`
}

// TaskTracker resolves the ordered list of task statuses for an execution.
// The returned order reflects dependency resolution and is load-bearing: the
// combined document preserves it.
type TaskTracker interface {
	TaskStatuses(ctx context.Context, jobID string) ([]TaskStatusRecord, error)
}

// TaskDefinition is a task as originally defined for the run, used for
// display names in the combined document.
type TaskDefinition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RunMetadata describes the run a combined artifact is attributed to.
type RunMetadata struct {
	RunName string
	Status  ExecutionStatus
	Tasks   []TaskDefinition
}

// RunMetadataStore resolves run metadata for an execution. Absence is
// reported as (nil, nil).
type RunMetadataStore interface {
	RunMetadata(ctx context.Context, jobID string) (*RunMetadata, error)
}

// CombinationRecorder records the path of a produced combined document as
// metadata of the combination attempt.
type CombinationRecorder interface {
	RecordCombined(ctx context.Context, jobID, path string) error
}

// OutputCombiner merges the per-task output files of a finished execution
// into a single timestamped markdown document in the shared output directory.
type OutputCombiner struct {
	tasks     TaskTracker
	runs      RunMetadataStore
	recorder  CombinationRecorder
	outputDir string
	now       func() time.Time
}

// CombinerOption configures optional OutputCombiner behavior.
type CombinerOption func(*OutputCombiner)

// WithCombinationRecorder wires a recorder for produced artifact paths.
func WithCombinationRecorder(rec CombinationRecorder) CombinerOption {
	return func(c *OutputCombiner) { c.recorder = rec }
}

// withClock overrides the clock for tests.
func withClock(now func() time.Time) CombinerOption {
	return func(c *OutputCombiner) { c.now = now }
}

// NewOutputCombiner creates a combiner reading from and writing to outputDir.
func NewOutputCombiner(tasks TaskTracker, runs RunMetadataStore, outputDir string, opts ...CombinerOption) *OutputCombiner {
	c := &OutputCombiner{
		tasks:     tasks,
		runs:      runs,
		outputDir: outputDir,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Combine produces the consolidated document for the execution and returns
// its path. With force=false it is the opportunistic trigger: it no-ops
// (returning "" and no error) unless every task is recorded COMPLETED. With
// force=true it combines regardless of per-task bookkeeping. Repeat
// invocations re-derive the document from current data each time.
//
// Combine is a best-effort side channel: callers must treat a non-nil error
// as a logged degradation, never as a failure of the execution itself.
func (c *OutputCombiner) Combine(ctx context.Context, jobID string, force bool) (path string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("combiner: recovered job_id=%s err=%v", jobID, rec)
			path, err = "", fmt.Errorf("combining outputs for %s: panic: %v", jobID, rec)
		}
	}()

	statuses, err := c.tasks.TaskStatuses(ctx, jobID)
	if err != nil {
		log.Printf("combiner: resolving task statuses failed job_id=%s err=%v", jobID, err)
		return "", fmt.Errorf("resolving task statuses for %s: %w", jobID, err)
	}

	if !force && !allTasksCompleted(statuses) {
		return "", nil
	}

	meta, err := c.runs.RunMetadata(ctx, jobID)
	if err != nil {
		log.Printf("combiner: resolving run metadata failed job_id=%s err=%v", jobID, err)
		return "", fmt.Errorf("resolving run metadata for %s: %w", jobID, err)
	}
	if meta == nil {
		log.Printf("combiner: no run metadata, skipping combination job_id=%s", jobID)
		return "", ErrNoRunMetadata
	}

	generatedAt := c.now().UTC()
	doc := c.buildDocument(jobID, meta, statuses, generatedAt)

	outPath := filepath.Join(c.outputDir, fmt.Sprintf("combined_%s_%s.md", jobID, generatedAt.Format("20060102_150405")))
	if err := os.WriteFile(outPath, []byte(doc), 0o644); err != nil {
		log.Printf("combiner: writing combined document failed job_id=%s err=%v", jobID, err)
		return "", fmt.Errorf("writing combined document for %s: %w", jobID, err)
	}

	if c.recorder != nil {
		if err := c.recorder.RecordCombined(ctx, jobID, outPath); err != nil {
			// The artifact exists; a failed metadata write only loses the pointer.
			log.Printf("combiner: recording combined path failed job_id=%s path=%s err=%v", jobID, outPath, err)
		}
	}

	log.Printf("combiner: wrote combined document job_id=%s path=%s tasks=%d", jobID, outPath, len(statuses))
	return outPath, nil
}

// buildDocument renders the combined markdown: a header, then one section per
// task in dependency order.
func (c *OutputCombiner) buildDocument(jobID string, meta *RunMetadata, statuses []TaskStatusRecord, generatedAt time.Time) string {
	names := make(map[string]string, len(meta.Tasks))
	for _, def := range meta.Tasks {
		names[def.ID] = def.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Combined Output: %s\n\n", meta.RunName)
	fmt.Fprintf(&b, "- Status: %s\n", meta.Status)
	fmt.Fprintf(&b, "- Generated: %s\n\n", generatedAt.Format(time.RFC3339))

	for _, ts := range statuses {
		name := names[ts.TaskID]
		if name == "" {
			name = ts.TaskID
		}
		fmt.Fprintf(&b, "## Task: %s (%s)\n\n", name, ts.Status)
		c.appendTaskOutputs(&b, jobID, ts.TaskID)
	}

	return b.String()
}

// appendTaskOutputs writes the matched output files for one task, newest
// first, or an explicit placeholder when nothing matches. The absence of
// output must stay visible to someone debugging the run.
func (c *OutputCombiner) appendTaskOutputs(b *strings.Builder, jobID, taskID string) {
	shortID, ok := ShortTaskID(taskID)
	if !ok {
		fmt.Fprintf(b, "No output files found for task %s.\n\n", taskID)
		return
	}

	matches := c.matchTaskOutputs(jobID, shortID)
	if len(matches) == 0 {
		fmt.Fprintf(b, "No output files found for task %s.\n\n", taskID)
		return
	}

	sortByModTimeDesc(matches)

	for _, match := range matches {
		fmt.Fprintf(b, "### %s\n\n", filepath.Base(match))
		content, err := os.ReadFile(match)
		if err != nil {
			fmt.Fprintf(b, "Error reading %s: %v\n\n", filepath.Base(match), err)
			continue
		}
		b.Write(content)
		if len(content) == 0 || content[len(content)-1] != '\n' {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
}

// matchTaskOutputs finds the output files for one short task id: the exact
// convention name plus any retry-suffixed variants. The suffix separator is
// required so task 1 never claims task 10's files.
func (c *OutputCombiner) matchTaskOutputs(jobID, shortID string) []string {
	base := fmt.Sprintf("job_%s_task-%s", jobID, shortID)

	exact := filepath.Join(c.outputDir, base+".md")
	var matches []string
	if _, err := os.Stat(exact); err == nil {
		matches = append(matches, exact)
	}

	retried, err := filepath.Glob(filepath.Join(c.outputDir, base+"_*.md"))
	if err == nil {
		matches = append(matches, retried...)
	}
	return matches
}

// allTasksCompleted reports whether every task is recorded COMPLETED. An
// execution with no tasks at all is not considered complete.
func allTasksCompleted(statuses []TaskStatusRecord) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, ts := range statuses {
		if ts.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// sortByModTimeDesc orders file paths most recently modified first. The most
// recent write wins when a retried task produced multiple files.
func sortByModTimeDesc(paths []string) {
	mtimes := make(map[string]time.Time, len(paths))
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			mtimes[p] = info.ModTime()
		}
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return mtimes[paths[i]].After(mtimes[paths[j]])
	})
}
