// ABOUTME: Tests for the SQLite store over a temp database: executions, tasks, metadata, traces.
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/murtihash94/kasal-sub013/tracking"
)

// newTestStore opens a store backed by a fresh on-disk database.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tracking.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateExecution(ctx, "exec-1", "Research Crew", tracking.StatusPending); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	rec, err := s.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.RunName != "Research Crew" || rec.Status != tracking.StatusPending {
		t.Errorf("record = %+v", rec)
	}

	missing, err := s.GetExecution(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil) for absent execution, got (%v, %v)", missing, err)
	}
}

func TestCreateExecutionRejectsInvalidStatus(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateExecution(context.Background(), "exec-1", "x", tracking.ExecutionStatus("PAUSED")); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateExecution(ctx, "exec-1", "x", tracking.StatusRunning); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateStatus(ctx, "exec-1", tracking.StatusRunning, tracking.StatusCancelled, tracking.StaleJobMessage)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	rec, _ := s.GetExecution(ctx, "exec-1")
	if rec.Status != tracking.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", rec.Status)
	}
	if rec.Message != tracking.StaleJobMessage {
		t.Errorf("message = %q", rec.Message)
	}
}

func TestUpdateStatusRejectsTerminalExit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateExecution(ctx, "exec-1", "x", tracking.StatusCompleted)

	if err := s.UpdateStatus(ctx, "exec-1", tracking.StatusCompleted, tracking.StatusRunning, "restart"); err == nil {
		t.Error("expected error leaving a terminal status")
	}
}

func TestUpdateStatusDetectsStaleExpectation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateExecution(ctx, "exec-1", "x", tracking.StatusRunning)

	if err := s.UpdateStatus(ctx, "exec-1", tracking.StatusPending, tracking.StatusCancelled, "msg"); err == nil {
		t.Error("expected error when stored status differs from expected current")
	}
}

func TestListByStatusPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.CreateExecution(ctx, "a", "x", tracking.StatusRunning)
	_ = s.CreateExecution(ctx, "b", "x", tracking.StatusPending)
	_ = s.CreateExecution(ctx, "c", "x", tracking.StatusCompleted)
	_ = s.CreateExecution(ctx, "d", "x", tracking.StatusPreparing)

	page, err := s.ListByStatus(ctx, tracking.NonTerminalStatuses(), 2, 0)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(page) != 2 || page[0].ID != "a" || page[1].ID != "b" {
		t.Errorf("first page = %+v", page)
	}

	page, err = s.ListByStatus(ctx, tracking.NonTerminalStatuses(), 2, 2)
	if err != nil {
		t.Fatalf("ListByStatus offset: %v", err)
	}
	if len(page) != 1 || page[0].ID != "d" {
		t.Errorf("second page = %+v", page)
	}
}

func TestTaskStatusesDependencyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateExecution(ctx, "exec-1", "x", tracking.StatusRunning)

	// Insert out of dependency order on purpose.
	_ = s.UpsertTask(ctx, "exec-1", tracking.TaskDefinition{ID: "task_2", Name: "Write"}, tracking.StatusPending, 1)
	_ = s.UpsertTask(ctx, "exec-1", tracking.TaskDefinition{ID: "task_1", Name: "Research"}, tracking.StatusCompleted, 0)

	statuses, err := s.TaskStatuses(ctx, "exec-1")
	if err != nil {
		t.Fatalf("TaskStatuses: %v", err)
	}
	if len(statuses) != 2 || statuses[0].TaskID != "task_1" || statuses[1].TaskID != "task_2" {
		t.Errorf("statuses = %+v, want dependency order task_1, task_2", statuses)
	}

	if err := s.SetTaskStatus(ctx, "exec-1", "task_2", tracking.StatusCompleted); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	statuses, _ = s.TaskStatuses(ctx, "exec-1")
	if statuses[1].Status != tracking.StatusCompleted {
		t.Errorf("task_2 status = %s", statuses[1].Status)
	}
}

func TestRunMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateExecution(ctx, "exec-1", "Research Crew", tracking.StatusCompleted)
	_ = s.UpsertTask(ctx, "exec-1", tracking.TaskDefinition{ID: "task_1", Name: "Research"}, tracking.StatusCompleted, 0)

	meta, err := s.RunMetadata(ctx, "exec-1")
	if err != nil {
		t.Fatalf("RunMetadata: %v", err)
	}
	if meta == nil || meta.RunName != "Research Crew" || meta.Status != tracking.StatusCompleted {
		t.Errorf("meta = %+v", meta)
	}
	if len(meta.Tasks) != 1 || meta.Tasks[0].Name != "Research" {
		t.Errorf("tasks = %+v", meta.Tasks)
	}

	absent, err := s.RunMetadata(ctx, "nope")
	if err != nil || absent != nil {
		t.Errorf("expected (nil, nil) for absent run, got (%v, %v)", absent, err)
	}
}

func TestRecordCombined(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateExecution(ctx, "exec-1", "x", tracking.StatusCompleted)

	if err := s.RecordCombined(ctx, "exec-1", "/out/combined_exec-1_x.md"); err != nil {
		t.Fatalf("RecordCombined: %v", err)
	}
	rec, _ := s.GetExecution(ctx, "exec-1")
	if rec.CombinedPath != "/out/combined_exec-1_x.md" {
		t.Errorf("CombinedPath = %q", rec.CombinedPath)
	}

	if err := s.RecordCombined(ctx, "nope", "/x"); err == nil {
		t.Error("expected error for absent execution")
	}
}

func TestInsertAndListTraces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	events := []tracking.TraceEvent{
		{ID: "t1", JobID: "exec-1", Source: "Researcher", EventType: tracking.EventTypeLLMCall, Timestamp: base, Output: "one"},
		{ID: "t2", JobID: "exec-1", Source: "execution", EventType: tracking.EventTypeTaskCompleted, Timestamp: base.Add(time.Minute), Output: "two", ExtraData: map[string]any{"task_id": "task_1"}},
		{ID: "t3", JobID: "exec-2", Source: "Writer", EventType: tracking.EventTypeLLMCall, Timestamp: base.Add(2 * time.Minute), Output: "other job"},
	}
	for _, evt := range events {
		if err := s.InsertTrace(ctx, evt); err != nil {
			t.Fatalf("InsertTrace(%s): %v", evt.ID, err)
		}
	}

	got, total, err := s.ListTraces(ctx, "exec-1", TraceFilter{})
	if err != nil {
		t.Fatalf("ListTraces: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("total = %d, len = %d, want 2/2", total, len(got))
	}
	if got[0].ID != "t1" || got[1].ID != "t2" {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].ExtraData["task_id"] != "task_1" {
		t.Errorf("ExtraData = %v", got[1].ExtraData)
	}
	if got[0].HasTenant() {
		t.Error("tenant fields must stay absent through the round trip")
	}

	filtered, total, err := s.ListTraces(ctx, "exec-1", TraceFilter{EventType: tracking.EventTypeLLMCall})
	if err != nil {
		t.Fatalf("filtered ListTraces: %v", err)
	}
	if total != 1 || len(filtered) != 1 || filtered[0].ID != "t1" {
		t.Errorf("filtered = %+v total = %d", filtered, total)
	}
}

func TestListTracesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		evt := tracking.TraceEvent{
			ID: string(rune('a' + i)), JobID: "exec-1", Source: "s",
			EventType: tracking.EventTypeAgentExecution,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.InsertTrace(ctx, evt); err != nil {
			t.Fatal(err)
		}
	}

	page, total, err := s.ListTraces(ctx, "exec-1", TraceFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListTraces: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 || page[0].ID != "c" || page[1].ID != "d" {
		t.Errorf("page = %+v", page)
	}
}

func TestTailTraces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_ = s.InsertTrace(ctx, tracking.TraceEvent{
			ID: string(rune('a' + i)), JobID: "exec-1", Source: "s",
			EventType: tracking.EventTypeAgentExecution,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	tail, err := s.TailTraces(ctx, "exec-1", 2)
	if err != nil {
		t.Fatalf("TailTraces: %v", err)
	}
	if len(tail) != 2 || tail[0].ID != "c" || tail[1].ID != "d" {
		t.Errorf("tail = %+v", tail)
	}

	all, err := s.TailTraces(ctx, "exec-1", 10)
	if err != nil || len(all) != 4 {
		t.Errorf("tail beyond size = %d events, err %v", len(all), err)
	}
}

func TestInsertTracePreservesTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	evt := tracking.TraceEvent{
		ID: "t1", JobID: "exec-1", Source: "Researcher",
		EventType: tracking.EventTypeLLMCall,
		Timestamp: time.Now().UTC(),
		TenantID:  "tenant-7", GroupEmail: "ops@example.com",
	}
	if err := s.InsertTrace(ctx, evt); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.ListTraces(ctx, "exec-1", TraceFilter{})
	if err != nil || len(got) != 1 {
		t.Fatalf("ListTraces: %v (%d)", err, len(got))
	}
	if got[0].TenantID != "tenant-7" || got[0].GroupEmail != "ops@example.com" {
		t.Errorf("tenant = (%q, %q)", got[0].TenantID, got[0].GroupEmail)
	}
}

func TestCleanupServiceAgainstSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.CreateExecution(ctx, "job1", "x", tracking.StatusRunning)
	_ = s.CreateExecution(ctx, "job2", "x", tracking.StatusPending)
	_ = s.CreateExecution(ctx, "job3", "x", tracking.StatusCompleted)

	svc := tracking.NewCleanupService(s)
	if got := svc.CleanupStaleJobs(ctx); got != 2 {
		t.Fatalf("CleanupStaleJobs = %d, want 2", got)
	}

	for _, id := range []string{"job1", "job2"} {
		rec, _ := s.GetExecution(ctx, id)
		if rec.Status != tracking.StatusCancelled {
			t.Errorf("%s status = %s, want CANCELLED", id, rec.Status)
		}
	}
	rec, _ := s.GetExecution(ctx, "job3")
	if rec.Status != tracking.StatusCompleted {
		t.Errorf("job3 status = %s, want untouched COMPLETED", rec.Status)
	}

	if got := svc.CleanupStaleJobs(ctx); got != 0 {
		t.Errorf("second CleanupStaleJobs = %d, want 0", got)
	}
}
