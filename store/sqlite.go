// ABOUTME: SQLite-backed persistence for executions, task statuses, run metadata, and trace records.
// ABOUTME: Implements every storage collaborator the tracking package consumes, with WAL enabled at open.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/murtihash94/kasal-sub013/tracking"
)

// SQLiteStore is the durable store behind the tracking subsystem. One store
// serves the whole process; database/sql provides connection-level safety.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time checks that SQLiteStore satisfies the tracking collaborators.
var (
	_ tracking.ExecutionStore      = (*SQLiteStore)(nil)
	_ tracking.TaskTracker         = (*SQLiteStore)(nil)
	_ tracking.RunMetadataStore    = (*SQLiteStore)(nil)
	_ tracking.TraceStore          = (*SQLiteStore)(nil)
	_ tracking.CombinationRecorder = (*SQLiteStore)(nil)
)

// Open opens or creates the SQLite database at the given path and ensures the
// schema is up to date.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	run_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	combined_output_path TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);

CREATE TABLE IF NOT EXISTS tasks (
	execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
	task_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (execution_id, task_id)
);

CREATE TABLE IF NOT EXISTS traces (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	source TEXT NOT NULL,
	event_type TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	output TEXT NOT NULL,
	extra_data TEXT,
	tenant_id TEXT,
	group_email TEXT
);
CREATE INDEX IF NOT EXISTS idx_traces_job ON traces(job_id, timestamp);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ExecutionRow is the full persisted record of one execution.
type ExecutionRow struct {
	ID           string                   `json:"id"`
	RunName      string                   `json:"run_name"`
	Status       tracking.ExecutionStatus `json:"status"`
	Message      string                   `json:"message"`
	CombinedPath string                   `json:"combined_output_path,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// CreateExecution inserts a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, id, runName string, status tracking.ExecutionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, run_name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, runName, string(status), now, now)
	if err != nil {
		return fmt.Errorf("create execution %q: %w", id, err)
	}
	return nil
}

// GetExecution returns one execution or (nil, nil) when absent.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*ExecutionRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_name, status, message, combined_output_path, created_at, updated_at
		 FROM executions WHERE id = ?`, id)

	var rec ExecutionRow
	var status, createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.RunName, &status, &rec.Message, &rec.CombinedPath, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %q: %w", id, err)
	}
	rec.Status = tracking.ExecutionStatus(status)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &rec, nil
}

// ListByStatus returns a page of executions whose status is in the given set,
// ordered by id for stable paging.
func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses []tracking.ExecutionStatus, limit, offset int) ([]tracking.ExecutionRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, status FROM executions WHERE status IN (?` +
		repeatPlaceholder(len(statuses)-1) +
		`) ORDER BY id LIMIT ? OFFSET ?`

	args := make([]any, 0, len(statuses)+2)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions by status: %w", err)
	}
	defer rows.Close()

	var records []tracking.ExecutionRecord
	for rows.Next() {
		var rec tracking.ExecutionRecord
		var status string
		if err := rows.Scan(&rec.ID, &status); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Status = tracking.ExecutionStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateStatus atomically transitions an execution from its expected current
// status to the new one, recording the message. It fails if the stored status
// no longer matches current or the transition is illegal.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, jobID string, current, next tracking.ExecutionStatus, message string) error {
	if !tracking.CanTransition(current, next) {
		return fmt.Errorf("illegal transition %s -> %s for execution %q", current, next, jobID)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(next), message, now, jobID, string(current))
	if err != nil {
		return fmt.Errorf("update status of execution %q: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status of execution %q: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("execution %q not in status %s", jobID, current)
	}
	return nil
}

// UpsertTask inserts or updates a task's definition, status, and position
// within an execution. Position reflects dependency order.
func (s *SQLiteStore) UpsertTask(ctx context.Context, jobID string, def tracking.TaskDefinition, status tracking.ExecutionStatus, position int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (execution_id, task_id, name, status, position) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id, task_id) DO UPDATE SET name = excluded.name, status = excluded.status, position = excluded.position`,
		jobID, def.ID, def.Name, string(status), position)
	if err != nil {
		return fmt.Errorf("upsert task %q for execution %q: %w", def.ID, jobID, err)
	}
	return nil
}

// SetTaskStatus updates only a task's status.
func (s *SQLiteStore) SetTaskStatus(ctx context.Context, jobID, taskID string, status tracking.ExecutionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ? WHERE execution_id = ? AND task_id = ?`,
		string(status), jobID, taskID)
	if err != nil {
		return fmt.Errorf("set status of task %q: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %q not found for execution %q", taskID, jobID)
	}
	return nil
}

// TaskStatuses returns the execution's task statuses in dependency order.
func (s *SQLiteStore) TaskStatuses(ctx context.Context, jobID string) ([]tracking.TaskStatusRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, status FROM tasks WHERE execution_id = ? ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("task statuses for execution %q: %w", jobID, err)
	}
	defer rows.Close()

	var records []tracking.TaskStatusRecord
	for rows.Next() {
		var rec tracking.TaskStatusRecord
		var status string
		if err := rows.Scan(&rec.TaskID, &status); err != nil {
			return nil, fmt.Errorf("scan task status: %w", err)
		}
		rec.Status = tracking.ExecutionStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RunMetadata returns the run name, status, and original task definitions for
// an execution, or (nil, nil) when the execution does not exist.
func (s *SQLiteStore) RunMetadata(ctx context.Context, jobID string) (*tracking.RunMetadata, error) {
	exec, err := s.GetExecution(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, name FROM tasks WHERE execution_id = ? ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("task definitions for execution %q: %w", jobID, err)
	}
	defer rows.Close()

	meta := &tracking.RunMetadata{RunName: exec.RunName, Status: exec.Status}
	for rows.Next() {
		var def tracking.TaskDefinition
		if err := rows.Scan(&def.ID, &def.Name); err != nil {
			return nil, fmt.Errorf("scan task definition: %w", err)
		}
		meta.Tasks = append(meta.Tasks, def)
	}
	return meta, rows.Err()
}

// RecordCombined stores the path of a produced combined document on the
// execution record.
func (s *SQLiteStore) RecordCombined(ctx context.Context, jobID, path string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET combined_output_path = ?, updated_at = ? WHERE id = ?`, path, now, jobID)
	if err != nil {
		return fmt.Errorf("record combined path for execution %q: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %q not found", jobID)
	}
	return nil
}

// InsertTrace persists one trace record. Absent tenant fields are stored as
// NULL so their absence survives the round trip.
func (s *SQLiteStore) InsertTrace(ctx context.Context, evt tracking.TraceEvent) error {
	id := evt.ID
	if id == "" {
		id = tracking.NewTraceID()
	}

	var extra any
	if len(evt.ExtraData) > 0 {
		data, err := json.Marshal(evt.ExtraData)
		if err != nil {
			return fmt.Errorf("marshal extra_data for trace %q: %w", id, err)
		}
		extra = string(data)
	}

	var tenantID, groupEmail any
	if evt.TenantID != "" {
		tenantID = evt.TenantID
	}
	if evt.GroupEmail != "" {
		groupEmail = evt.GroupEmail
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traces (id, job_id, source, event_type, timestamp, output, extra_data, tenant_id, group_email)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, evt.JobID, evt.Source, evt.EventType, evt.Timestamp.UTC().Format(time.RFC3339Nano),
		evt.Output, extra, tenantID, groupEmail)
	if err != nil {
		return fmt.Errorf("insert trace %q: %w", id, err)
	}
	return nil
}

// TraceFilter selects persisted traces for one execution.
type TraceFilter struct {
	EventType string // filter by event kind; empty means all
	Source    string // filter by producing source; empty means all
	Limit     int    // max results; 0 means a default page of 100
	Offset    int    // skip first N results after filtering
}

// ListTraces returns the execution's traces matching the filter in enqueue
// order, plus the total match count before pagination.
func (s *SQLiteStore) ListTraces(ctx context.Context, jobID string, filter TraceFilter) ([]tracking.TraceEvent, int, error) {
	where := `WHERE job_id = ?`
	args := []any{jobID}
	if filter.EventType != "" {
		where += ` AND event_type = ?`
		args = append(args, filter.EventType)
	}
	if filter.Source != "" {
		where += ` AND source = ?`
		args = append(args, filter.Source)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count traces for execution %q: %w", jobID, err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, job_id, source, event_type, timestamp, output, extra_data, tenant_id, group_email
		 FROM traces ` + where + ` ORDER BY timestamp, id LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list traces for execution %q: %w", jobID, err)
	}
	defer rows.Close()

	events, err := scanTraces(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// TailTraces returns the last n traces for the execution in chronological order.
func (s *SQLiteStore) TailTraces(ctx context.Context, jobID string, n int) ([]tracking.TraceEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, source, event_type, timestamp, output, extra_data, tenant_id, group_email
		 FROM (SELECT * FROM traces WHERE job_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?)
		 ORDER BY timestamp, id`, jobID, n)
	if err != nil {
		return nil, fmt.Errorf("tail traces for execution %q: %w", jobID, err)
	}
	defer rows.Close()
	return scanTraces(rows)
}

func scanTraces(rows *sql.Rows) ([]tracking.TraceEvent, error) {
	var events []tracking.TraceEvent
	for rows.Next() {
		var evt tracking.TraceEvent
		var ts string
		var extra, tenantID, groupEmail sql.NullString
		if err := rows.Scan(&evt.ID, &evt.JobID, &evt.Source, &evt.EventType, &ts, &evt.Output, &extra, &tenantID, &groupEmail); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		evt.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &evt.ExtraData); err != nil {
				return nil, fmt.Errorf("parse extra_data of trace %q: %w", evt.ID, err)
			}
		}
		evt.TenantID = tenantID.String
		evt.GroupEmail = groupEmail.String
		events = append(events, evt)
	}
	return events, rows.Err()
}

// repeatPlaceholder returns ", ?" repeated n times for IN clauses.
func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
