// ABOUTME: TraceEvent record type, event kind constants, and tenant attribution context.
// ABOUTME: Trace record ids are ULIDs generated from crypto/rand so all code shares one entropy source.
package tracking

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event kinds observed during an execution. The set is open: producers may
// emit kinds beyond these well-known ones.
const (
	EventTypeAgentExecution = "agent_execution"
	EventTypeTaskCompleted  = "task_completed"
	EventTypeLLMCall        = "llm_call"
	EventTypeJobStarted     = "job_started"
	EventTypeJobFinished    = "job_finished"
)

// TenantContext attributes telemetry to the tenant on whose behalf an
// execution runs. A nil *TenantContext means no attribution at all: the
// tenant fields are then absent from the record, not empty.
type TenantContext struct {
	TenantID   string `json:"tenant_id"`
	GroupEmail string `json:"group_email"`
}

// TraceEvent is one immutable telemetry record for an execution. It is
// created by a producer, consumed exactly once by the persistence layer, and
// never mutated.
type TraceEvent struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id"`
	Source     string         `json:"source"`
	EventType  string         `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Output     string         `json:"output"`
	ExtraData  map[string]any `json:"extra_data,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	GroupEmail string         `json:"group_email,omitempty"`
}

// HasTenant reports whether the record carries tenant attribution.
func (e TraceEvent) HasTenant() bool {
	return e.TenantID != "" || e.GroupEmail != ""
}

// NewTraceID generates a ULID for a trace record using crypto/rand entropy.
func NewTraceID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
