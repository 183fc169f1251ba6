// ABOUTME: Routes globally broadcast engine events to the one live execution that owns the producing agent.
// ABOUTME: Holds per-execution registrations behind a RWMutex and installs the bus subscription exactly once.
package tracking

import (
	"log"
	"sort"
	"sync"

	"github.com/murtihash94/kasal-sub013/engine"
)

// EventSource is the global broadcast channel the router subscribes to.
// Events carry a producing agent's role but no execution id.
type EventSource interface {
	Subscribe(engine.Handler)
}

// ExecutionRegistration is the in-memory record the router holds while an
// execution is live. It must always be removed when the run ends, on every
// exit path, or it can mis-route events from later executions that reuse an
// agent role name.
type ExecutionRegistration struct {
	JobID      string
	AgentRoles map[string]struct{}
	Tenant     *TenantContext
	Queue      *TraceQueue
}

// EventRouter redistributes each broadcast agent event to the trace queue of
// the first registered execution whose agent-role set contains the producing
// role. At-most-one delivery is deliberate: two live executions sharing an
// identical role string have the event routed to whichever registered first,
// a documented limitation rather than something to fix by broadcasting.
type EventRouter struct {
	source EventSource

	mu    sync.RWMutex
	regs  map[string]*ExecutionRegistration
	order []string // registration order; first match wins during routing

	subscribeOnce sync.Once
}

// NewEventRouter creates a router over the given event source. The source
// subscription is installed lazily on the first Register call.
func NewEventRouter(source EventSource) *EventRouter {
	return &EventRouter{
		source: source,
		regs:   make(map[string]*ExecutionRegistration),
	}
}

// RegisterOption customizes a registration.
type RegisterOption func(*ExecutionRegistration)

// WithRegistrationTenant attaches tenant attribution to routed trace records.
func WithRegistrationTenant(tc *TenantContext) RegisterOption {
	return func(reg *ExecutionRegistration) { reg.Tenant = tc }
}

// Register records that the execution owns the given agent roles and should
// receive routed events on the given queue. Registering an id that is already
// present overwrites its roles and tenant but keeps its original position in
// the first-match routing order.
func (r *EventRouter) Register(jobID string, agentRoles []string, queue *TraceQueue, opts ...RegisterOption) {
	roles := make(map[string]struct{}, len(agentRoles))
	for _, role := range agentRoles {
		if role == "" {
			continue
		}
		roles[role] = struct{}{}
	}

	reg := &ExecutionRegistration{
		JobID:      jobID,
		AgentRoles: roles,
		Queue:      queue,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	if _, exists := r.regs[jobID]; !exists {
		r.order = append(r.order, jobID)
	}
	r.regs[jobID] = reg
	r.mu.Unlock()

	r.subscribeOnce.Do(func() {
		r.source.Subscribe(r.handleEvent)
	})

	log.Printf("event router: registered job_id=%s roles=%d", jobID, len(roles))
}

// Unregister removes the execution's registration. Absent ids are a no-op, so
// it is safe to call from every exit path.
func (r *EventRouter) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regs[jobID]; !exists {
		return
	}
	delete(r.regs, jobID)
	for i, id := range r.order {
		if id == jobID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Printf("event router: unregistered job_id=%s", jobID)
}

// Scope registers the execution and returns a release function that
// unregisters it. Callers defer the release so the registration is removed on
// success, error, and cancellation paths alike.
func (r *EventRouter) Scope(jobID string, agentRoles []string, queue *TraceQueue, opts ...RegisterOption) func() {
	r.Register(jobID, agentRoles, queue, opts...)
	return func() { r.Unregister(jobID) }
}

// ActiveCount returns the number of live registrations.
func (r *EventRouter) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}

// TrackedRoles returns the sorted union of agent roles across all live
// registrations.
func (r *EventRouter) TrackedRoles() []string {
	r.mu.RLock()
	union := make(map[string]struct{})
	for _, reg := range r.regs {
		for role := range reg.AgentRoles {
			union[role] = struct{}{}
		}
	}
	r.mu.RUnlock()

	roles := make([]string, 0, len(union))
	for role := range union {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// handleEvent is the single global handler installed on the event source. It
// must never panic or propagate: a failure here would break event delivery
// for every other execution in the process.
func (r *EventRouter) handleEvent(evt engine.AgentEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("event router: recovered while handling event role=%s err=%v", evt.AgentRole, rec)
		}
	}()

	if evt.AgentRole == "" {
		return
	}

	reg := r.matchRegistration(evt.AgentRole)
	if reg == nil {
		return
	}

	eventType := evt.Type
	if eventType == "" {
		eventType = EventTypeLLMCall
	}

	opts := []EnqueueOption{
		WithSource(evt.AgentRole),
		WithEventType(eventType),
		WithTenant(reg.Tenant),
	}
	if !evt.Timestamp.IsZero() {
		opts = append(opts, WithTimestamp(evt.Timestamp))
	}
	if len(evt.Metadata) > 0 {
		opts = append(opts, WithExtraData(evt.Metadata))
	}
	reg.Queue.Enqueue(reg.JobID, evt.Content, opts...)
}

// matchRegistration returns the first-registered execution owning the role,
// or nil when no live execution claims it.
func (r *EventRouter) matchRegistration(role string) *ExecutionRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, jobID := range r.order {
		reg := r.regs[jobID]
		if reg == nil {
			continue
		}
		if _, ok := reg.AgentRoles[role]; ok {
			return reg
		}
	}
	return nil
}
