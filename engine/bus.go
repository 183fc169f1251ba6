// ABOUTME: In-process broadcast bus for engine-level agent events with no execution attribution.
// ABOUTME: Handlers are invoked synchronously per publish; a panicking handler never breaks the bus.
package engine

import (
	"log"
	"sync"
	"time"
)

// AgentEvent is a single engine-level event. The engine broadcasts these
// globally: there is no execution id attached, only the role of the agent
// that produced the event.
type AgentEvent struct {
	AgentRole string         `json:"agent_role"`
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Handler receives broadcast agent events.
type Handler func(AgentEvent)

// Bus is a process-wide publish point for agent events. Subscribers receive
// every published event in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe adds a handler that will be called for every subsequent publish.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to all subscribed handlers. A zero timestamp is
// filled with the current UTC time. A panic in one handler is recovered and
// logged so the remaining handlers still receive the event.
func (b *Bus) Publish(evt AgentEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		invoke(h, evt)
	}
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func invoke(h Handler, evt AgentEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine bus: handler panic recovered role=%s type=%s err=%v", evt.AgentRole, evt.Type, r)
		}
	}()
	h(evt)
}
