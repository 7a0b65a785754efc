package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Event names a tenant lifecycle point.
type Event string

// The event set is fixed. Listeners for any other name are rejected.
const (
	EventCreated  Event = "tenant_created"
	EventSwitched Event = "tenant_switched"
	EventDropped  Event = "tenant_dropped"
)

// Events returns the supported lifecycle events in firing-documentation order.
func Events() []Event {
	return []Event{EventCreated, EventSwitched, EventDropped}
}

func (e Event) valid() bool {
	switch e {
	case EventCreated, EventSwitched, EventDropped:
		return true
	}
	return false
}

// Listener reacts to a lifecycle event for tenant. A non-nil error aborts the
// remaining listeners and fails the operation that fired the event.
type Listener func(ctx context.Context, tenant string) error

// Hub holds listeners per event. Registration order is invocation order.
type Hub struct {
	mu        sync.RWMutex
	listeners map[Event][]Listener
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[Event][]Listener)}
}

// On appends fn to the listeners of event.
func (h *Hub) On(event Event, fn Listener) error {
	if !event.valid() {
		return errors.Join(ErrUnknownEvent, fmt.Errorf("event %q", event))
	}
	if fn == nil {
		return ErrNilListener
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[event] = append(h.listeners[event], fn)
	return nil
}

// Fire invokes the listeners of event synchronously. The first failure stops
// the firing and is returned wrapped in ErrCallbackFailure.
func (h *Hub) Fire(ctx context.Context, event Event, tenant string) error {
	h.mu.RLock()
	listeners := h.listeners[event]
	h.mu.RUnlock()

	// listeners is append-only, so the slice header read above is a stable snapshot.
	for i, fn := range listeners {
		if err := fn(ctx, tenant); err != nil {
			return errors.Join(ErrCallbackFailure, fmt.Errorf("%s listener #%d for %q: %w", event, i, tenant, err))
		}
	}
	return nil
}

// Len reports the number of listeners registered for event.
func (h *Hub) Len(event Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[event])
}

// Clear drops every listener.
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = make(map[Event][]Listener)
}
