// Package events demultiplexes inbound channel events to registered handlers.
//
// The router does not buffer: a handler only sees events dispatched after it
// subscribed. Components needing current state request a snapshot once the
// channel is open instead of relying on replay.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/bookcross/cli/pkg/logger"
)

// Handler receives the decoded payload of a named event.
type Handler func(data map[string]any)

// Router maps event names to independently revocable handlers.
type Router struct {
	mu       sync.Mutex
	handlers map[string]map[string]Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]map[string]Handler)}
}

// Subscribe registers handler for event and returns its revocation func.
// Multiple handlers per event are legal and all fire; the returned func
// removes only this registration and is idempotent.
func (r *Router) Subscribe(event string, handler Handler) func() {
	id := uuid.NewString()

	r.mu.Lock()
	set, ok := r.handlers[event]
	if !ok {
		set = make(map[string]Handler)
		r.handlers[event] = set
	}
	set[id] = handler
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.handlers[event]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.handlers, event)
			}
		}
	}
}

// Dispatch delivers an event to every live handler for its name. Handlers run
// on the caller's goroutine in registration-independent order; a panicking
// handler is logged and does not block its siblings.
func (r *Router) Dispatch(event string, data map[string]any) {
	r.mu.Lock()
	set := r.handlers[event]
	handlers := make([]Handler, 0, len(set))
	for _, h := range set {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		invoke(event, h, data)
	}
}

func invoke(event string, h Handler, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("handler for %q panicked: %v", event, r)
		}
	}()
	h(data)
}
