package ui

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Message is a notification pushed to a registered frontend handler.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Handler receives wallet notifications. Implementations must not block:
// delivery happens on the sync worker's goroutine.
type Handler interface {
	Handle(msg Message)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(msg Message)

func (f HandlerFunc) Handle(msg Message) {
	f(msg)
}

// Registry tracks frontend handlers by identity. Deliveries to identities
// that are not registered are silently dropped, matching the fire-and-forget
// contract of wallet UI notifications.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds the handler and returns its identity token.
func (r *Registry) Register(h Handler) string {
	id := uuid.New().String()
	r.mu.Lock()
	r.handlers[id] = h
	r.mu.Unlock()
	log.Debugf("ui handler registered, id: %s", id)
	return id
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

// Deliver sends an event to one handler. Unknown ids are dropped without
// error so callers never have to care whether a window is still open.
func (r *Registry) Deliver(id, event string, payload interface{}) {
	r.mu.RLock()
	h, ok := r.handlers[id]
	r.mu.RUnlock()
	if !ok {
		log.Debugf("ui handler %s not registered, dropping %s", id, event)
		return
	}
	h.Handle(Message{Event: event, Payload: payload})
}

// Broadcast sends an event to every registered handler.
func (r *Registry) Broadcast(event string, payload interface{}) {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()
	for _, h := range handlers {
		h.Handle(Message{Event: event, Payload: payload})
	}
}
