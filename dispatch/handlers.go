package dispatch

import (
	"sort"
	"sync"
)

// Handler describes what the dispatcher knows about a job class.
type Handler struct {
	Class string
	// Queue is the queue the class declares for itself.
	Queue string
}

// Handlers maps class names to their handlers. It replaces resolving a class
// from its textual name at run time: unknown names fail fast with
// ErrUnknownClass.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlers(handlers ...Handler) *Handlers {
	h := &Handlers{handlers: make(map[string]Handler, len(handlers))}
	for _, handler := range handlers {
		h.Register(handler)
	}
	return h
}

func (h *Handlers) Register(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[handler.Class] = handler
}

func (h *Handlers) Lookup(class string) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[class]
	return handler, ok
}

// Classes returns the registered class names, sorted.
func (h *Handlers) Classes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.handlers))
	for class := range h.handlers {
		out = append(out, class)
	}
	sort.Strings(out)
	return out
}
