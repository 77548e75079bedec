package workitems

import (
	"fmt"
	"sync"
)

// ErrNoHandler wraps the unroutable work item type. This is a configuration
// error, not a transient one; the processor surfaces it loudly.
type ErrNoHandler struct {
	Type string
}

func (e *ErrNoHandler) Error() string {
	return fmt.Sprintf("no handler registered for work item type %q", e.Type)
}

// Registry maps work item types to handlers. Registration happens at wiring
// time in main(); lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(itemType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[itemType] = handler
}

func (r *Registry) GetHandler(itemType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[itemType]
	if !ok {
		return nil, &ErrNoHandler{Type: itemType}
	}
	return h, nil
}
