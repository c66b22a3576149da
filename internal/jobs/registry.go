package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/driftnote/driftnote-backend/internal/types"
)

// Handler executes one job kind. A nil return marks the job succeeded;
// a permanent-input error kills it; anything else schedules a retry.
type Handler interface {
	Kind() string
	Handle(ctx context.Context, job *types.JobRun) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	kind := h.Kind()
	if kind == "" {
		return fmt.Errorf("handler Kind() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for kind=%s", kind)
	}
	r.handlers[kind] = h
	return nil
}

func (r *Registry) Get(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}
