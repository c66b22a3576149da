package bus

import (
	"context"
	"sync"

	"github.com/driftnote/driftnote-backend/internal/realtime"
)

// memoryBus is a process-local Bus for tests and single-node runs
// without Redis.
type memoryBus struct {
	mu        sync.Mutex
	listeners []func(e realtime.Event)
	closed    bool
}

func NewMemoryBus() Bus {
	return &memoryBus{}
}

func (b *memoryBus) Publish(ctx context.Context, event realtime.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	listeners := make([]func(e realtime.Event), len(b.listeners))
	copy(listeners, b.listeners)
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil
	}
	for _, fn := range listeners {
		fn(event)
	}
	return nil
}

func (b *memoryBus) StartForwarder(ctx context.Context, onEvent func(e realtime.Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, onEvent)
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = nil
	return nil
}
