package bus

import (
	"context"

	"github.com/driftnote/driftnote-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, event realtime.Event) error
	StartForwarder(ctx context.Context, onEvent func(e realtime.Event)) error
	Close() error
}
