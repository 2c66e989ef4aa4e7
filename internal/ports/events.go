package ports

import (
	"context"

	"github.com/eleven-am/strand/internal/domain"
)

type EventHandler func(event domain.Event)

// EventBus decouples state-change producers from durable logging and
// in-process subscribers. Emit persists first (best-effort), then delivers
// synchronously in subscription order; per-name emission order is
// preserved, with no guarantee across distinct names.
type EventBus interface {
	Emit(ctx context.Context, name string, payload interface{})

	// Subscribe registers a handler for an exact event name or a trailing
	// "*" prefix pattern. The returned function cancels the subscription.
	Subscribe(pattern string, handler EventHandler) func()
}
