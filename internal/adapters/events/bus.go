package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/strand/internal/domain"
	"github.com/eleven-am/strand/internal/ports"
	"github.com/google/uuid"
)

// Bus is the durable, ordered pub/sub for state-change notifications.
// Emit persists the event first (best-effort), then delivers synchronously
// to matching subscribers in subscription order. Sequencing and persistence
// are serialized, so the durable log follows emission order per name;
// concurrent emitters of the same name race only on delivery.
type Bus struct {
	storage ports.Storage
	logger  *slog.Logger

	emitMu    sync.Mutex
	sequences map[string]int64

	mu   sync.RWMutex
	subs []subscription
}

type subscription struct {
	id      string
	pattern string
	handler ports.EventHandler
}

func NewBus(storage ports.Storage, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		storage:   storage,
		logger:    logger.With("component", "event-bus"),
		sequences: make(map[string]int64),
	}
}

// Emit persists then delivers one event. Sequencing and the durable write
// happen under the emission lock; delivery runs after it is released, so a
// subscriber may emit on the same bus without deadlocking. A persistence
// failure is logged and never aborts delivery; a panicking subscriber is
// recovered and never prevents delivery to the remaining subscribers.
func (b *Bus) Emit(ctx context.Context, name string, payload interface{}) {
	b.emitMu.Lock()
	b.sequences[name]++
	event := domain.Event{
		Name:      name,
		Payload:   payload,
		Sequence:  b.sequences[name],
		Timestamp: time.Now(),
	}

	if b.storage != nil {
		if err := b.storage.SaveEvent(ctx, &event); err != nil {
			b.logger.Warn("failed to persist event",
				"name", name,
				"sequence", event.Sequence,
				"error", err)
		}
	}
	b.emitMu.Unlock()

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if patternMatches(sub.pattern, name) {
			b.safeCall(sub, event)
		}
	}
}

// Subscribe registers a handler for an exact name or a trailing "*" prefix
// pattern. The returned function cancels the subscription.
func (b *Bus) Subscribe(pattern string, handler ports.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: handler,
	}
	b.subs = append(b.subs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		filtered := b.subs[:0]
		for _, s := range b.subs {
			if s.id != sub.id {
				filtered = append(filtered, s)
			}
		}
		b.subs = filtered
	}
}

func patternMatches(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}

func (b *Bus) safeCall(sub subscription, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"pattern", sub.pattern,
				"name", event.Name,
				"panic", r)
		}
	}()
	sub.handler(event)
}
