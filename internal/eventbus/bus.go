// Package eventbus is a single-process, in-memory publish/subscribe hub.
package eventbus

import (
	"context"
	"sync"

	"github.com/wku/velox-orchestrator/internal/log"
)

// Event names required by spec.
const (
	EventWebhookReceived = "webhook_received"
	EventRoutesUpdated   = "routes_updated"
	EventDeployCompleted = "deploy_completed"
)

// Handler processes one emitted event. Its error is logged, never
// propagated to the emitter.
type Handler func(ctx context.Context, payload any) error

// Bus is a named-handler pub/sub hub. Handlers for a given event name are
// invoked synchronously, in registration order; one handler's error does
// not stop the rest. Delivery is best-effort, in-order per Emit call, with
// no persistence and no cross-process fan-out.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
	}
}

// On registers handler to run whenever name is emitted.
func (b *Bus) On(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Emit invokes every handler registered for name, in order. Handler
// errors are logged and do not abort remaining handlers or propagate to
// the caller.
func (b *Bus) Emit(ctx context.Context, name string, payload any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[name]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, payload); err != nil {
			log.Logger.Error().Err(err).Str("event", name).Msg("event handler failed")
		}
	}
}

// HandlerCount returns the number of handlers registered for name, used
// mostly by tests.
func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
