package events

import (
	"context"
	"errors"
	"sync"

	"leadmarket/platform/logger"
)

// InMemoryBus is a process-local Bus implementation. Handlers registered for
// an event name are invoked in subscription order; Publish detaches from the
// caller's request lifecycle, PublishSync does not.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
}

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for the given event name.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish dispatches the event to all handlers asynchronously.
// Handler errors are logged, never propagated to the publisher.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	handlers := b.handlersFor(event.EventName())
	if len(handlers) == 0 {
		return
	}

	// Detach from the request context so in-flight handlers survive the
	// originating request, but keep context values for logging.
	detached := context.WithoutCancel(ctx)

	go func() {
		for _, h := range handlers {
			b.invoke(detached, event, h)
		}
	}()
}

// PublishSync dispatches the event and waits for all handlers to complete,
// joining any handler errors.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	var errs []error
	for _, h := range b.handlersFor(event.EventName()) {
		if err := h.Handle(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *InMemoryBus) handlersFor(eventName string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[eventName]))
	copy(handlers, b.handlers[eventName])
	return handlers
}

func (b *InMemoryBus) invoke(ctx context.Context, event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "event", event.EventName(), "panic", r)
		}
	}()

	if err := h.Handle(ctx, event); err != nil {
		b.log.Error("event handler failed", "event", event.EventName(), "error", err)
	}
}
