// Package eventbus is a small generic pub/sub bus letting a host
// application observe engine lifecycle events (ingest, retrieval,
// maintenance cycles) without the engine itself depending on any
// particular notification transport.
package eventbus

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aurora-assistant/ragmemory/internal/xlog"
)

// Handler processes one published event payload.
type Handler[T any] func(payload T) error

// Bus registers and dispatches named events to type-safe handlers. The
// zero value is not usable; construct with New.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]func(payload any) error
	logger   *zap.Logger
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogger attaches a logger for errors from asynchronous Emit
// handlers, which have no caller to return the error to.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New returns an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{handlers: make(map[string][]func(payload any) error)}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = xlog.OrNop(b.logger)
	return b
}

// Subscribe registers a typed handler under eventName.
func Subscribe[T any](b *Bus, eventName string, handler Handler[T]) error {
	if b == nil {
		return errors.New("eventbus: bus is nil")
	}
	if eventName == "" {
		return errors.New("eventbus: eventName is empty")
	}
	if handler == nil {
		return errors.New("eventbus: handler is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	wrapper := func(payload any) error {
		typed, ok := payload.(T)
		if !ok {
			return fmt.Errorf("eventbus: type assertion failed for event %q: expected %T, got %T", eventName, *new(T), payload)
		}
		return handler(typed)
	}
	b.handlers[eventName] = append(b.handlers[eventName], wrapper)
	return nil
}

// Unsubscribe removes every handler registered for eventName.
func Unsubscribe(b *Bus, eventName string) error {
	if b == nil {
		return errors.New("eventbus: bus is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, eventName)
	return nil
}

// Emit dispatches payload to every eventName handler asynchronously. A
// missing subscriber is not an error: the engine emits lifecycle events
// regardless of whether anything is listening. Since nothing awaits the
// spawned goroutines, a handler error has no caller to return to, so it
// is logged rather than silently dropped.
func Emit[T any](b *Bus, eventName string, payload T) error {
	if b == nil {
		return errors.New("eventbus: bus is nil")
	}
	b.mu.RLock()
	handlers := b.handlers[eventName]
	logger := b.logger
	b.mu.RUnlock()
	for i, h := range handlers {
		go func(i int, h func(any) error) {
			if err := h(payload); err != nil {
				xlog.Warn(logger, "eventbus: async handler failed",
					zap.String("event", eventName), zap.Int("handler", i), zap.Error(err))
			}
		}(i, h)
	}
	return nil
}

// EmitSync dispatches payload to every eventName handler synchronously,
// joining any handler errors for the caller instead of logging them.
func EmitSync[T any](b *Bus, eventName string, payload T) error {
	if b == nil {
		return errors.New("eventbus: bus is nil")
	}
	b.mu.RLock()
	handlers := b.handlers[eventName]
	b.mu.RUnlock()
	var errs []error
	for i, h := range handlers {
		if err := h(payload); err != nil {
			errs = append(errs, fmt.Errorf("eventbus: handler[%d] for %q: %w", i, eventName, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
