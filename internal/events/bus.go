// Package events provides the in-process publish/subscribe bus used to fan
// account-update notifications out to whatever in-process listeners care,
// and the zerolog-backed emission used for structured event logging.
// Extends this codebase's event-manager idiom (emit-and-log) with
// Subscribe/Emit dispatch to in-process handlers. No package in this module
// registers a handler, so emitted events are only logged.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type names one kind of in-process event.
type Type string

const (
	AccountUpdate Type = "account_update"
	JobProgress   Type = "job_progress"
	WebhookPaused Type = "webhook_paused"
)

// Event is the envelope carried to subscribers.
type Event struct {
	Type      Type
	Module    string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Handler receives events of the type it was subscribed under.
type Handler func(Event)

// Bus is an in-process pub/sub dispatcher with structured-log emission of
// every event, matching the lineage's emit-and-log manager but adding real
// subscriber fan-out.
type Bus struct {
	log zerolog.Logger

	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewBus constructs a Bus that logs every emitted event via log.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: log, handlers: make(map[Type][]Handler)}
}

// Subscribe registers h to run for every future event of type t. Handlers
// run synchronously on the publishing goroutine in registration order; a
// handler that needs to do slow work should hand off to its own goroutine.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Emit logs and dispatches an event of type t from module, carrying data.
func (b *Bus) Emit(t Type, module string, data map[string]interface{}) {
	evt := Event{Type: t, Module: module, Data: data, Timestamp: time.Now()}

	b.log.Info().
		Str("event_type", string(t)).
		Str("module", module).
		Interface("data", data).
		Msg("event emitted")

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[t]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

// EmitError is a convenience wrapper for logging a failure as a structured
// event without defining a bespoke Type for every error site.
func (b *Bus) EmitError(module string, err error, context string) {
	b.log.Error().
		Str("module", module).
		Err(err).
		Str("context", context).
		Msg("error event")
}
