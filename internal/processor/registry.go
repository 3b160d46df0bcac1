package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler applies the side effects of one decoded event to the domain
// tables, through the transaction exposed by ctx (spec §4.6 step 3:
// "Handlers must perform all writes through the supplied transaction
// handle"). rawArgs is the JSON the fetcher stored for this event
// (produced by eventdecoder.Decoder.Decode at fetch time); handlers
// unmarshal it into their own expected shape.
type Handler func(ctx context.Context, hctx HandlerContext, rawArgs json.RawMessage) error

// Registry resolves a Handler by event name. Unlike eventdecoder.Decoder
// (which resolves a decode-time handler per (address, event name) pair to
// produce the stored JSON), the processor only needs a process-time
// handler per event name, since the raw event row already carries the
// decoded payload and no longer needs the originating address to
// disambiguate.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(eventName string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventName] = handler
}

func (r *Registry) Resolve(eventName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventName]
	return h, ok
}

// ErrNoHandler is returned when a RawEvent's event_name has no registered
// process-time handler. Unlike the decoder's MissingHandler skip outcome
// at fetch time, this should not happen in steady state: an event only
// reaches the EventStore because some handler existed at decode time.
type ErrNoHandler struct {
	EventName string
}

func (e *ErrNoHandler) Error() string {
	return fmt.Sprintf("no process handler registered for event %q", e.EventName)
}
