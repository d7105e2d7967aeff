package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/relaychat/relaychat/pkg/protocol"
)

// Handler reacts to one inbound envelope. Connection lifecycle events
// (connected, disconnected, failed) arrive as envelopes with an empty payload.
type Handler func(env protocol.Envelope)

// HandlerID identifies one registration. Go function values are not
// comparable, so removal goes through the id returned by On rather than the
// handler itself.
type HandlerID uint64

type registration struct {
	id HandlerID
	fn Handler
}

// Dispatcher demultiplexes inbound envelopes by event type to zero or more
// registered handlers. Handlers for a type run in registration order; the
// same handler registered twice fires twice.
type Dispatcher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	seq      HandlerID
	handlers map[protocol.EventType][]registration
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:   logger.Named("dispatcher"),
		handlers: make(map[protocol.EventType][]registration),
	}
}

// On appends handler to the list for eventType, creating the list if absent.
func (d *Dispatcher) On(eventType protocol.EventType, handler Handler) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	d.handlers[eventType] = append(d.handlers[eventType], registration{id: d.seq, fn: handler})
	return d.seq
}

// Off removes exactly the registration identified by id from eventType's
// list. Other handlers for the same type stay active. Unknown ids are a no-op.
func (d *Dispatcher) Off(eventType protocol.EventType, id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[eventType]
	for i, reg := range regs {
		if reg.id == id {
			d.handlers[eventType] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// OffAll clears every handler registered for eventType.
func (d *Dispatcher) OffAll(eventType protocol.EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, eventType)
}

// Emit invokes every handler registered for env.Type in registration order.
// Each invocation is guarded: a panicking handler is logged and must not
// prevent the remaining handlers from running.
func (d *Dispatcher) Emit(env protocol.Envelope) {
	d.mu.RLock()
	regs := make([]registration, len(d.handlers[env.Type]))
	copy(regs, d.handlers[env.Type])
	d.mu.RUnlock()

	for _, reg := range regs {
		d.safeInvoke(reg, env)
	}
}

func (d *Dispatcher) safeInvoke(reg registration, env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				zap.String("event_type", string(env.Type)),
				zap.Uint64("handler_id", uint64(reg.id)),
				zap.Any("panic", r))
		}
	}()
	reg.fn(env)
}
