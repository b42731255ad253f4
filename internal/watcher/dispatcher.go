package watcher

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/listenupapp/roadwatch/internal/event"
	"github.com/listenupapp/roadwatch/internal/logger"
)

// Handler observes events. Handlers run synchronously on the poll goroutine,
// one event at a time, so a slow handler delays the next poll.
type Handler func(event.Event)

// Subscription identifies one registration for Off.
type Subscription struct {
	seq uint64
	typ event.Type
	all bool
}

type registration struct {
	handler Handler
	seq     uint64
}

// Dispatcher delivers events to the handlers registered for their type and
// to the handlers registered for every type, in registration order.
//
// A Dispatcher is safe for concurrent use. Registration while a delivery is
// in progress takes effect from the next event.
type Dispatcher struct {
	logger *slog.Logger
	byType map[event.Type][]registration
	anyOf  []registration
	next   uint64
	mu     sync.RWMutex
}

// NewDispatcher creates an empty dispatcher. A nil log discards output.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.OrDiscard(log),
		byType: make(map[event.Type][]registration),
	}
}

// On registers h for events of type t. Registering the same function twice
// delivers each event to it twice.
func (d *Dispatcher) On(t event.Type, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	d.byType[t] = append(d.byType[t], registration{handler: h, seq: d.next})
	return Subscription{seq: d.next, typ: t}
}

// OnAny registers h for events of every type.
func (d *Dispatcher) OnAny(h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	d.anyOf = append(d.anyOf, registration{handler: h, seq: d.next})
	return Subscription{seq: d.next, all: true}
}

// Off removes a registration. Removing an unknown or already removed
// subscription does nothing.
func (d *Dispatcher) Off(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	match := func(r registration) bool { return r.seq == sub.seq }
	if sub.all {
		d.anyOf = slices.DeleteFunc(d.anyOf, match)
		return
	}
	d.byType[sub.typ] = slices.DeleteFunc(d.byType[sub.typ], match)
}

// Len returns the number of live registrations.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := len(d.anyOf)
	for _, regs := range d.byType {
		n += len(regs)
	}
	return n
}

// Deliver invokes every handler interested in e and returns how many of them
// panicked. A panicking handler is logged and skipped; the rest still run.
func (d *Dispatcher) Deliver(e event.Event) (failures int) {
	for _, h := range d.handlers(e.Type) {
		if err := invoke(h, e); err != nil {
			failures++
			d.logger.Error("event handler failed",
				"type", e.Type.String(),
				"path", e.Path,
				"error", err,
			)
		}
	}
	return failures
}

// handlers returns a point-in-time copy of the typed and any-type handlers
// for t, merged by registration order.
func (d *Dispatcher) handlers(t event.Type) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	typed, anyOf := d.byType[t], d.anyOf
	out := make([]Handler, 0, len(typed)+len(anyOf))
	i, j := 0, 0
	for i < len(typed) || j < len(anyOf) {
		if j == len(anyOf) || (i < len(typed) && typed[i].seq < anyOf[j].seq) {
			out = append(out, typed[i].handler)
			i++
		} else {
			out = append(out, anyOf[j].handler)
			j++
		}
	}
	return out
}

func invoke(h Handler, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	h(e)
	return nil
}
