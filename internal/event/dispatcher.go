// Package event implements the process-wide publish/subscribe dispatcher.
// Gateways publish canonical events; consumers subscribe by event type.
package event

import (
	"fmt"
	"log"
	"sync"
)

// Type is an opaque event tag. The dispatcher holds no domain knowledge.
type Type string

const (
	TypeTick     Type = "tick"
	TypeDepth    Type = "depth"
	TypeBar      Type = "bar"
	TypeOrder    Type = "order"
	TypeTrade    Type = "trade"
	TypePosition Type = "position"
	TypeAccount  Type = "account"
	TypeContract Type = "contract"
	TypeLog      Type = "log"
	TypeGateway  Type = "gateway"
	TypeError    Type = "error"
)

// Handler consumes one published event. Handlers mutating shared state are
// responsible for their own locking.
type Handler func(t Type, payload any)

// ErrorPayload is published on TypeError when a handler panics.
type ErrorPayload struct {
	Type Type
	Err  error
}

// Dispatcher is a synchronous fan-out broker. Delivery for one event type is
// serialized, so handlers of the same type never run concurrently with each
// other; distinct types may be delivered from different goroutines.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Type][]*registration
	delivery map[Type]*sync.Mutex
	nextID   uint64
}

type registration struct {
	id uint64
	fn Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Type][]*registration),
		delivery: make(map[Type]*sync.Mutex),
	}
}

// Subscribe registers a handler for an event type and returns an unsubscribe
// function. Handlers fire in registration order.
func (d *Dispatcher) Subscribe(t Type, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	reg := &registration{id: d.nextID, fn: h}
	d.handlers[t] = append(d.handlers[t], reg)
	if _, ok := d.delivery[t]; !ok {
		d.delivery[t] = &sync.Mutex{}
	}

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		regs := d.handlers[t]
		for i, r := range regs {
			if r.id == reg.id {
				d.handlers[t] = append(regs[:i:i], regs[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers payload to every currently-registered handler for t, in
// registration order. A panicking handler is isolated: the failure is logged,
// surfaced on TypeError, and delivery continues with the next handler.
func (d *Dispatcher) Publish(t Type, payload any) {
	d.mu.RLock()
	regs := d.handlers[t]
	if len(regs) == 0 {
		d.mu.RUnlock()
		return
	}
	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)
	lock := d.delivery[t]
	d.mu.RUnlock()

	lock.Lock()
	defer lock.Unlock()
	for _, r := range snapshot {
		d.invoke(t, r.fn, payload)
	}
}

func (d *Dispatcher) invoke(t Type, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("event handler panic on %q: %v", t, r)
			log.Printf("dispatcher: %v", err)
			// Error-handler panics are only logged, never republished.
			if t != TypeError {
				d.Publish(TypeError, ErrorPayload{Type: t, Err: err})
			}
		}
	}()
	h(t, payload)
}
