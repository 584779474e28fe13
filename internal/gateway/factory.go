package gateway

import (
	"fmt"
	"sort"
	"sync"

	"quantgate/internal/event"
)

// Factory builds an unconnected Gateway publishing into dispatcher.
type Factory func(dispatcher *event.Dispatcher) Gateway

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a gateway implementation available under its exchange name.
// Implementations call Register from an init function, so importing a gateway
// package is enough to enable it.
func Register(name string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if factory == nil {
		panic("gateway: Register with nil factory")
	}
	if _, dup := factories[name]; dup {
		panic("gateway: Register called twice for " + name)
	}
	factories[name] = factory
}

// Build constructs a gateway by exchange name.
func Build(name string, dispatcher *event.Dispatcher) (Gateway, error) {
	factoryMu.RLock()
	factory, ok := factories[name]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gateway: unknown exchange %q (registered: %v)", name, Registered())
	}
	return factory(dispatcher), nil
}

// Registered lists the available exchange names, sorted.
func Registered() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
