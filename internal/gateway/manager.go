package gateway

import (
	"errors"
	"fmt"
	"sync"

	"quantgate/internal/domain"
	"quantgate/internal/event"
)

// ErrGatewayNotFound is returned when routing to an exchange that was never
// connected through the manager.
var ErrGatewayNotFound = errors.New("gateway not connected")

// Manager routes requests to gateways by exchange name. All gateways share
// one dispatcher, so subscribers see a single merged event stream.
type Manager struct {
	dispatcher *event.Dispatcher

	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewManager builds an empty manager over dispatcher.
func NewManager(dispatcher *event.Dispatcher) *Manager {
	return &Manager{
		dispatcher: dispatcher,
		gateways:   make(map[string]Gateway),
	}
}

// Connect builds the named gateway from the registry, connects it, and takes
// ownership. Connecting the same exchange twice is an error.
func (m *Manager) Connect(name string, setting Setting) (Gateway, error) {
	m.mu.Lock()
	if _, ok := m.gateways[name]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("gateway %s: already connected", name)
	}
	m.mu.Unlock()

	gw, err := Build(name, m.dispatcher)
	if err != nil {
		return nil, err
	}
	if err := gw.Connect(setting); err != nil {
		return nil, fmt.Errorf("gateway %s: %w", name, err)
	}

	m.mu.Lock()
	m.gateways[name] = gw
	m.mu.Unlock()
	return gw, nil
}

// Get returns a connected gateway by exchange name.
func (m *Manager) Get(name string) (Gateway, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gw, ok := m.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, name)
	}
	return gw, nil
}

// Names lists the connected exchanges.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.gateways))
	for name := range m.gateways {
		names = append(names, name)
	}
	return names
}

// StartAll starts streaming on every connected gateway, stopping at the
// first failure.
func (m *Manager) StartAll() error {
	for _, name := range m.Names() {
		gw, err := m.Get(name)
		if err != nil {
			return err
		}
		if err := gw.Start(); err != nil {
			return fmt.Errorf("gateway %s: %w", name, err)
		}
	}
	return nil
}

// Subscribe routes a market data subscription to one exchange.
func (m *Manager) Subscribe(name string, req domain.SubscribeRequest) error {
	gw, err := m.Get(name)
	if err != nil {
		return err
	}
	return gw.Subscribe(req)
}

// SendOrder routes an order to one exchange and returns its local id.
func (m *Manager) SendOrder(name string, req domain.OrderRequest) (string, error) {
	gw, err := m.Get(name)
	if err != nil {
		return "", err
	}
	return gw.SendOrder(req)
}

// CancelOrder routes a cancel to one exchange.
func (m *Manager) CancelOrder(name string, req domain.CancelRequest) error {
	gw, err := m.Get(name)
	if err != nil {
		return err
	}
	return gw.CancelOrder(req)
}

// QueryHistory routes a bar history query to one exchange.
func (m *Manager) QueryHistory(name string, req domain.HistoryRequest) ([]domain.BarData, error) {
	gw, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return gw.QueryHistory(req)
}

// CloseAll closes every gateway and forgets them. Errors are joined so one
// bad teardown does not hide another.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	gateways := m.gateways
	m.gateways = make(map[string]Gateway)
	m.mu.Unlock()

	var errs []error
	for name, gw := range gateways {
		if err := gw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gateway %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
