package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"quantgate/internal/domain"
	"quantgate/internal/event"
)

type stubGateway struct {
	connected  bool
	started    int
	closed     int
	connectErr error
	orders     []domain.OrderRequest
}

func (s *stubGateway) Connect(Setting) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}
func (s *stubGateway) Start() error                            { s.started++; return nil }
func (s *stubGateway) Subscribe(domain.SubscribeRequest) error { return nil }
func (s *stubGateway) SendOrder(req domain.OrderRequest) (string, error) {
	s.orders = append(s.orders, req)
	return "local-1", nil
}
func (s *stubGateway) CancelOrder(domain.CancelRequest) error    { return nil }
func (s *stubGateway) CancelOrders([]domain.CancelRequest) error { return nil }
func (s *stubGateway) QueryHistory(domain.HistoryRequest) ([]domain.BarData, error) {
	return nil, nil
}
func (s *stubGateway) Close() error { s.closed++; return nil }

func registerStub(t *testing.T, name string, stub *stubGateway) {
	t.Helper()
	Register(name, func(*event.Dispatcher) Gateway { return stub })
	t.Cleanup(func() {
		factoryMu.Lock()
		delete(factories, name)
		factoryMu.Unlock()
	})
}

func TestManagerConnectAndRoute(t *testing.T) {
	stub := &stubGateway{}
	registerStub(t, "STUB", stub)

	m := NewManager(event.NewDispatcher())
	gw, err := m.Connect("STUB", Setting{Key: "k", Secret: "s"})
	require.NoError(t, err)
	require.True(t, stub.connected)
	require.Same(t, Gateway(stub), gw)
	require.Equal(t, []string{"STUB"}, m.Names())

	require.NoError(t, m.StartAll())
	require.Equal(t, 1, stub.started)

	id, err := m.SendOrder("STUB", domain.OrderRequest{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	require.Equal(t, "local-1", id)
	require.Len(t, stub.orders, 1)

	require.NoError(t, m.CloseAll())
	require.Equal(t, 1, stub.closed)
	require.Empty(t, m.Names())
}

func TestManagerRejectsDuplicateConnect(t *testing.T) {
	registerStub(t, "STUB2", &stubGateway{})

	m := NewManager(event.NewDispatcher())
	_, err := m.Connect("STUB2", Setting{})
	require.NoError(t, err)
	_, err = m.Connect("STUB2", Setting{})
	require.ErrorContains(t, err, "already connected")
}

func TestManagerUnknownExchange(t *testing.T) {
	m := NewManager(event.NewDispatcher())

	_, err := m.Connect("NOWHERE", Setting{})
	require.ErrorContains(t, err, "unknown exchange")

	_, err = m.SendOrder("NOWHERE", domain.OrderRequest{})
	require.True(t, errors.Is(err, ErrGatewayNotFound), "got %v", err)
}

func TestConnectFailureIsNotCached(t *testing.T) {
	stub := &stubGateway{connectErr: errors.New("bad credentials")}
	registerStub(t, "STUB3", stub)

	m := NewManager(event.NewDispatcher())
	_, err := m.Connect("STUB3", Setting{})
	require.ErrorContains(t, err, "bad credentials")
	require.Empty(t, m.Names())
}
