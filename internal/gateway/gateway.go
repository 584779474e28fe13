// Package gateway defines the capability surface every exchange adapter
// implements, plus the error kinds shared by all adapters.
package gateway

import (
	"quantgate/internal/domain"
)

// Setting carries account and environment configuration for Connect.
type Setting struct {
	Key          string
	Secret       string
	ProxyHost    string
	ProxyPort    int
	Server       domain.ServerMode   // default REAL
	PositionMode domain.PositionMode // default MergedSingle
}

// Gateway unifies REST and streaming access for one exchange account.
//
// Connect must complete contract discovery before Subscribe is accepted.
// SendOrder is non-blocking with respect to eventual fills: the only
// synchronous guarantee is acceptance or rejection by the venue's pre-trade
// checks; fill progress arrives as order/trade events on the dispatcher.
type Gateway interface {
	Connect(setting Setting) error
	Start() error
	Subscribe(req domain.SubscribeRequest) error
	SendOrder(req domain.OrderRequest) (string, error)
	CancelOrder(req domain.CancelRequest) error
	CancelOrders(reqs []domain.CancelRequest) error
	QueryHistory(req domain.HistoryRequest) ([]domain.BarData, error)
	Close() error
}

// State tracks the gateway lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateRunning:
		return "RUNNING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}
