package bybit

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"quantgate/internal/domain"
	"quantgate/internal/event"
	"quantgate/internal/gateway"
)

// restAPI is the synchronous accessor surface the facade depends on.
type restAPI interface {
	placeOrder(req domain.OrderRequest, localID string) (string, error)
	cancelOrder(req domain.CancelRequest) error
	querySymbols() ([]domain.ContractData, error)
	queryHistory(req domain.HistoryRequest) ([]domain.BarData, error)
	queryAccount() ([]domain.AccountData, error)
	queryPositions() ([]domain.PositionData, error)
}

type marketStream interface {
	start() error
	stop()
	subscribe(symbol string)
}

type privateStream interface {
	start() error
	stop()
}

// Gateway is the Bybit USDT-perpetual facade: one accessor, one market
// listener, one private listener, and the per-instance order/contract state
// needed to reconcile asynchronous updates with locally-issued commands.
type Gateway struct {
	dispatcher *event.Dispatcher
	name       string
	state      atomic.Int32

	rest    restAPI
	market  marketStream
	private privateStream

	// mu guards orders and contracts. The submit path and the private-event
	// path both take it, closing the race between "order just submitted" and
	// "fill arrives before the submission finished recording".
	mu        sync.Mutex
	orders    map[string]*domain.OrderData // in-flight, non-terminal only
	contracts map[string]domain.ContractData

	// factory hooks, replaced in tests
	newRest    func(gateway.Setting) restAPI
	newMarket  func(gateway.Setting, *Gateway) marketStream
	newPrivate func(gateway.Setting, *Gateway) privateStream

	closeOnce sync.Once
}

var _ gateway.Gateway = (*Gateway)(nil)

func init() {
	gateway.Register(exchangeName, func(d *event.Dispatcher) gateway.Gateway {
		return NewGateway(d)
	})
}

// NewGateway builds a disconnected gateway publishing on dispatcher.
func NewGateway(dispatcher *event.Dispatcher) *Gateway {
	g := &Gateway{
		dispatcher: dispatcher,
		name:       exchangeName,
		orders:     make(map[string]*domain.OrderData),
		contracts:  make(map[string]domain.ContractData),
	}
	g.newRest = func(s gateway.Setting) restAPI { return newAccessor(s) }
	g.newMarket = func(s gateway.Setting, gw *Gateway) marketStream {
		return newMarketListener(s, gw.onTick, gw.onDepth, gw.onChannelUp, gw.onChannelDown)
	}
	g.newPrivate = func(s gateway.Setting, gw *Gateway) privateStream {
		return newPrivateListener(s, gw.onOrderUpdate, gw.onTrade, gw.onPosition, gw.onAccount, gw.onChannelUp, gw.onChannelDown)
	}
	return g
}

// Name returns the exchange tag carried on every published event.
func (g *Gateway) Name() string { return g.name }

// State returns the current lifecycle state.
func (g *Gateway) State() gateway.State {
	return gateway.State(g.state.Load())
}

// Connect validates credentials, performs contract discovery, and wires up
// the accessor and both listeners. Subscribe is accepted only afterwards.
func (g *Gateway) Connect(setting gateway.Setting) error {
	if s := g.State(); s != gateway.StateDisconnected {
		return fmt.Errorf("connect from state %s", s)
	}
	if setting.Key == "" || setting.Secret == "" {
		return gateway.ConfigError("setting must carry both key and secret")
	}
	if setting.Server == "" {
		setting.Server = domain.ServerReal
	}
	if setting.PositionMode == "" {
		setting.PositionMode = domain.PositionMergedSingle
	}

	g.state.Store(int32(gateway.StateConnecting))
	rest := g.newRest(setting)

	contracts, err := rest.querySymbols()
	if err != nil {
		g.state.Store(int32(gateway.StateDisconnected))
		return fmt.Errorf("contract discovery: %w", err)
	}

	g.mu.Lock()
	g.rest = rest
	for _, c := range contracts {
		g.contracts[c.Symbol] = c
	}
	g.mu.Unlock()
	for _, c := range contracts {
		g.dispatcher.Publish(event.TypeContract, c)
	}

	// Account and position snapshots are best-effort; the gateway stays
	// usable without them.
	if accounts, err := rest.queryAccount(); err != nil {
		g.writeLog("WARN", "account query failed: %v", err)
	} else {
		for _, a := range accounts {
			g.dispatcher.Publish(event.TypeAccount, a)
		}
	}
	if positions, err := rest.queryPositions(); err != nil {
		g.writeLog("WARN", "position query failed: %v", err)
	} else {
		for _, p := range positions {
			g.dispatcher.Publish(event.TypePosition, p)
		}
	}

	g.market = g.newMarket(setting, g)
	g.private = g.newPrivate(setting, g)

	g.state.Store(int32(gateway.StateConnected))
	g.dispatcher.Publish(event.TypeGateway, g.name)
	g.writeLog("INFO", "gateway ready, %d contracts", len(contracts))
	return nil
}

// Start opens both streaming channels. Idempotent once running.
func (g *Gateway) Start() error {
	switch g.State() {
	case gateway.StateRunning:
		return nil
	case gateway.StateConnected:
	default:
		return fmt.Errorf("start from state %s", g.State())
	}

	if err := g.market.start(); err != nil {
		return err
	}
	if err := g.private.start(); err != nil {
		g.market.stop()
		return err
	}
	g.state.Store(int32(gateway.StateRunning))
	return nil
}

// Subscribe forwards to the market listener. Symbols unknown to contract
// discovery are refused.
func (g *Gateway) Subscribe(req domain.SubscribeRequest) error {
	g.mu.Lock()
	_, known := g.contracts[req.Symbol]
	g.mu.Unlock()
	if !known {
		return gateway.SubscriptionError(req.Symbol)
	}
	g.market.subscribe(req.Symbol)
	return nil
}

// SendOrder assigns a gateway-local id, records the in-flight order, and
// submits synchronously. On synchronous rejection the order is published as
// REJECTED and evicted; the id is returned either way so the caller can
// follow the published events.
func (g *Gateway) SendOrder(req domain.OrderRequest) (string, error) {
	if g.rest == nil {
		return "", fmt.Errorf("send order: not connected")
	}

	localID := uuid.NewString()
	order := &domain.OrderData{
		Exchange:  g.name,
		Symbol:    req.Symbol,
		OrderID:   localID,
		Direction: req.Direction,
		Type:      req.Type,
		Price:     req.Price,
		Volume:    req.Volume,
		Status:    domain.StatusNotTraded,
		Time:      time.Now(),
	}

	g.mu.Lock()
	g.orders[localID] = order
	snapshot := *order
	g.mu.Unlock()
	g.publishOrder(snapshot)

	exchangeID, err := g.rest.placeOrder(req, localID)
	if err != nil {
		// The venue may have accepted despite the error (e.g. a response
		// timeout) and a terminal update may have evicted the id already; a
		// REJECTED publish after that would be a second terminal transition.
		g.mu.Lock()
		live, inFlight := g.orders[localID]
		if inFlight {
			live.Status = domain.StatusRejected
			snapshot = *live
			delete(g.orders, localID)
		}
		g.mu.Unlock()
		if inFlight {
			g.publishOrder(snapshot)
		}
		g.writeLog("WARN", "order %s rejected: %v", localID, err)
		return localID, err
	}

	g.mu.Lock()
	// A fill can land before the submission path records the venue id; the
	// entry is gone in that case and must not be resurrected.
	if live, ok := g.orders[localID]; ok {
		live.ExchangeID = exchangeID
	}
	g.mu.Unlock()
	return localID, nil
}

// CancelOrder forwards to the accessor. Cancels for ids no longer in flight
// are no-ops: cancel/terminal-fill races are expected, not errors.
func (g *Gateway) CancelOrder(req domain.CancelRequest) error {
	g.mu.Lock()
	_, inFlight := g.orders[req.OrderID]
	g.mu.Unlock()
	if !inFlight {
		return nil
	}
	return g.rest.cancelOrder(req)
}

// CancelOrders forwards each request, collecting failures.
func (g *Gateway) CancelOrders(reqs []domain.CancelRequest) error {
	var errs []error
	for _, req := range reqs {
		if err := g.CancelOrder(req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// QueryHistory returns one complete, time-ordered bar sequence; the
// accessor drains the venue's paging before returning.
func (g *Gateway) QueryHistory(req domain.HistoryRequest) ([]domain.BarData, error) {
	if g.rest == nil {
		return nil, fmt.Errorf("query history: not connected")
	}
	return g.rest.queryHistory(req)
}

// Close stops both listeners and releases the accessor. Safe to call
// multiple times and from any state.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		if g.market != nil {
			g.market.stop()
		}
		if g.private != nil {
			g.private.stop()
		}
		g.state.Store(int32(gateway.StateClosed))
		g.writeLog("INFO", "gateway closed")
	})
	return nil
}

// onOrderUpdate reconciles an asynchronous status delta against the
// in-flight cache. A terminal confirmation for an id already evicted is a
// duplicate delivery and is dropped, never re-published.
func (g *Gateway) onOrderUpdate(o domain.OrderData) {
	g.mu.Lock()
	existing, ok := g.orders[o.OrderID]
	if !ok {
		if o.Status.IsTerminal() {
			g.mu.Unlock()
			log.Printf("%s gateway: drop duplicate terminal update for %s", g.name, o.OrderID)
			return
		}
		// Order placed outside this gateway instance; track it from here.
		cp := o
		g.orders[o.OrderID] = &cp
		g.mu.Unlock()
		g.publishOrder(o)
		return
	}

	if o.ExchangeID != "" {
		existing.ExchangeID = o.ExchangeID
	}
	existing.Traded = o.Traded
	existing.Status = o.Status
	existing.Time = o.Time
	snapshot := *existing
	if snapshot.Status.IsTerminal() {
		delete(g.orders, o.OrderID)
	}
	g.mu.Unlock()
	g.publishOrder(snapshot)
}

func (g *Gateway) onTrade(t domain.TradeData) {
	g.dispatcher.Publish(event.TypeTrade, t)
}

func (g *Gateway) onTick(t domain.TickData) {
	g.dispatcher.Publish(event.TypeTick, t)
}

func (g *Gateway) onDepth(d domain.DepthData) {
	g.dispatcher.Publish(event.TypeDepth, d)
}

func (g *Gateway) onPosition(p domain.PositionData) {
	g.dispatcher.Publish(event.TypePosition, p)
}

func (g *Gateway) onAccount(a domain.AccountData) {
	g.dispatcher.Publish(event.TypeAccount, a)
}

// onChannelUp signals that a streaming channel reconnected. Subscriptions
// were replayed, but frames sent during the outage are lost; the gateway
// event tells consumers to reconcile open-order and account state from REST.
func (g *Gateway) onChannelUp(channel string) {
	g.writeLog("WARN", "%s channel reconnected, events may have been missed", channel)
	g.dispatcher.Publish(event.TypeGateway, g.name)
}

// onChannelDown surfaces a fatal connectivity failure. The gateway remains
// usable for REST-only operation.
func (g *Gateway) onChannelDown(err error) {
	g.writeLog("ERROR", "streaming channel down: %v", err)
	g.dispatcher.Publish(event.TypeError, event.ErrorPayload{Type: event.TypeGateway, Err: err})
}

func (g *Gateway) publishOrder(o domain.OrderData) {
	g.dispatcher.Publish(event.TypeOrder, o)
}

func (g *Gateway) writeLog(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("%s gateway: %s", g.name, msg)
	g.dispatcher.Publish(event.TypeLog, domain.LogData{
		Exchange: g.name,
		Level:    level,
		Msg:      msg,
		Time:     time.Now(),
	})
}
