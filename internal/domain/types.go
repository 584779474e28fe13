package domain

import "time"

// ContractData identifies one tradable instrument. Built once from the
// exchange instrument list and cached per gateway; read-only afterwards.
type ContractData struct {
	Exchange   string
	Symbol     string
	Name       string
	Product    string // e.g. "linear", "inverse"
	PriceTick  float64
	MinVolume  float64
	Multiplier float64
}

// TickData carries a last-price/best-quote update for one symbol.
type TickData struct {
	Exchange  string
	Symbol    string
	Time      time.Time
	LastPrice float64
	Volume    float64
	BidPrice  float64
	BidVolume float64
	AskPrice  float64
	AskVolume float64
}

// DepthData carries an order book snapshot or delta.
type DepthData struct {
	Exchange string
	Symbol   string
	Time     time.Time
	Bids     [][2]float64 // price, size
	Asks     [][2]float64
}

// BarData is one OHLCV record for a symbol/interval/timestamp.
type BarData struct {
	Exchange string
	Symbol   string
	Interval Interval
	Time     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// OrderData is the mutable record of one order's life, keyed by the
// gateway-local order id assigned at submission time.
type OrderData struct {
	Exchange   string
	Symbol     string
	OrderID    string // gateway-local id
	ExchangeID string // venue-assigned id, empty until acked
	Direction  Direction
	Type       OrderType
	Price      float64
	Volume     float64
	Traded     float64
	Status     Status
	Time       time.Time
}

// Remaining returns the unfilled volume.
func (o OrderData) Remaining() float64 {
	return o.Volume - o.Traded
}

// TradeData is one immutable execution fill, keyed by exchange trade id.
type TradeData struct {
	Exchange  string
	Symbol    string
	OrderID   string // gateway-local id of the parent order
	TradeID   string
	Direction Direction
	Price     float64
	Volume    float64
	Time      time.Time
}

// PositionData reports one open position as the venue sees it.
type PositionData struct {
	Exchange  string
	Symbol    string
	Direction Direction
	Volume    float64
	Price     float64 // entry price
	PnL       float64
}

// AccountData reports one asset balance.
type AccountData struct {
	Exchange  string
	AccountID string
	Balance   float64
	Frozen    float64
}

// Available returns the balance free for new orders.
func (a AccountData) Available() float64 {
	return a.Balance - a.Frozen
}

// LogData is a loggable message published on the dispatcher.
type LogData struct {
	Exchange string
	Level    string
	Msg      string
	Time     time.Time
}

// OrderRequest describes an intended submission. Immutable once built.
type OrderRequest struct {
	Symbol    string
	Direction Direction
	Type      OrderType
	Price     float64
	Volume    float64
}

// CancelRequest asks for one order to be cancelled by local id.
type CancelRequest struct {
	Symbol  string
	OrderID string
}

// SubscribeRequest asks for streaming market data on one symbol.
type SubscribeRequest struct {
	Symbol string
}

// HistoryRequest asks for bars of one symbol/interval over a time range.
type HistoryRequest struct {
	Symbol   string
	Interval Interval
	Start    time.Time
	End      time.Time
}
