// Package bybit implements the Bybit USDT-perpetual gateway: a signed REST
// accessor, public/private websocket listeners, and the facade tying them to
// the event dispatcher.
package bybit

import (
	"quantgate/internal/domain"
	"quantgate/internal/gateway"
)

const exchangeName = "BYBIT"

// Production hosts.
const (
	restHost      = "https://api.bybit.com"
	publicWSHost  = "wss://stream.bybit.com/realtime_public"
	privateWSHost = "wss://stream.bybit.com/realtime_private"
)

// Testnet hosts.
const (
	testnetRESTHost      = "https://api-testnet.bybit.com"
	testnetPublicWSHost  = "wss://stream-testnet.bybit.com/realtime_public"
	testnetPrivateWSHost = "wss://stream-testnet.bybit.com/realtime_private"
)

var statusFromNative = map[string]domain.Status{
	"Created":         domain.StatusNotTraded,
	"New":             domain.StatusNotTraded,
	"PartiallyFilled": domain.StatusPartTraded,
	"Filled":          domain.StatusAllTraded,
	"Cancelled":       domain.StatusCancelled,
	"Rejected":        domain.StatusRejected,
}

var statusToNative = map[domain.Status]string{
	domain.StatusNotTraded:  "New",
	domain.StatusPartTraded: "PartiallyFilled",
	domain.StatusAllTraded:  "Filled",
	domain.StatusCancelled:  "Cancelled",
	domain.StatusRejected:   "Rejected",
}

var directionToNative = map[domain.Direction]string{
	domain.DirectionLong:  "Buy",
	domain.DirectionShort: "Sell",
}

var directionFromNative = map[string]domain.Direction{
	"Buy":  domain.DirectionLong,
	"Sell": domain.DirectionShort,
}

var orderTypeToNative = map[domain.OrderType]string{
	domain.OrderTypeLimit:  "Limit",
	domain.OrderTypeMarket: "Market",
}

var orderTypeFromNative = map[string]domain.OrderType{
	"Limit":  domain.OrderTypeLimit,
	"Market": domain.OrderTypeMarket,
}

var intervalToNative = map[domain.Interval]string{
	domain.IntervalMinute: "1",
	domain.IntervalHour:   "60",
	domain.IntervalDaily:  "D",
	domain.IntervalWeekly: "W",
}

var intervalFromNative = map[string]domain.Interval{
	"1":  domain.IntervalMinute,
	"60": domain.IntervalHour,
	"D":  domain.IntervalDaily,
	"W":  domain.IntervalWeekly,
}

func parseStatus(v string) (domain.Status, error) {
	s, ok := statusFromNative[v]
	if !ok {
		return "", gateway.NormalizationError("order status", v)
	}
	return s, nil
}

func parseDirection(v string) (domain.Direction, error) {
	d, ok := directionFromNative[v]
	if !ok {
		return "", gateway.NormalizationError("direction", v)
	}
	return d, nil
}

func parseOrderType(v string) (domain.OrderType, error) {
	t, ok := orderTypeFromNative[v]
	if !ok {
		return "", gateway.NormalizationError("order type", v)
	}
	return t, nil
}

func formatInterval(i domain.Interval) (string, error) {
	v, ok := intervalToNative[i]
	if !ok {
		return "", gateway.NormalizationError("interval", string(i))
	}
	return v, nil
}
