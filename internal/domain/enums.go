package domain

import "time"

// Direction denotes the side of an order or position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// Status normalizes exchange order status into a small set.
type Status string

const (
	StatusNotTraded  Status = "NOT_TRADED"
	StatusPartTraded Status = "PART_TRADED"
	StatusAllTraded  Status = "ALL_TRADED"
	StatusCancelled  Status = "CANCELLED"
	StatusRejected   Status = "REJECTED"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAllTraded, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Interval is a canonical bar interval.
type Interval string

const (
	IntervalMinute Interval = "1m"
	IntervalHour   Interval = "1h"
	IntervalDaily  Interval = "d"
	IntervalWeekly Interval = "w"
)

// Duration returns the fixed span of one bar of this interval.
// Zero for unknown intervals.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalMinute:
		return time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalDaily:
		return 24 * time.Hour
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

// ServerMode selects production or test hosts.
type ServerMode string

const (
	ServerReal    ServerMode = "REAL"
	ServerTestnet ServerMode = "TESTNET"
)

// PositionMode selects how the venue nets positions per symbol.
type PositionMode string

const (
	PositionMergedSingle PositionMode = "MergedSingle"
	PositionBothSide     PositionMode = "BothSide"
)
