package bybit

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"quantgate/internal/domain"
	"quantgate/internal/gateway"
)

const depthLevels = 25

// marketListener decodes the public market channel: per-symbol ticker,
// order book, and public trades. Decoded updates are handed to the gateway's
// ingestion callbacks; malformed or unmapped frames are logged and dropped.
type marketListener struct {
	ws      *wsListener
	onTick  func(domain.TickData)
	onDepth func(domain.DepthData)

	// tick and book caches merge delta frames into full pictures.
	ticks map[string]*domain.TickData
	books map[string]*orderBook
}

type orderBook struct {
	bids map[float64]float64
	asks map[float64]float64
}

func newMarketListener(setting gateway.Setting, onTick func(domain.TickData), onDepth func(domain.DepthData), onUp func(string), onDown func(error)) *marketListener {
	host := publicWSHost
	if setting.Server == domain.ServerTestnet {
		host = testnetPublicWSHost
	}
	m := &marketListener{
		onTick:  onTick,
		onDepth: onDepth,
		ticks:   make(map[string]*domain.TickData),
		books:   make(map[string]*orderBook),
	}
	m.ws = newWSListener("market", host, setting, m.onFrame)
	if onUp != nil {
		m.ws.onUp = func() { onUp("market") }
	}
	m.ws.onDown = onDown
	return m
}

func (m *marketListener) start() error { return m.ws.start() }
func (m *marketListener) stop()        { m.ws.stop() }

// subscribe registers the three public topics for one symbol.
func (m *marketListener) subscribe(symbol string) {
	m.ws.subscribe("instrument_info.100ms." + symbol)
	m.ws.subscribe("orderBookL2_25." + symbol)
	m.ws.subscribe("trade." + symbol)
}

type publicFrame struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// onFrame runs on the listener's read goroutine only, so the tick/book
// caches need no locking.
func (m *marketListener) onFrame(msg []byte) {
	var frame publicFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		log.Printf("market listener: drop malformed frame: %v", err)
		return
	}

	var err error
	switch {
	case strings.HasPrefix(frame.Topic, "trade."):
		err = m.handleTrade(frame)
	case strings.HasPrefix(frame.Topic, "instrument_info."):
		err = m.handleInstrument(frame)
	case strings.HasPrefix(frame.Topic, "orderBookL2_25."):
		err = m.handleOrderBook(frame)
	}
	if err != nil {
		log.Printf("market listener: drop frame on %s: %v", frame.Topic, err)
	}
}

func (m *marketListener) handleTrade(frame publicFrame) error {
	var rows []struct {
		Symbol      string `json:"symbol"`
		Price       any    `json:"price"`
		Size        any    `json:"size"`
		TradeTimeMs any    `json:"trade_time_ms"`
	}
	if err := json.Unmarshal(frame.Data, &rows); err != nil {
		return err
	}
	for _, r := range rows {
		tick := m.tick(r.Symbol)
		tick.LastPrice = toFloat(r.Price)
		tick.Volume += toFloat(r.Size)
		tick.Time = time.UnixMilli(toInt64(r.TradeTimeMs))
		m.onTick(*tick)
	}
	return nil
}

type instrumentRecord struct {
	Symbol    string `json:"symbol"`
	LastPrice any    `json:"last_price"`
	Bid1Price any    `json:"bid1_price"`
	Ask1Price any    `json:"ask1_price"`
	Volume24h any    `json:"volume_24h"`
}

func (m *marketListener) handleInstrument(frame publicFrame) error {
	switch frame.Type {
	case "snapshot":
		var rec instrumentRecord
		if err := json.Unmarshal(frame.Data, &rec); err != nil {
			return err
		}
		m.applyInstrument(rec)
	case "delta":
		var delta struct {
			Update []instrumentRecord `json:"update"`
		}
		if err := json.Unmarshal(frame.Data, &delta); err != nil {
			return err
		}
		for _, rec := range delta.Update {
			m.applyInstrument(rec)
		}
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return nil
}

func (m *marketListener) applyInstrument(rec instrumentRecord) {
	if rec.Symbol == "" {
		return
	}
	tick := m.tick(rec.Symbol)
	// Delta records carry only changed fields; keep prior values otherwise.
	if v := toFloat(rec.LastPrice); v != 0 {
		tick.LastPrice = v
	}
	if v := toFloat(rec.Bid1Price); v != 0 {
		tick.BidPrice = v
	}
	if v := toFloat(rec.Ask1Price); v != 0 {
		tick.AskPrice = v
	}
	tick.Time = time.Now()
	m.onTick(*tick)
}

type bookRow struct {
	Symbol string `json:"symbol"`
	Price  any    `json:"price"`
	Side   string `json:"side"`
	Size   any    `json:"size"`
}

func (m *marketListener) handleOrderBook(frame publicFrame) error {
	symbol := strings.TrimPrefix(frame.Topic, "orderBookL2_25.")

	switch frame.Type {
	case "snapshot":
		// Linear snapshots wrap the rows in order_book; inverse sends a
		// bare array. Accept both.
		var rows []bookRow
		if err := json.Unmarshal(frame.Data, &rows); err != nil {
			var wrapped struct {
				OrderBook []bookRow `json:"order_book"`
			}
			if err := json.Unmarshal(frame.Data, &wrapped); err != nil {
				return err
			}
			rows = wrapped.OrderBook
		}
		book := &orderBook{bids: make(map[float64]float64), asks: make(map[float64]float64)}
		m.books[symbol] = book
		book.apply(rows, false)
	case "delta":
		var delta struct {
			Delete []bookRow `json:"delete"`
			Update []bookRow `json:"update"`
			Insert []bookRow `json:"insert"`
		}
		if err := json.Unmarshal(frame.Data, &delta); err != nil {
			return err
		}
		book, ok := m.books[symbol]
		if !ok {
			// Delta before snapshot; wait for the snapshot.
			return nil
		}
		book.apply(delta.Delete, true)
		book.apply(delta.Update, false)
		book.apply(delta.Insert, false)
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}

	m.onDepth(m.books[symbol].depth(symbol))
	return nil
}

func (b *orderBook) apply(rows []bookRow, remove bool) {
	for _, r := range rows {
		side := b.bids
		if r.Side == "Sell" {
			side = b.asks
		}
		price := toFloat(r.Price)
		if remove {
			delete(side, price)
			continue
		}
		side[price] = toFloat(r.Size)
	}
}

// depth renders the book as sorted price levels, best first, capped at 25.
func (b *orderBook) depth(symbol string) domain.DepthData {
	d := domain.DepthData{
		Exchange: exchangeName,
		Symbol:   symbol,
		Time:     time.Now(),
		Bids:     levels(b.bids, true),
		Asks:     levels(b.asks, false),
	}
	return d
}

func levels(side map[float64]float64, descending bool) [][2]float64 {
	out := make([][2]float64, 0, len(side))
	for price, size := range side {
		out = append(out, [2]float64{price, size})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i][0] > out[j][0]
		}
		return out[i][0] < out[j][0]
	})
	if len(out) > depthLevels {
		out = out[:depthLevels]
	}
	return out
}

func (m *marketListener) tick(symbol string) *domain.TickData {
	t, ok := m.ticks[symbol]
	if !ok {
		t = &domain.TickData{Exchange: exchangeName, Symbol: symbol}
		m.ticks[symbol] = t
	}
	return t
}
