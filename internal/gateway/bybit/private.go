package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"quantgate/internal/domain"
	"quantgate/internal/gateway"
)

// privateListener decodes the authenticated trade channel: order status
// deltas, execution fills, position and wallet updates. The auth handshake
// is signed with the account secret before any subscription is accepted.
type privateListener struct {
	ws         *wsListener
	onOrder    func(domain.OrderData)
	onTrade    func(domain.TradeData)
	onPosition func(domain.PositionData)
	onAccount  func(domain.AccountData)
}

func newPrivateListener(setting gateway.Setting,
	onOrder func(domain.OrderData),
	onTrade func(domain.TradeData),
	onPosition func(domain.PositionData),
	onAccount func(domain.AccountData),
	onUp func(string),
	onDown func(error),
) *privateListener {
	host := privateWSHost
	if setting.Server == domain.ServerTestnet {
		host = testnetPrivateWSHost
	}
	p := &privateListener{
		onOrder:    onOrder,
		onTrade:    onTrade,
		onPosition: onPosition,
		onAccount:  onAccount,
	}
	p.ws = newWSListener("private", host, setting, p.onFrame)
	if onUp != nil {
		p.ws.onUp = func() { onUp("private") }
	}
	p.ws.onDown = onDown
	p.ws.onAuth = func(send func(v any) error) error {
		expires := time.Now().Add(10 * time.Second).UnixMilli()
		mac := hmac.New(sha256.New, []byte(setting.Secret))
		mac.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))
		signature := hex.EncodeToString(mac.Sum(nil))
		return send(wsRequest{Op: "auth", Args: []any{setting.Key, expires, signature}})
	}
	// Private topics are fixed; register once so reconnects replay them.
	p.ws.subscribe("order")
	p.ws.subscribe("execution")
	p.ws.subscribe("position")
	p.ws.subscribe("wallet")
	return p
}

func (p *privateListener) start() error { return p.ws.start() }
func (p *privateListener) stop()        { p.ws.stop() }

func (p *privateListener) onFrame(msg []byte) {
	var frame struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		log.Printf("private listener: drop malformed frame: %v", err)
		return
	}

	var err error
	switch frame.Topic {
	case "order":
		err = p.handleOrder(frame.Data)
	case "execution":
		err = p.handleExecution(frame.Data)
	case "position":
		err = p.handlePosition(frame.Data)
	case "wallet":
		err = p.handleWallet(frame.Data)
	}
	if err != nil {
		log.Printf("private listener: drop frame on %s: %v", frame.Topic, err)
	}
}

func (p *privateListener) handleOrder(data json.RawMessage) error {
	var rows []struct {
		OrderID     string `json:"order_id"`
		OrderLinkID string `json:"order_link_id"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		OrderType   string `json:"order_type"`
		Price       any    `json:"price"`
		Qty         any    `json:"qty"`
		CumExecQty  any    `json:"cum_exec_qty"`
		OrderStatus string `json:"order_status"`
		UpdateTime  string `json:"update_time"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}

	for _, r := range rows {
		status, err := parseStatus(r.OrderStatus)
		if err != nil {
			return err
		}
		direction, err := parseDirection(r.Side)
		if err != nil {
			return err
		}
		orderType, err := parseOrderType(r.OrderType)
		if err != nil {
			return err
		}

		localID := r.OrderLinkID
		if localID == "" {
			// Order placed outside this gateway; key it by the venue id.
			localID = r.OrderID
		}
		p.onOrder(domain.OrderData{
			Exchange:   exchangeName,
			Symbol:     r.Symbol,
			OrderID:    localID,
			ExchangeID: r.OrderID,
			Direction:  direction,
			Type:       orderType,
			Price:      toFloat(r.Price),
			Volume:     toFloat(r.Qty),
			Traded:     toFloat(r.CumExecQty),
			Status:     status,
			Time:       parseTime(r.UpdateTime),
		})
	}
	return nil
}

func (p *privateListener) handleExecution(data json.RawMessage) error {
	var rows []struct {
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		OrderID     string `json:"order_id"`
		OrderLinkID string `json:"order_link_id"`
		ExecID      string `json:"exec_id"`
		Price       any    `json:"price"`
		ExecQty     any    `json:"exec_qty"`
		TradeTimeMs any    `json:"trade_time_ms"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}

	for _, r := range rows {
		direction, err := parseDirection(r.Side)
		if err != nil {
			return err
		}
		localID := r.OrderLinkID
		if localID == "" {
			localID = r.OrderID
		}
		p.onTrade(domain.TradeData{
			Exchange:  exchangeName,
			Symbol:    r.Symbol,
			OrderID:   localID,
			TradeID:   r.ExecID,
			Direction: direction,
			Price:     toFloat(r.Price),
			Volume:    toFloat(r.ExecQty),
			Time:      time.UnixMilli(toInt64(r.TradeTimeMs)),
		})
	}
	return nil
}

func (p *privateListener) handlePosition(data json.RawMessage) error {
	var rows []struct {
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Size        any    `json:"size"`
		EntryPrice  any    `json:"entry_price"`
		RealisedPnl any    `json:"realised_pnl"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	for _, r := range rows {
		direction, err := parseDirection(r.Side)
		if err != nil {
			return err
		}
		p.onPosition(domain.PositionData{
			Exchange:  exchangeName,
			Symbol:    r.Symbol,
			Direction: direction,
			Volume:    toFloat(r.Size),
			Price:     toFloat(r.EntryPrice),
			PnL:       toFloat(r.RealisedPnl),
		})
	}
	return nil
}

func (p *privateListener) handleWallet(data json.RawMessage) error {
	var rows []struct {
		WalletBalance    any `json:"wallet_balance"`
		AvailableBalance any `json:"available_balance"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	for _, r := range rows {
		balance := toFloat(r.WalletBalance)
		p.onAccount(domain.AccountData{
			Exchange:  exchangeName,
			AccountID: "USDT", // linear wallet frames are USDT-denominated
			Balance:   balance,
			Frozen:    balance - toFloat(r.AvailableBalance),
		})
	}
	return nil
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Now()
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	return time.Now()
}
