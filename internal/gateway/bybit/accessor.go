package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"quantgate/internal/domain"
	"quantgate/internal/gateway"
)

const (
	klinePageLimit   = 200
	maxRateAttempts  = 3
	rateRetryBackoff = 500 * time.Millisecond

	// Bybit ret_code for "too many visits".
	retCodeRateLimit = 10006
)

// accessor performs authenticated synchronous REST calls against Bybit's
// linear (USDT-perpetual) API. Stateless between calls except for the signing
// credentials and the request pacer.
type accessor struct {
	key          string
	secret       string
	baseURL      string
	positionMode domain.PositionMode
	httpClient   *http.Client
	limiter      *rate.Limiter
}

func newAccessor(setting gateway.Setting) *accessor {
	base := restHost
	if setting.Server == domain.ServerTestnet {
		base = testnetRESTHost
	}

	transport := &http.Transport{}
	if setting.ProxyHost != "" {
		proxy := &url.URL{
			Scheme: "http",
			Host:   fmt.Sprintf("%s:%d", setting.ProxyHost, setting.ProxyPort),
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &accessor{
		key:          setting.Key,
		secret:       setting.Secret,
		baseURL:      base,
		positionMode: setting.PositionMode,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
		// 600 requests/min shared across all endpoints.
		limiter: rate.NewLimiter(rate.Every(time.Minute/600), 10),
	}
}

type envelope struct {
	RetCode int             `json:"ret_code"`
	RetMsg  string          `json:"ret_msg"`
	Result  json.RawMessage `json:"result"`
}

// do performs one call with rate-limit retries. Network-level failures are
// retried once for idempotent GETs and never for anything else.
func (a *accessor) do(method, path string, params url.Values, signed bool) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < maxRateAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(rateRetryBackoff << (attempt - 1))
		}

		body, status, err := a.roundTrip(method, path, params, signed)
		if err != nil {
			if method == http.MethodGet && attempt == 0 {
				lastErr = err
				continue
			}
			return nil, err
		}

		// Throttle responses may come from a proxy with a non-JSON body, so
		// the status decides before the envelope is decoded.
		if status == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("bybit %s: status %d: %s", path, status, strings.TrimSpace(string(body)))
			continue
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("bybit %s: decode response: %w", path, err)
		}

		if env.RetCode == retCodeRateLimit {
			lastErr = fmt.Errorf("bybit %s: ret_code %d: %s", path, env.RetCode, env.RetMsg)
			continue
		}
		if status >= 300 {
			return nil, fmt.Errorf("bybit %s: status %d: %s", path, status, string(body))
		}
		if env.RetCode != 0 {
			return nil, fmt.Errorf("bybit %s: ret_code %d: %s", path, env.RetCode, env.RetMsg)
		}
		return env.Result, nil
	}
	return nil, gateway.RateLimitError(path, lastErr)
}

func (a *accessor) roundTrip(method, path string, params url.Values, signed bool) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("api_key", a.key)
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("sign", a.sign(params))
	}

	var req *http.Request
	var err error
	endpoint := a.baseURL + path
	switch method {
	case http.MethodGet:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, 0, err
	}

	res, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, res.StatusCode, nil
}

// sign builds the Bybit v2 signature: parameters sorted by key, concatenated
// as a query string, HMAC-SHA256 with the account secret.
func (a *accessor) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params.Get(k))
	}

	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// placeOrder submits one order, tagging it with the gateway-local id so the
// private stream can echo it back. Returns the exchange order id.
func (a *accessor) placeOrder(req domain.OrderRequest, localID string) (string, error) {
	side, ok := directionToNative[req.Direction]
	if !ok {
		return "", gateway.NormalizationError("direction", string(req.Direction))
	}
	ordType, ok := orderTypeToNative[req.Type]
	if !ok {
		return "", gateway.NormalizationError("order type", string(req.Type))
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", side)
	params.Set("order_type", ordType)
	params.Set("qty", formatFloat(req.Volume))
	params.Set("time_in_force", "GoodTillCancel")
	params.Set("reduce_only", "false")
	params.Set("close_on_trigger", "false")
	params.Set("order_link_id", localID)
	params.Set("position_idx", a.positionIdx(req.Direction))
	if req.Type == domain.OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
	}

	result, err := a.do(http.MethodPost, "/private/linear/order/create", params, true)
	if err != nil {
		return "", err
	}

	var resp struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", fmt.Errorf("decode order create: %w", err)
	}
	return resp.OrderID, nil
}

func (a *accessor) positionIdx(d domain.Direction) string {
	if a.positionMode != domain.PositionBothSide {
		return "0"
	}
	if d == domain.DirectionLong {
		return "1"
	}
	return "2"
}

// cancelOrder cancels by the gateway-local id.
func (a *accessor) cancelOrder(req domain.CancelRequest) error {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("order_link_id", req.OrderID)
	_, err := a.do(http.MethodPost, "/private/linear/order/cancel", params, true)
	return err
}

// querySymbols fetches the USDT-perpetual instrument list.
func (a *accessor) querySymbols() ([]domain.ContractData, error) {
	result, err := a.do(http.MethodGet, "/v2/public/symbols", nil, false)
	if err != nil {
		return nil, err
	}

	var symbols []struct {
		Name          string `json:"name"`
		QuoteCurrency string `json:"quote_currency"`
		Status        string `json:"status"`
		PriceFilter   struct {
			TickSize any `json:"tick_size"`
		} `json:"price_filter"`
		LotSizeFilter struct {
			MinTradingQty any `json:"min_trading_qty"`
		} `json:"lot_size_filter"`
	}
	if err := json.Unmarshal(result, &symbols); err != nil {
		return nil, fmt.Errorf("decode symbols: %w", err)
	}

	contracts := make([]domain.ContractData, 0, len(symbols))
	for _, s := range symbols {
		if s.QuoteCurrency != "USDT" || s.Status != "Trading" {
			continue
		}
		contracts = append(contracts, domain.ContractData{
			Exchange:   exchangeName,
			Symbol:     s.Name,
			Name:       s.Name,
			Product:    "linear",
			PriceTick:  toFloat(s.PriceFilter.TickSize),
			MinVolume:  toFloat(s.LotSizeFilter.MinTradingQty),
			Multiplier: 1,
		})
	}
	return contracts, nil
}

// queryHistory drains the kline endpoint page by page until the requested
// range is covered, returning one time-ordered sequence without duplicates.
func (a *accessor) queryHistory(req domain.HistoryRequest) ([]domain.BarData, error) {
	native, err := formatInterval(req.Interval)
	if err != nil {
		return nil, err
	}
	step := req.Interval.Duration()
	if step <= 0 {
		return nil, gateway.NormalizationError("interval", string(req.Interval))
	}

	var bars []domain.BarData
	from := req.Start.Unix()
	end := req.End.Unix()

	for from <= end {
		params := url.Values{}
		params.Set("symbol", req.Symbol)
		params.Set("interval", native)
		params.Set("from", strconv.FormatInt(from, 10))
		params.Set("limit", strconv.Itoa(klinePageLimit))

		result, err := a.do(http.MethodGet, "/public/linear/kline", params, false)
		if err != nil {
			return nil, err
		}

		var rows []struct {
			OpenTime int64 `json:"open_time"`
			Open     any   `json:"open"`
			High     any   `json:"high"`
			Low      any   `json:"low"`
			Close    any   `json:"close"`
			Volume   any   `json:"volume"`
		}
		if err := json.Unmarshal(result, &rows); err != nil {
			return nil, fmt.Errorf("decode kline: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		last := from
		for _, r := range rows {
			if r.OpenTime > end {
				break
			}
			// Pages can overlap by one bar; keep timestamps strictly ascending.
			if len(bars) > 0 && !bars[len(bars)-1].Time.Before(time.Unix(r.OpenTime, 0)) {
				continue
			}
			bars = append(bars, domain.BarData{
				Exchange: exchangeName,
				Symbol:   req.Symbol,
				Interval: req.Interval,
				Time:     time.Unix(r.OpenTime, 0),
				Open:     toFloat(r.Open),
				High:     toFloat(r.High),
				Low:      toFloat(r.Low),
				Close:    toFloat(r.Close),
				Volume:   toFloat(r.Volume),
			})
			last = r.OpenTime
		}

		if len(rows) < klinePageLimit {
			break
		}
		next := last + int64(step/time.Second)
		if next <= from {
			break
		}
		from = next
	}
	return bars, nil
}

// queryAccount fetches wallet balances for all coins.
func (a *accessor) queryAccount() ([]domain.AccountData, error) {
	result, err := a.do(http.MethodGet, "/v2/private/wallet/balance", nil, true)
	if err != nil {
		return nil, err
	}

	var wallets map[string]struct {
		WalletBalance    any `json:"wallet_balance"`
		AvailableBalance any `json:"available_balance"`
	}
	if err := json.Unmarshal(result, &wallets); err != nil {
		return nil, fmt.Errorf("decode wallet balance: %w", err)
	}

	accounts := make([]domain.AccountData, 0, len(wallets))
	for coin, w := range wallets {
		balance := toFloat(w.WalletBalance)
		if balance == 0 {
			continue
		}
		accounts = append(accounts, domain.AccountData{
			Exchange:  exchangeName,
			AccountID: coin,
			Balance:   balance,
			Frozen:    balance - toFloat(w.AvailableBalance),
		})
	}
	return accounts, nil
}

// queryPositions fetches all open linear positions.
func (a *accessor) queryPositions() ([]domain.PositionData, error) {
	result, err := a.do(http.MethodGet, "/private/linear/position/list", nil, true)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Data struct {
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			Size        any    `json:"size"`
			EntryPrice  any    `json:"entry_price"`
			RealisedPnl any    `json:"realised_pnl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, fmt.Errorf("decode position list: %w", err)
	}

	positions := make([]domain.PositionData, 0, len(rows))
	for _, r := range rows {
		size := toFloat(r.Data.Size)
		if size == 0 {
			continue
		}
		direction, err := parseDirection(r.Data.Side)
		if err != nil {
			continue // unmapped side, skip the record
		}
		positions = append(positions, domain.PositionData{
			Exchange:  exchangeName,
			Symbol:    r.Data.Symbol,
			Direction: direction,
			Volume:    size,
			Price:     toFloat(r.Data.EntryPrice),
			PnL:       toFloat(r.Data.RealisedPnl),
		})
	}
	return positions, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}
