package bybit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"quantgate/internal/domain"
	"quantgate/internal/gateway"
)

func newTestMarketListener() (*marketListener, *[]domain.TickData, *[]domain.DepthData) {
	ticks := &[]domain.TickData{}
	depths := &[]domain.DepthData{}
	m := newMarketListener(gateway.Setting{},
		func(t domain.TickData) { *ticks = append(*ticks, t) },
		func(d domain.DepthData) { *depths = append(*depths, d) },
		nil, nil,
	)
	return m, ticks, depths
}

func TestTradeFrameUpdatesTick(t *testing.T) {
	m, ticks, _ := newTestMarketListener()

	m.onFrame([]byte(`{"topic":"trade.BTCUSDT","data":[
		{"symbol":"BTCUSDT","price":"41000.5","size":0.2,"trade_time_ms":1646092800000},
		{"symbol":"BTCUSDT","price":"41001","size":0.3,"trade_time_ms":1646092800100}
	]}`))

	require.Len(t, *ticks, 2)
	last := (*ticks)[1]
	require.Equal(t, 41001.0, last.LastPrice)
	require.Equal(t, 0.5, last.Volume) // trade sizes accumulate
	require.Equal(t, "BTCUSDT", last.Symbol)
	require.Equal(t, exchangeName, last.Exchange)
}

func TestInstrumentDeltaKeepsPriorFields(t *testing.T) {
	m, ticks, _ := newTestMarketListener()

	m.onFrame([]byte(`{"topic":"instrument_info.100ms.BTCUSDT","type":"snapshot","data":
		{"symbol":"BTCUSDT","last_price":"41000","bid1_price":"40999.5","ask1_price":"41000.5"}}`))
	m.onFrame([]byte(`{"topic":"instrument_info.100ms.BTCUSDT","type":"delta","data":
		{"update":[{"symbol":"BTCUSDT","last_price":"41002"}]}}`))

	require.Len(t, *ticks, 2)
	merged := (*ticks)[1]
	require.Equal(t, 41002.0, merged.LastPrice)
	// The delta carried no quotes; the snapshot values must survive.
	require.Equal(t, 40999.5, merged.BidPrice)
	require.Equal(t, 41000.5, merged.AskPrice)
}

func TestOrderBookSnapshotAndDelta(t *testing.T) {
	m, _, depths := newTestMarketListener()

	m.onFrame([]byte(`{"topic":"orderBookL2_25.BTCUSDT","type":"snapshot","data":{"order_book":[
		{"symbol":"BTCUSDT","price":"41000","side":"Buy","size":5},
		{"symbol":"BTCUSDT","price":"40999.5","side":"Buy","size":3},
		{"symbol":"BTCUSDT","price":"41000.5","side":"Sell","size":2}
	]}}`))

	require.Len(t, *depths, 1)
	d := (*depths)[0]
	require.Equal(t, [][2]float64{{41000, 5}, {40999.5, 3}}, d.Bids)
	require.Equal(t, [][2]float64{{41000.5, 2}}, d.Asks)

	m.onFrame([]byte(`{"topic":"orderBookL2_25.BTCUSDT","type":"delta","data":{
		"delete":[{"symbol":"BTCUSDT","price":"40999.5","side":"Buy"}],
		"update":[{"symbol":"BTCUSDT","price":"41000","side":"Buy","size":4}],
		"insert":[{"symbol":"BTCUSDT","price":"41001","side":"Sell","size":1}]
	}}`))

	require.Len(t, *depths, 2)
	d = (*depths)[1]
	require.Equal(t, [][2]float64{{41000, 4}}, d.Bids)
	require.Equal(t, [][2]float64{{41000.5, 2}, {41001, 1}}, d.Asks)
}

func TestOrderBookDeltaBeforeSnapshotIsIgnored(t *testing.T) {
	m, _, depths := newTestMarketListener()

	m.onFrame([]byte(`{"topic":"orderBookL2_25.ETHUSDT","type":"delta","data":{
		"update":[{"symbol":"ETHUSDT","price":"3000","side":"Buy","size":1}]}}`))

	require.Empty(t, *depths)
}

func TestMalformedMarketFrameIsDropped(t *testing.T) {
	m, ticks, depths := newTestMarketListener()

	m.onFrame([]byte(`{"topic":"trade.BTCUSDT","data":"not an array"}`))
	m.onFrame([]byte(`not json at all`))
	m.onFrame([]byte(`{"topic":"instrument_info.100ms.BTCUSDT","type":"mystery","data":{}}`))

	require.Empty(t, *ticks)
	require.Empty(t, *depths)
}
