package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"quantgate/internal/domain"
	"quantgate/internal/gateway"
)

var upgrader = websocket.Upgrader{}

// wsTestServer runs serve for every accepted connection.
func wsTestServer(t *testing.T, serve func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serve(conn)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func readRequest(t *testing.T, conn *websocket.Conn) wsRequest {
	t.Helper()
	var req wsRequest
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&req))
	return req
}

func TestListenerReplaysSubscriptionsOnConnect(t *testing.T) {
	subs := make(chan wsRequest, 1)
	frames := make(chan []byte, 1)

	srv, wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		subs <- readRequest(t, conn)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"topic":"trade.BTCUSDT","data":[]}`)))
		select {} // hold the connection open
	})
	defer srv.Close()

	l := newWSListener("test", wsURL, gateway.Setting{}, func(msg []byte) {
		select {
		case frames <- msg:
		default:
		}
	})
	l.subscribe("trade.BTCUSDT")
	require.NoError(t, l.start())
	defer l.stop()

	select {
	case req := <-subs:
		require.Equal(t, "subscribe", req.Op)
		require.Equal(t, []any{"trade.BTCUSDT"}, req.Args)
	case <-time.After(3 * time.Second):
		t.Fatal("no subscription replayed on connect")
	}

	select {
	case msg := <-frames:
		require.Contains(t, string(msg), "trade.BTCUSDT")
	case <-time.After(3 * time.Second):
		t.Fatal("data frame not surfaced")
	}
}

func TestListenerDropsControlFrames(t *testing.T) {
	frames := make(chan []byte, 8)
	srv, wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		for _, msg := range []string{
			`{"ret_msg":"pong","success":true}`,
			`{"success":true,"request":{"op":"subscribe"}}`,
			`{"topic":"trade.BTCUSDT","data":[]}`,
		} {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		}
		select {}
	})
	defer srv.Close()

	l := newWSListener("test", wsURL, gateway.Setting{}, func(msg []byte) { frames <- msg })
	require.NoError(t, l.start())
	defer l.stop()

	select {
	case msg := <-frames:
		require.Contains(t, string(msg), `"topic":"trade.BTCUSDT"`)
	case <-time.After(3 * time.Second):
		t.Fatal("data frame not surfaced")
	}
	select {
	case msg := <-frames:
		t.Fatalf("control frame surfaced: %s", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestListenerReconnectsAndResubscribes(t *testing.T) {
	subs := make(chan wsRequest, 2)
	var connections int

	srv, wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		connections++
		subs <- readRequest(t, conn)
		if connections == 1 {
			conn.Close() // force an unexpected disconnect
			return
		}
		select {}
	})
	defer srv.Close()

	ups := make(chan struct{}, 2)
	l := newWSListener("test", wsURL, gateway.Setting{}, func([]byte) {})
	l.onUp = func() { ups <- struct{}{} }
	l.subscribe("orderBookL2_25.BTCUSDT")
	require.NoError(t, l.start())
	defer l.stop()

	for i := 0; i < 2; i++ {
		select {
		case req := <-subs:
			require.Equal(t, "subscribe", req.Op)
			require.Equal(t, []any{"orderBookL2_25.BTCUSDT"}, req.Args)
		case <-time.After(10 * time.Second):
			t.Fatalf("subscription %d not observed", i+1)
		}
	}

	// The recovery must be signalled, not just logged.
	select {
	case <-ups:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect not signalled through onUp")
	}
	require.Empty(t, ups, "onUp fired more than once for a single reconnect")
}

func TestPingLoopStopsWhenRunLoopExits(t *testing.T) {
	l := newWSListener("test", "ws://127.0.0.1:0", gateway.Setting{}, func([]byte) {})

	exited := make(chan struct{})
	go func() {
		l.pingLoop()
		close(exited)
	}()

	close(l.done) // what run does when the reconnect budget is exhausted
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("ping loop outlived the run loop")
	}
}

func TestListenerStopUnblocksRead(t *testing.T) {
	srv, wsURL := wsTestServer(t, func(conn *websocket.Conn) { select {} })
	defer srv.Close()

	l := newWSListener("test", wsURL, gateway.Setting{}, func([]byte) {})
	require.NoError(t, l.start())

	done := make(chan struct{})
	go func() {
		l.stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGracePeriod + time.Second):
		t.Fatal("stop did not return within the grace period")
	}
}

func TestPrivateListenerAuthHandshake(t *testing.T) {
	type authArgs struct {
		key     string
		expires int64
		sig     string
	}
	authCh := make(chan authArgs, 1)
	orderCh := make(chan domain.OrderData, 1)

	srv, wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		auth := readRequest(t, conn)
		require.Equal(t, "auth", auth.Op)
		require.Len(t, auth.Args, 3)
		expires := int64(auth.Args[1].(float64))
		authCh <- authArgs{
			key:     auth.Args[0].(string),
			expires: expires,
			sig:     auth.Args[2].(string),
		}

		sub := readRequest(t, conn)
		require.Equal(t, "subscribe", sub.Op)
		require.Equal(t, []any{"order", "execution", "position", "wallet"}, sub.Args)

		frame := map[string]any{
			"topic": "order",
			"data": []map[string]any{{
				"order_id":      "ex-1",
				"order_link_id": "local-1",
				"symbol":        "BTCUSDT",
				"side":          "Buy",
				"order_type":    "Limit",
				"price":         "10000",
				"qty":           "1",
				"cum_exec_qty":  "0",
				"order_status":  "New",
			}},
		}
		raw, _ := json.Marshal(frame)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
		select {}
	})
	defer srv.Close()

	setting := gateway.Setting{Key: "api-key", Secret: "api-secret"}
	p := newPrivateListener(setting,
		func(o domain.OrderData) { orderCh <- o },
		func(domain.TradeData) {},
		func(domain.PositionData) {},
		func(domain.AccountData) {},
		nil, nil,
	)
	p.ws.url = wsURL
	require.NoError(t, p.start())
	defer p.stop()

	select {
	case auth := <-authCh:
		require.Equal(t, "api-key", auth.key)
		mac := hmac.New(sha256.New, []byte("api-secret"))
		mac.Write([]byte("GET/realtime" + strconv.FormatInt(auth.expires, 10)))
		require.Equal(t, hex.EncodeToString(mac.Sum(nil)), auth.sig)
	case <-time.After(3 * time.Second):
		t.Fatal("auth handshake not observed")
	}

	select {
	case o := <-orderCh:
		require.Equal(t, "local-1", o.OrderID)
		require.Equal(t, "ex-1", o.ExchangeID)
		require.Equal(t, domain.StatusNotTraded, o.Status)
		require.Equal(t, domain.DirectionLong, o.Direction)
	case <-time.After(3 * time.Second):
		t.Fatal("order frame not decoded")
	}
}
