package bybit

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quantgate/internal/gateway"
)

const (
	pingInterval         = 20 * time.Second
	readTimeout          = 40 * time.Second
	writeTimeout         = 5 * time.Second
	maxReconnectAttempts = 5
	maxReconnectBackoff  = 30 * time.Second
	stopGracePeriod      = 5 * time.Second
)

// wsRequest is the frame shape Bybit accepts for op messages.
type wsRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

// wsListener owns one logical streaming connection and its subscription
// list. It replays subscriptions after every (re)connect and answers
// heartbeats without surfacing them. The read loop runs in its own
// goroutine so a stall never blocks another channel.
type wsListener struct {
	name    string
	url     string
	dialer  *websocket.Dialer
	onFrame func(msg []byte)
	onAuth  func(send func(v any) error) error // nil for public channels
	onUp    func()                             // successful reconnect, delivery gap possible
	onDown  func(err error)                    // reconnect budget exhausted

	mu       sync.Mutex
	conn     *websocket.Conn
	topics   []string // registration order, replayed on reconnect
	topicSet map[string]struct{}
	started  bool

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{} // run loop exited
}

func newWSListener(name, wsURL string, setting gateway.Setting, onFrame func([]byte)) *wsListener {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if setting.ProxyHost != "" {
		proxy := &url.URL{
			Scheme: "http",
			Host:   fmt.Sprintf("%s:%d", setting.ProxyHost, setting.ProxyPort),
		}
		dialer.Proxy = http.ProxyURL(proxy)
	}
	return &wsListener{
		name:     name,
		url:      wsURL,
		dialer:   dialer,
		onFrame:  onFrame,
		topicSet: make(map[string]struct{}),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// start dials and begins streaming. Idempotent.
func (l *wsListener) start() error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.dial(); err != nil {
		return gateway.ConnectivityError(l.name, err)
	}

	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
	go l.run()
	return nil
}

// subscribe registers a topic and, if connected, sends the subscription now.
// Registered topics survive reconnects.
func (l *wsListener) subscribe(topic string) {
	l.mu.Lock()
	if _, ok := l.topicSet[topic]; ok {
		l.mu.Unlock()
		return
	}
	l.topicSet[topic] = struct{}{}
	l.topics = append(l.topics, topic)
	connected := l.conn != nil
	l.mu.Unlock()

	if connected {
		if err := l.send(wsRequest{Op: "subscribe", Args: []any{topic}}); err != nil {
			log.Printf("%s listener: subscribe %s: %v", l.name, topic, err)
		}
	}
}

// stop unblocks the read loop and waits out the grace period.
func (l *wsListener) stop() {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.mu.Lock()
		if l.conn != nil {
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			_ = l.conn.Close()
		}
		started := l.started
		l.mu.Unlock()

		if started {
			select {
			case <-l.done:
			case <-time.After(stopGracePeriod):
				log.Printf("%s listener: stop grace period elapsed", l.name)
			}
		}
	})
}

func (l *wsListener) send(v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return fmt.Errorf("%s listener: not connected", l.name)
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteJSON(v)
}

// dial opens the connection, runs the auth handshake if any, and replays all
// registered subscriptions.
func (l *wsListener) dial() error {
	conn, _, err := l.dialer.Dial(l.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.url, err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	l.mu.Lock()
	l.conn = conn
	topics := append([]string(nil), l.topics...)
	l.mu.Unlock()

	if l.onAuth != nil {
		if err := l.onAuth(l.send); err != nil {
			_ = conn.Close()
			return fmt.Errorf("%s auth: %w", l.name, err)
		}
	}
	if len(topics) > 0 {
		args := make([]any, len(topics))
		for i, t := range topics {
			args[i] = t
		}
		if err := l.send(wsRequest{Op: "subscribe", Args: args}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("%s resubscribe: %w", l.name, err)
		}
	}
	return nil
}

// run reads frames until stopped, reconnecting with exponential backoff. The
// reconnect budget resets after each successful dial; once exhausted the
// fatal connectivity error is surfaced through onDown.
func (l *wsListener) run() {
	defer close(l.done)
	go l.pingLoop()

	for {
		err := l.readLoop()
		if l.isClosed() {
			return
		}
		log.Printf("%s listener: connection lost: %v", l.name, err)
		if !l.reconnect(err) {
			return
		}
	}
}

func (l *wsListener) readLoop() error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%s listener: no connection", l.name)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if isControlFrame(msg) {
			continue
		}
		l.onFrame(msg)
	}
}

func (l *wsListener) reconnect(cause error) bool {
	backoff := time.Second
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-l.closed:
			return false
		case <-time.After(backoff):
		}
		if backoff < maxReconnectBackoff {
			backoff *= 2
		}

		if err := l.dial(); err != nil {
			cause = err
			log.Printf("%s listener: reconnect attempt %d/%d failed: %v",
				l.name, attempt, maxReconnectAttempts, err)
			continue
		}
		log.Printf("%s listener: reconnected, %d topic(s) replayed", l.name, len(l.topics))
		// Frames sent while the connection was down are gone; the owner must
		// hear about the gap so it can reconcile from REST.
		if l.onUp != nil {
			l.onUp()
		}
		return true
	}
	if l.onDown != nil {
		l.onDown(gateway.ConnectivityError(l.name, cause))
	}
	return false
}

// pingLoop keeps the application-level heartbeat going for the lifetime of
// the listener; Bybit drops connections silent for more than 30 seconds.
func (l *wsListener) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.closed:
			return
		case <-l.done: // run loop gave up, nothing left to keep alive
			return
		case <-ticker.C:
			if err := l.send(wsRequest{Op: "ping"}); err != nil {
				// Connection is down; the read loop owns recovery.
				continue
			}
		}
	}
}

func (l *wsListener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// isControlFrame reports whether msg is a pong or a subscribe/auth ack, none
// of which become domain events.
func isControlFrame(msg []byte) bool {
	var probe struct {
		RetMsg  string          `json:"ret_msg"`
		Success *bool           `json:"success"`
		Topic   json.RawMessage `json:"topic"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return false
	}
	if len(probe.Topic) > 0 {
		return false
	}
	return probe.RetMsg != "" || probe.Success != nil
}
