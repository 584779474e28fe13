// Package notify delivers fire-and-forget alert messages to a Lark-style
// webhook. Messages queue on a bounded channel drained by one worker; when
// the queue is full the message is dropped and logged, never blocking the
// caller.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Severity keys the alert's card color.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

var severityColor = map[Severity]string{
	SeverityInfo:  "blue",
	SeverityWarn:  "yellow",
	SeverityError: "red",
}

// Message is one alert.
type Message struct {
	Severity Severity
	Title    string
	Text     string
}

// Notifier posts messages to a webhook from a single worker goroutine.
type Notifier struct {
	url        string
	httpClient *http.Client
	queue      chan Message
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// New starts the delivery worker. queueSize <= 0 selects 1000.
func New(url string, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = 1000
	}
	n := &Notifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan Message, queueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Push enqueues a message. A full queue drops the message and logs it.
func (n *Notifier) Push(msg Message) {
	select {
	case n.queue <- msg:
	default:
		log.Printf("notify: queue full, discard message %q", msg.Title)
	}
}

// Stop drains the queue and joins the worker.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.queue)
		n.wg.Wait()
	})
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for msg := range n.queue {
		if err := n.deliver(msg); err != nil {
			log.Printf("notify: deliver %q: %v", msg.Title, err)
		}
	}
}

func (n *Notifier) deliver(msg Message) error {
	payload := buildCard(msg)
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res, err := n.httpClient.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", res.StatusCode)
	}
	return nil
}

// buildCard renders the interactive-card webhook payload.
func buildCard(msg Message) map[string]any {
	color, ok := severityColor[msg.Severity]
	if !ok {
		color = "grey"
	}
	return map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"header": map[string]any{
				"title":    map[string]any{"tag": "plain_text", "content": msg.Title},
				"template": color,
			},
			"elements": []any{
				map[string]any{"tag": "markdown", "content": msg.Text},
			},
		},
	}
}
