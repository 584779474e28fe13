package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeliversCardToWebhook(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(raw, &payload))
		mu.Lock()
		bodies = append(bodies, payload)
		mu.Unlock()
	}))
	defer srv.Close()

	n := New(srv.URL, 10)
	n.Push(Message{Severity: SeverityError, Title: "channel down", Text: "private stream lost"})
	n.Stop() // drains the queue before returning

	require.Len(t, bodies, 1)
	require.Equal(t, "interactive", bodies[0]["msg_type"])
	card := bodies[0]["card"].(map[string]any)
	header := card["header"].(map[string]any)
	require.Equal(t, "red", header["template"])
	title := header["title"].(map[string]any)
	require.Equal(t, "channel down", title["content"])
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	release := make(chan struct{})
	var delivered int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	}))
	defer srv.Close()

	n := New(srv.URL, 1)
	// First message occupies the worker, second fills the queue, the rest drop.
	for i := 0; i < 5; i++ {
		n.Push(Message{Severity: SeverityInfo, Title: "msg"})
	}
	close(release)
	n.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, delivered, 2)
	require.GreaterOrEqual(t, delivered, 1)
}

func TestStopIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	n := New(srv.URL, 1)
	n.Stop()
	n.Stop()
}

func TestUnknownSeverityFallsBackToGrey(t *testing.T) {
	card := buildCard(Message{Severity: Severity("debug"), Title: "t", Text: "x"})
	header := card["card"].(map[string]any)["header"].(map[string]any)
	require.Equal(t, "grey", header["template"])
}
