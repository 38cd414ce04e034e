package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/log"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/store"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, "lead.created", Topic(store.ChannelLeadCreated))
	assert.Equal(t, "plain", Topic("plain"))
	assert.Contains(t, Topics(), "pageview")
	assert.Equal(t, map[string]bool{"*": true}, parseTopics(" , "))
	assert.Equal(t, map[string]bool{"pageview": true, "lead.created": true}, parseTopics("pageview, lead.created"))
}

func startHub(t *testing.T) (*Hub, *store.Events, *httptest.Server) {
	t.Helper()
	broker := store.NewMemoryBroker()
	hub := NewHub(broker, []string{"https://admin.example"}, log.Nop(), metrics.NewNoop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "admin-1")
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = broker.Close()
	})
	return hub, store.NewEvents(broker, log.Nop()), srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversSubscribedTopics(t *testing.T) {
	hub, events, srv := startHub(t)
	leadsOnly := dial(t, srv, "/?topics=lead.created")
	everything := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	events.Publish(ctx, store.ChannelPageView, map[string]string{"path": "/"})
	events.Publish(ctx, store.ChannelLeadCreated, map[string]string{"id": "lead-1"})

	read := func(conn *websocket.Conn) Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	got := read(leadsOnly)
	assert.Equal(t, "lead.created", got.Topic)
	var env struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got.Data, &env))
	assert.Equal(t, "lead-1", env.Data["id"])

	assert.Equal(t, "pageview", read(everything).Topic)
	assert.Equal(t, "lead.created", read(everything).Topic)
}

func TestHubSubscriptionMessages(t *testing.T) {
	hub, events, srv := startHub(t)
	conn := dial(t, srv, "/?topics=pageview")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(SubscriptionRequest{Type: "subscribe", Topics: []string{"post.published"}}))
	require.NoError(t, conn.WriteJSON(SubscriptionRequest{Type: "unsubscribe", Topics: []string{"pageview"}}))

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return c.isSubscribed("post.published") && !c.isSubscribed("pageview")
		}
		return false
	}, time.Second, 10*time.Millisecond)

	events.Publish(context.Background(), store.ChannelPageView, map[string]string{})
	events.Publish(context.Background(), store.ChannelPostPublished, map[string]string{"slug": "x"})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "post.published", msg.Topic)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, _, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSSEStreamsEvents(t *testing.T) {
	broker := store.NewMemoryBroker()
	defer broker.Close()
	srv := httptest.NewServer(NewSSEHandler(broker, log.Nop()))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?topics=lead.created", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	events := store.NewEvents(broker, log.Nop())
	done := make(chan string, 1)
	go func() {
		for {
			l, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(l, "event: lead.created") {
				done <- l
				return
			}
		}
	}()
	// The subscription is registered right after the connected frame.
	require.Eventually(t, func() bool {
		events.Publish(context.Background(), store.ChannelLeadCreated, map[string]string{"id": "1"})
		select {
		case <-done:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
