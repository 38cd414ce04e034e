package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/store"
)

const heartbeatPeriod = 30 * time.Second

// SSEHandler streams the same admin feed as the hub for clients that cannot
// hold a websocket open.
type SSEHandler struct {
	broker store.Broker
	logger *zap.SugaredLogger
}

func NewSSEHandler(broker store.Broker, logger *zap.SugaredLogger) *SSEHandler {
	return &SSEHandler{broker: broker, logger: logger}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	topics := parseTopics(r.URL.Query().Get("topics"))
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writeEvent(w, flusher, "connected", "0", []byte(`{}`))
	if h.broker == nil {
		h.logger.Warnw("No event broker; SSE feed is idle")
		<-ctx.Done()
		return
	}
	sub := h.broker.Subscribe(ctx, store.EventChannels...)
	defer sub.Close()
	h.stream(ctx, w, flusher, sub.Channel(), topics)
}

func (h *SSEHandler) stream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ch <-chan *store.Message, topics map[string]bool) {
	heartbeat := time.NewTicker(heartbeatPeriod)
	defer heartbeat.Stop()

	var seq int64
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			writeEvent(w, flusher, "heartbeat", "ping", []byte(fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix())))

		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			topic, frame, err := encode(msg)
			if err != nil {
				h.logger.Warnw("Failed to encode SSE event", "channel", msg.Channel, "error", err)
				continue
			}
			if !topics[allTopics] && !topics[topic] {
				continue
			}
			seq++
			writeEvent(w, flusher, topic, fmt.Sprint(seq), frame)
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event, id string, data []byte) {
	fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", event, id, data)
	flusher.Flush()
}
