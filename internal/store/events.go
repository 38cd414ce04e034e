package store

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Events publishes domain events as JSON. Publishing is best effort: a
// failure is logged and never surfaces to the request that caused it.
type Events struct {
	broker Broker
	logger *zap.SugaredLogger
}

func NewEvents(broker Broker, logger *zap.SugaredLogger) *Events {
	return &Events{broker: broker, logger: logger}
}

type envelope struct {
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

func (e *Events) Publish(ctx context.Context, channel string, data interface{}) {
	if e == nil || e.broker == nil {
		return
	}
	payload, err := json.Marshal(envelope{Data: data, Timestamp: time.Now().Unix()})
	if err != nil {
		e.logger.Warnw("Failed to marshal event", "channel", channel, "error", err)
		return
	}
	if err := e.broker.Publish(ctx, channel, payload); err != nil {
		e.logger.Warnw("Failed to publish event", "channel", channel, "error", err)
	}
}
