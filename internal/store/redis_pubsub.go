package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker fans events out across API replicas through Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRedisBroker(redisURL string, logger *zap.SugaredLogger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisBroker{client: client, logger: logger}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.Errorw("Publish error", "channel", channel, "error", err)
		return fmt.Errorf("pubsub publish error: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) Subscription {
	ps := b.client.Subscribe(ctx, channels...)
	sub := &redisSubscription{
		ps:      ps,
		msgChan: make(chan *Message, 100),
		done:    make(chan struct{}),
	}
	go sub.pump(ctx)
	return sub
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps      *redis.PubSub
	msgChan chan *Message
	done    chan struct{}
	once    sync.Once
}

func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.msgChan)

	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.msgChan <- &Message{Channel: msg.Channel, Payload: msg.Payload}:
			default:
			}
		}
	}
}

func (s *redisSubscription) Channel() <-chan *Message {
	return s.msgChan
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
