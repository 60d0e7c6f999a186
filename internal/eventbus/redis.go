package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"go-agent-coordinator/internal/tracer"
)

// RedisBus implements Bus using Redis pub/sub with automatic reconnection.
type RedisBus struct {
	mu            sync.Mutex
	client        *redis.Client
	options       *redis.Options
	subscriptions map[string]*redis.PubSub
	logger        *slog.Logger
}

// NewRedisBus creates a Redis-backed bus using the given options.
func NewRedisBus(opts *redis.Options, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		client:        redis.NewClient(opts),
		options:       opts,
		subscriptions: make(map[string]*redis.PubSub),
		logger:        logger.With("component", "eventbus"),
	}
}

// conn pings the server and swaps in a fresh client if it is unreachable.
func (b *RedisBus) conn(ctx context.Context) *redis.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connLocked(ctx)
}

func (b *RedisBus) connLocked(ctx context.Context) *redis.Client {
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.logger.Warn("reconnecting to redis", "error", err)
		_ = b.client.Close()
		b.client = redis.NewClient(b.options)
	}
	return b.client
}

// Publish sends rec to topic as JSON.
func (b *RedisBus) Publish(ctx context.Context, topic string, rec tracer.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	if err := b.conn(ctx).Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// pump decodes messages from pubsub until ctx is done.
func (b *RedisBus) pump(ctx context.Context, pubsub *redis.PubSub) <-chan tracer.Record {
	ch := make(chan tracer.Record)
	go func() {
		defer close(ch)
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				b.logger.Warn("receive failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			var rec tracer.Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				b.logger.Debug("skipping undecodable message", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case ch <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (b *RedisBus) subscribe(ctx context.Context, key string, open func(*redis.Client) *redis.PubSub) (<-chan tracer.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps := open(b.connLocked(ctx))
	// Wait for the confirmation so nothing published after we return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}
	if old, ok := b.subscriptions[key]; ok {
		_ = old.Close()
	}
	b.subscriptions[key] = ps
	return b.pump(ctx, ps), nil
}

// Subscribe listens for records on a topic.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan tracer.Record, error) {
	return b.subscribe(ctx, topic, func(c *redis.Client) *redis.PubSub { return c.Subscribe(ctx, topic) })
}

// SubscribePattern listens for records on every topic matching pattern.
func (b *RedisBus) SubscribePattern(ctx context.Context, pattern string) (<-chan tracer.Record, error) {
	return b.subscribe(ctx, pattern, func(c *redis.Client) *redis.PubSub { return c.PSubscribe(ctx, pattern) })
}

// Unsubscribe stops listening on a topic or pattern.
func (b *RedisBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps, ok := b.subscriptions[topic]
	if !ok {
		return nil
	}
	delete(b.subscriptions, topic)
	return ps.Close()
}

// Close terminates all subscriptions and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ps := range b.subscriptions {
		_ = ps.Close()
	}
	b.subscriptions = make(map[string]*redis.PubSub)
	return b.client.Close()
}
