package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const notifyPrefix = "blackboard:update:"

// RedisStore keeps each key in a hash holding the JSON value and its
// version, and announces writes on "blackboard:update:<key>".
type RedisStore struct {
	mu      sync.Mutex
	client  *redis.Client
	options *redis.Options
	logger  *slog.Logger
}

// NewRedisStore returns a new RedisStore with given options.
func NewRedisStore(opts *redis.Options, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client:  redis.NewClient(opts),
		options: opts,
		logger:  logger.With("component", "blackboard"),
	}
}

// connLocked pings Redis and reconnects if needed. Callers hold s.mu.
func (s *RedisStore) connLocked(ctx context.Context) *redis.Client {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("reconnecting to redis", "error", err)
		_ = s.client.Close()
		s.client = redis.NewClient(s.options)
	}
	return s.client
}

func (s *RedisStore) conn(ctx context.Context) *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connLocked(ctx)
}

// Put stores a value with optional TTL and returns the new version.
func (s *RedisStore) Put(ctx context.Context, key string, value any, ttl time.Duration) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	client := s.connLocked(ctx)

	var ver int64
	err = client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		ver = cur + 1
		pipe := tx.TxPipeline()
		pipe.HSet(ctx, key, "value", data, "version", ver)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, err = pipe.Exec(ctx)
		return err
	}, key)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	s.announce(ctx, client, Update{Key: key, Version: ver, Value: value})
	return ver, nil
}

// PutVersioned implements latest-version-wins writes.
func (s *RedisStore) PutVersioned(ctx context.Context, key string, version int64, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	client := s.connLocked(ctx)

	written := false
	err = client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur >= version {
			return nil
		}
		pipe := tx.TxPipeline()
		pipe.HSet(ctx, key, "value", data, "version", version)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		written = true
		return nil
	}, key)
	if err != nil {
		return false, fmt.Errorf("put %s@%d: %w", key, version, err)
	}
	if written {
		s.announce(ctx, client, Update{Key: key, Version: version, Value: value})
	}
	return written, nil
}

func currentVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	cur, err := tx.HGet(ctx, key, "version").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return cur, err
}

func (s *RedisStore) announce(ctx context.Context, client *redis.Client, upd Update) {
	payload, err := json.Marshal(upd)
	if err != nil {
		return
	}
	if err := client.Publish(ctx, notifyPrefix+upd.Key, payload).Err(); err != nil {
		s.logger.Warn("update notification failed", "key", upd.Key, "error", err)
	}
}

// Get retrieves a value and its version. A missing key yields a nil value
// and version 0.
func (s *RedisStore) Get(ctx context.Context, key string) (any, int64, error) {
	res, err := s.conn(ctx).HGetAll(ctx, key).Result()
	if err != nil || len(res) == 0 {
		return nil, 0, err
	}
	var v any
	if err := json.Unmarshal([]byte(res["value"]), &v); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	ver, err := parseInt(res["version"])
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s version: %w", key, err)
	}
	return v, ver, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// Watch subscribes to updates of keys matching a glob pattern. The channel
// closes when ctx is done.
func (s *RedisStore) Watch(ctx context.Context, pattern string) (<-chan Update, error) {
	pubsub := s.conn(ctx).PSubscribe(ctx, notifyPrefix+pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("watch %s: %w", pattern, err)
	}
	ch := make(chan Update)
	go func() {
		defer close(ch)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				s.logger.Warn("watch receive failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			var upd Update
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				continue
			}
			select {
			case ch <- upd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Delete removes a key from the store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.conn(ctx).Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}
