package history

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// RedisSink appends lines to a Redis list with RPUSH, so LRANGE 0 -1 returns
// the log in order.
type RedisSink struct {
	client *redis.Client
	key    string
	closed atomic.Bool
}

// NewRedisSink wraps an existing client. The sink owns the client and closes
// it on Close.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	sink := history.NewRedisSink(client, "chatrelay:history")
func NewRedisSink(client *redis.Client, key string) *RedisSink {
	return &RedisSink{client: client, key: key}
}

// DialRedis connects to addr and verifies the server answers PING.
func DialRedis(ctx context.Context, addr, key string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return NewRedisSink(client, key), nil
}

// Append implements Sink.
func (s *RedisSink) Append(ctx context.Context, line string) error {
	if s.closed.Load() {
		return writeError(ErrClosed)
	}

	if err := s.client.RPush(ctx, s.key, line).Err(); err != nil {
		return writeError(err)
	}

	return nil
}

// Lines implements Reader.
func (s *RedisSink) Lines(ctx context.Context) ([]string, error) {
	lines, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", s.key, err)
	}

	return lines, nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	return s.client.Close()
}
