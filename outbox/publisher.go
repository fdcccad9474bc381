package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// LogPublisher writes each event to the logger. It is the publisher used when
// no stream is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.log.InfoContext(ctx, "event", "topic", topic, "payload", string(payload))
	return nil
}

// StreamAdder is the subset of a redis client the stream publisher uses.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisPublisher appends events to a Redis stream capped at MaxLen entries.
type RedisPublisher struct {
	client StreamAdder
	stream string
	maxLen int64
}

func NewRedisPublisher(client StreamAdder, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{"topic": topic, "payload": string(payload)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("outbox: xadd %s: %w", p.stream, err)
	}
	return nil
}

// Connect builds a redis client from a redis:// URL or a bare host:port.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("outbox: parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("outbox: ping redis: %w", err)
	}
	return client, nil
}
